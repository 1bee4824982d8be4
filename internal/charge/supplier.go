package charge

import "strings"

// Supplier classifies what is feeding a port.
type Supplier uint8

const (
	SupplierNone Supplier = iota
	SupplierPD
	SupplierTypeC
	SupplierBC12DCP
	SupplierBC12CDP
	SupplierBC12SDP
	SupplierProprietary
	SupplierOther
	SupplierVBUS
)

var supplierNames = [...]string{
	SupplierNone:        "none",
	SupplierPD:          "pd",
	SupplierTypeC:       "typec",
	SupplierBC12DCP:     "bc12_dcp",
	SupplierBC12CDP:     "bc12_cdp",
	SupplierBC12SDP:     "bc12_sdp",
	SupplierProprietary: "proprietary",
	SupplierOther:       "other",
	SupplierVBUS:        "vbus",
}

func (s Supplier) String() string {
	if int(s) < len(supplierNames) {
		return supplierNames[s]
	}
	return "unknown"
}

// ParseSupplier maps a name back to a Supplier.
func ParseSupplier(name string) (Supplier, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range supplierNames {
		if n == name {
			return Supplier(i), true
		}
	}
	return SupplierNone, false
}

// bc12 reports whether the supplier was found by BC1.2 detection (or is an
// unclassified "other" source). These inputs need BC1.2 charging enabled
// and are the ones whose current may be ramped.
func (s Supplier) bc12() bool {
	switch s {
	case SupplierBC12DCP, SupplierBC12CDP, SupplierBC12SDP, SupplierOther:
		return true
	default:
		return false
	}
}
