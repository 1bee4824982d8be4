// Package tcpc provides drivers for Type-C port controllers that speak the
// TCPCI register interface. Each controller family is a variant behind the
// Driver interface, selected by Kind.
package tcpc

import (
	"errors"

	"tinygo.org/x/drivers"
)

// Kind names a controller family.
type Kind string

const (
	KindANX74xx Kind = "anx74xx"
	KindPS8xxx  Kind = "ps8xxx"
)

var (
	ErrUnknownKind    = errors.New("tcpc: unknown controller kind")
	ErrVendorMismatch = errors.New("tcpc: unexpected vendor id")
)

// Driver is the per-port controller contract used by the power sequencer
// and the port control task.
type Driver interface {
	Kind() Kind
	// Init brings a freshly reset controller to its working configuration.
	Init() error
	// Alert reads the TCPCI ALERT register.
	Alert() (uint16, error)
	// ClearAlert acknowledges the given ALERT bits (write-1-to-clear).
	ClearAlert(mask uint16) error
	// EnterLowPower parks the controller until a cable event wakes it.
	EnterLowPower() error
}

// CableWaker is implemented by variants whose cable-detect pin can wake a
// controller that has been powered down. Such a controller may be parked
// with its rail off instead of idling on I2C.
type CableWaker interface {
	WakesOnCable() bool
}

// RegVendorID is the TCPCI VENDOR_ID register, a little-endian word.
const RegVendorID = regVendorID

// VendorID returns the VENDOR_ID register value kind reports.
func VendorID(kind Kind) (uint16, bool) {
	switch kind {
	case KindANX74xx:
		return vendorAnalogix, true
	case KindPS8xxx:
		return vendorParade, true
	default:
		return 0, false
	}
}

// New returns the driver variant for kind.
func New(kind Kind, bus drivers.I2C, addr uint16) (Driver, error) {
	switch kind {
	case KindANX74xx:
		return &ANX74xx{dev: newDev(bus, addr)}, nil
	case KindPS8xxx:
		return &PS8xxx{dev: newDev(bus, addr)}, nil
	default:
		return nil, ErrUnknownKind
	}
}
