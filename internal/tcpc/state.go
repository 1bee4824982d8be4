package tcpc

// State is the power/reset state of one port controller.
type State uint8

const (
	PoweredOff State = iota
	Powering
	ResetAsserted
	Active
)

func (s State) String() string {
	switch s {
	case PoweredOff:
		return "powered_off"
	case Powering:
		return "powering"
	case ResetAsserted:
		return "reset_asserted"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// StateEvent is the retained payload on tcpc/<port>/state.
type StateEvent struct {
	Port  int    `json:"port"`
	State string `json:"state"`
	TS    int64  `json:"ts_ms"`
}

// PortStatus is a snapshot of one port.
type PortStatus struct {
	ID        int
	State     State
	LastAlert bool
	Rail      int
}
