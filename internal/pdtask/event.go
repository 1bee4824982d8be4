package pdtask

// Event can store multiple events and return them in priority order. Lower
// bits are served first.
type Event uint32

const EventNone Event = 0

const (
	EventResetRequest Event = 1 << iota
	EventAlert
)

// Pop clears and returns the highest priority event, or EventNone.
func (e *Event) Pop() Event {
	if *e == 0 {
		return EventNone
	}
	r := *e & -*e
	*e &^= r
	return r
}

func (e *Event) Add(v Event) { *e |= v }

// Has reports whether v is set without clearing it.
func (e Event) Has(v Event) bool { return e&v != 0 }

func (e Event) String() string {
	switch e {
	case EventNone:
		return "None"
	case EventResetRequest:
		return "ResetRequest"
	case EventAlert:
		return "Alert"
	default:
		return "Multiple"
	}
}
