package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	NotReady      Code = "not_ready"
	Timeout       Code = "timeout"

	// Charge port arbitration. Policy rejections leave state unchanged.
	SourceConflict  Code = "source_conflict"
	BatteryCritical Code = "battery_critical"
	InvalidPort     Code = "invalid_port"

	// Pins and buses.
	UnknownPin Code = "unknown_pin"
	PinInUse   Code = "pin_in_use"
	BusError   Code = "bus_error"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match a wrapped *E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap builds an *E for op with the given code and cause.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		if inner := u.Unwrap(); inner != nil {
			return Of(inner)
		}
	}
	return Error
}
