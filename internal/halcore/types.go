// internal/halcore/types.go
package halcore

import (
	"tinygo.org/x/drivers"
)

// ---- Buses ----

// I2CBusFactory injects configured I²C instances by id.
// Uses the TinyGo drivers.I2C interface to remain compatible on MCU builds.
type I2CBusFactory interface {
	ByID(id string) (drivers.I2C, bool)
}

// ---- GPIO abstractions ----

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// GPIOPin is the narrow pin contract consumed by the power core.
// Set and Get work on physical levels; callers apply active-low inversion.
type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Number() int
}

// Edge selection for IRQ.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// IRQPin extends GPIOPin with interrupts. The handler runs in interrupt
// context: it must not block, sleep or allocate.
type IRQPin interface {
	GPIOPin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// PinFactory supplies GPIO pins by the configured number scheme.
type PinFactory interface {
	ByNumber(n int) (GPIOPin, bool)
}

// PinBank places whole GPIO banks into their lowest-power state. Mask bits
// are vendor pin groupings and carry no meaning at this layer.
type PinBank interface {
	SetLowPower(bank string, mask uint32) error
}

// Line is an active-low-aware view over a pin: Asserted reports the logical
// state regardless of polarity.
type Line struct {
	Pin       GPIOPin
	ActiveLow bool
}

func (l Line) Valid() bool { return l.Pin != nil }

// Asserted reports whether the line is logically active.
func (l Line) Asserted() bool {
	if l.Pin == nil {
		return false
	}
	return l.Pin.Get() != l.ActiveLow
}

// Assert drives the line to its active or inactive logical state.
func (l Line) Assert(on bool) {
	if l.Pin == nil {
		return
	}
	l.Pin.Set(on != l.ActiveLow)
}
