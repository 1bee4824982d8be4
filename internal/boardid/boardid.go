// Package boardid decodes the board version strapped on three tri-state pins.
package boardid

import (
	"sync"
	"time"

	"ecpower-go/internal/halcore"
)

// Tristate is the value of one strap pin. The numeric value is the base-3
// digit it encodes.
type Tristate uint8

const (
	Low      Tristate = 0
	High     Tristate = 1
	Floating Tristate = 2
)

func (t Tristate) String() string {
	switch t {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return "floating"
	}
}

// Sampler classifies a strap pin.
type Sampler interface {
	SampleTristate(pin halcore.GPIOPin) Tristate
}

// PullSampler samples a pin with the internal pull-down, then the pull-up,
// waiting Settle after each change. A pin that follows the pulls is
// floating. The pin is left as an input without pull.
type PullSampler struct {
	Settle time.Duration
	Sleep  func(time.Duration) // nil means time.Sleep
}

func (s PullSampler) SampleTristate(pin halcore.GPIOPin) Tristate {
	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	defer pin.ConfigureInput(halcore.PullNone) //nolint:errcheck

	_ = pin.ConfigureInput(halcore.PullDown)
	sleep(s.Settle)
	pd := pin.Get()

	_ = pin.ConfigureInput(halcore.PullUp)
	sleep(s.Settle)
	pu := pin.Get()

	return Decode(pd, pu)
}

// Decode maps the pull-down and pull-up readings onto a digit.
func Decode(pd, pu bool) Tristate {
	switch {
	case pd:
		return High
	case pu:
		return Floating
	default:
		return Low
	}
}

// Version combines three digits, least significant first.
func Version(id0, id1, id2 Tristate) int {
	return int(id2)*9 + int(id1)*3 + int(id0)
}

// Reader samples the straps once per boot and caches the result.
type Reader struct {
	pins    [3]halcore.GPIOPin
	sampler Sampler

	once    sync.Once
	digits  [3]Tristate
	version int
}

// NewReader takes the id0, id1 and id2 pins in that order.
func NewReader(pins [3]halcore.GPIOPin, s Sampler) *Reader {
	return &Reader{pins: pins, sampler: s}
}

func (r *Reader) Version() int {
	r.once.Do(r.read)
	return r.version
}

// Digits returns the cached id0..id2 readings.
func (r *Reader) Digits() [3]Tristate {
	r.once.Do(r.read)
	return r.digits
}

func (r *Reader) read() {
	for i, p := range r.pins {
		r.digits[i] = r.sampler.SampleTristate(p)
	}
	r.version = Version(r.digits[0], r.digits[1], r.digits[2])
}
