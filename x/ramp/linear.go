// Package ramp steps an integer level towards a target at a fixed period.
package ramp

import (
	"time"

	"ecpower-go/x/mathx"
)

// Step applies a new level. Returning false stops the ramp at that level.
type Step func(level int) bool

// Tick waits for d and reports whether to continue (false => cancelled).
type Tick func(d time.Duration) bool

// Linear describes an integer ramp from From to To in Steps equal steps,
// one every Period.
type Linear struct {
	From, To int
	Steps    int
	Period   time.Duration
}

// Run drives the ramp synchronously. It returns the last level applied and
// whether the ramp reached To. Steps <= 0 snaps straight to To.
func (l Linear) Run(tick Tick, set Step) (last int, done bool) {
	if l.Steps <= 0 {
		return l.To, set(l.To)
	}
	last = l.From
	if !set(last) {
		return last, false
	}
	for i := 1; i <= l.Steps; i++ {
		if !tick(l.Period) {
			return last, false
		}
		level := l.From + (l.To-l.From)*i/l.Steps
		level = mathx.Clamp(level, l.From, l.To)
		if !set(level) {
			return level, false
		}
		last = level
	}
	return last, true
}

// SleepTick returns a Tick that sleeps and stops once done is closed.
func SleepTick(done <-chan struct{}) Tick {
	return func(d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-done:
			return false
		case <-t.C:
			return true
		}
	}
}
