// internal/gpioirq/debouncer_test.go

package gpioirq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ecpower-go/internal/deferred"
	"ecpower-go/internal/halcore"
	"ecpower-go/internal/platform"

	"github.com/stretchr/testify/require"
)

type transition struct {
	name  string
	level bool
}

func setup(t *testing.T) (*Debouncer, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sched := deferred.New()
	go sched.Run(ctx)
	d := New(sched, 8)
	d.Start(ctx)
	return d, ctx
}

func recorder(name string, out chan<- transition) Transition {
	return func(_ context.Context, level bool) { out <- transition{name: name, level: level} }
}

func expectTransition(t *testing.T, ch <-chan transition, want transition) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for %+v", want)
	}
}

func expectQuiet(t *testing.T, ch <-chan transition, d time.Duration) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected transition: %+v", got)
	case <-time.After(d):
	}
}

func TestDebounce_StableEdgeConfirmedOnce(t *testing.T) {
	d, _ := setup(t)
	pin := &platform.FakePin{}
	out := make(chan transition, 4)

	require.NoError(t, d.Watch(FilterConfig{Name: "lid", Pin: pin, Window: 20 * time.Millisecond}, recorder("lid", out)))

	start := time.Now()
	pin.Drive(true)
	expectTransition(t, out, transition{"lid", true})
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	lvl, ok := d.Level("lid")
	require.True(t, ok)
	require.True(t, lvl)
	expectQuiet(t, out, 40*time.Millisecond)
}

func TestDebounce_TransientGlitchDropped(t *testing.T) {
	d, _ := setup(t)
	pin := &platform.FakePin{}
	out := make(chan transition, 4)

	require.NoError(t, d.Watch(FilterConfig{Name: "tablet", Pin: pin, Window: 20 * time.Millisecond}, recorder("tablet", out)))

	// High then back low inside the window: the confirmation re-samples low.
	pin.Drive(true)
	time.Sleep(5 * time.Millisecond)
	pin.Drive(false)

	expectQuiet(t, out, 60*time.Millisecond)
	require.False(t, d.Pending("tablet"))
}

func TestDebounce_NoiseWithoutLevelChange(t *testing.T) {
	d, _ := setup(t)
	pin := &platform.FakePin{}
	out := make(chan transition, 4)

	require.NoError(t, d.Watch(FilterConfig{Name: "tp", Pin: pin, Window: 5 * time.Millisecond}, recorder("tp", out)))
	pin.Pulse()
	pin.Pulse()
	expectQuiet(t, out, 30*time.Millisecond)
}

func TestDebounce_Invert(t *testing.T) {
	d, _ := setup(t)
	pin := &platform.FakePin{}
	pin.Drive(true) // idle high, active low
	out := make(chan transition, 4)

	require.NoError(t, d.Watch(FilterConfig{Name: "tablet_l", Pin: pin, Window: 5 * time.Millisecond, Invert: true}, recorder("tablet_l", out)))
	lvl, _ := d.Level("tablet_l")
	require.False(t, lvl, "physical high is logical low")

	pin.Drive(false)
	expectTransition(t, out, transition{"tablet_l", true})
}

func TestDebounce_PerFilterWindows(t *testing.T) {
	d, _ := setup(t)
	lid := &platform.FakePin{}
	cable := &platform.FakePin{}
	out := make(chan transition, 4)

	require.NoError(t, d.Watch(FilterConfig{Name: "lid", Pin: lid, Window: 30 * time.Millisecond}, recorder("lid", out)))
	require.NoError(t, d.Watch(FilterConfig{Name: "cable", Pin: cable, Window: 2 * time.Millisecond}, recorder("cable", out)))

	lid.Drive(true)
	cable.Drive(true)

	expectTransition(t, out, transition{"cable", true})
	expectTransition(t, out, transition{"lid", true})
}

func TestDebounce_UnwatchCancelsPending(t *testing.T) {
	d, _ := setup(t)
	pin := &platform.FakePin{}
	out := make(chan transition, 4)

	require.NoError(t, d.Watch(FilterConfig{Name: "x", Pin: pin, Window: 20 * time.Millisecond}, recorder("x", out)))
	pin.Drive(true)
	time.Sleep(5 * time.Millisecond)
	d.Unwatch("x")
	d.Unwatch("x")

	expectQuiet(t, out, 50*time.Millisecond)
	_, ok := d.Level("x")
	require.False(t, ok)
}

func TestDebounce_DuplicateAndMissingPin(t *testing.T) {
	d, _ := setup(t)
	pin := &platform.FakePin{}
	require.NoError(t, d.Watch(FilterConfig{Name: "a", Pin: pin}, nil))
	require.ErrorIs(t, d.Watch(FilterConfig{Name: "a", Pin: pin}, nil), ErrDuplicate)
	require.ErrorIs(t, d.Watch(FilterConfig{Name: "b"}, nil), ErrNoPin)
}

func TestDebounce_ISRDropsWhenQueueFull(t *testing.T) {
	// Consumer not started: the queue fills and the ISR path drops.
	d := New(deferred.New(), 2)
	pin := &platform.FakePin{}
	require.NoError(t, d.Watch(FilterConfig{Name: "n", Pin: pin}, nil))

	for i := 0; i < 5; i++ {
		pin.Pulse()
	}
	require.Equal(t, uint32(3), d.Drops())
}

func TestDebounce_ConcurrentWatchSameName(t *testing.T) {
	d, _ := setup(t)
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Watch(FilterConfig{Name: "race", Pin: &platform.FakePin{}}, nil) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), ok.Load())
}

// armLatePin changes level after the initial sample but before the
// interrupt is armed, so the edge raises no IRQ.
type armLatePin struct {
	*platform.FakePin
}

func (p armLatePin) SetIRQ(edge halcore.Edge, handler func()) error {
	p.FakePin.Drive(true)
	return p.FakePin.SetIRQ(edge, handler)
}

func TestDebounce_EdgeBeforeIRQArmedIsConfirmed(t *testing.T) {
	d, _ := setup(t)
	pin := armLatePin{&platform.FakePin{}}
	out := make(chan transition, 4)

	require.NoError(t, d.Watch(FilterConfig{Name: "late", Pin: pin, Window: 5 * time.Millisecond}, recorder("late", out)))
	expectTransition(t, out, transition{"late", true})
	lvl, _ := d.Level("late")
	require.True(t, lvl)
}
