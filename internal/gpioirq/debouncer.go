// internal/gpioirq/debouncer.go
package gpioirq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ecpower-go/internal/deferred"
	"ecpower-go/internal/halcore"
	"ecpower-go/internal/logger"
)

var (
	ErrDuplicate = errors.New("gpioirq: filter already watched")
	ErrNoPin     = errors.New("gpioirq: filter needs a pin")
)

// Transition receives a confirmed logical level change.
type Transition func(ctx context.Context, level bool)

// FilterConfig describes one watched pin. Window is per filter: lid and
// tablet use tens of ms, cable detect a couple of ms.
type FilterConfig struct {
	Name   string
	Pin    halcore.IRQPin
	Pull   halcore.Pull
	Window time.Duration
	Invert bool // logical = !physical
}

type filter struct {
	name      string
	pin       halcore.IRQPin
	window    time.Duration
	invert    bool
	confirmed bool
	pending   bool
	removed   bool
	cb        Transition
	confirm   *deferred.Action
}

// isrEvent is what the interrupt handler enqueues. It carries no level: the
// level is re-sampled when the window expires.
type isrEvent struct {
	f *filter
}

// Debouncer turns raw edges into confirmed logical transitions.
type Debouncer struct {
	sched *deferred.Scheduler

	// Written by ISR; MUST NOT block the ISR:
	isrQ    chan isrEvent
	stopped chan struct{}

	mu      sync.Mutex
	filters map[string]*filter

	drops uint32 // ISR drop counter
}

func New(sched *deferred.Scheduler, isrBuf int) *Debouncer {
	if isrBuf <= 0 {
		isrBuf = 32
	}
	return &Debouncer{
		sched:   sched,
		isrQ:    make(chan isrEvent, isrBuf),
		stopped: make(chan struct{}),
		filters: map[string]*filter{},
	}
}

// Start runs the consumer that turns queued edges into deferred confirmations.
func (d *Debouncer) Start(ctx context.Context) {
	go func() {
		defer close(d.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-d.isrQ:
				d.handleEdge(ev)
			}
		}
	}()
}

// Watch registers a filter and arms its interrupt on both edges. The
// initial confirmed level is sampled now.
func (d *Debouncer) Watch(cfg FilterConfig, cb Transition) error {
	if cfg.Pin == nil {
		return ErrNoPin
	}
	f := &filter{
		name:   cfg.Name,
		pin:    cfg.Pin,
		window: cfg.Window,
		invert: cfg.Invert,
		cb:     cb,
	}
	f.confirm = d.sched.Register("confirm:"+cfg.Name, func(ctx context.Context) { d.confirmPin(ctx, f) })

	d.mu.Lock()
	if _, dup := d.filters[cfg.Name]; dup {
		d.mu.Unlock()
		return ErrDuplicate
	}
	d.filters[cfg.Name] = f
	d.mu.Unlock()

	if err := cfg.Pin.ConfigureInput(cfg.Pull); err != nil {
		d.drop(f)
		return err
	}
	d.mu.Lock()
	f.confirmed = f.sample()
	d.mu.Unlock()

	// ISR handler: non-blocking channel send only.
	handler := func() {
		select {
		case d.isrQ <- isrEvent{f: f}:
		default:
			atomic.AddUint32(&d.drops, 1)
		}
	}
	if err := cfg.Pin.SetIRQ(halcore.EdgeBoth, handler); err != nil {
		d.drop(f)
		return err
	}

	// An edge between the first sample and arming the IRQ raised no
	// interrupt; confirm it like any other.
	d.mu.Lock()
	moved := f.sample() != f.confirmed
	d.mu.Unlock()
	if moved {
		d.handleEdge(isrEvent{f: f})
	}
	return nil
}

// drop removes a filter whose Watch failed.
func (d *Debouncer) drop(f *filter) {
	d.mu.Lock()
	f.removed = true
	if d.filters[f.name] == f {
		delete(d.filters, f.name)
	}
	d.mu.Unlock()
}

// Unwatch disables the interrupt and drops any pending confirmation.
func (d *Debouncer) Unwatch(name string) {
	d.mu.Lock()
	f := d.filters[name]
	if f != nil {
		f.removed = true
		delete(d.filters, name)
	}
	d.mu.Unlock()
	if f == nil {
		return
	}
	_ = f.pin.ClearIRQ()
	d.sched.Cancel(f.confirm)
}

// Level returns the last confirmed logical level of a filter.
func (d *Debouncer) Level(name string) (level, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.filters[name]
	if f == nil {
		return false, false
	}
	return f.confirmed, true
}

// Pending reports whether a confirmation is outstanding for name.
func (d *Debouncer) Pending(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.filters[name]
	return f != nil && f.pending
}

func (d *Debouncer) Drops() uint32 { return atomic.LoadUint32(&d.drops) }

// handleEdge restarts the filter's window. Every edge inside the window
// pushes confirmation out again.
func (d *Debouncer) handleEdge(ev isrEvent) {
	d.mu.Lock()
	f := ev.f
	if f.removed {
		d.mu.Unlock()
		return
	}
	f.pending = true
	d.mu.Unlock()
	d.sched.Schedule(f.confirm, f.window)
}

func (d *Debouncer) confirmPin(ctx context.Context, f *filter) {
	level := f.sample()

	d.mu.Lock()
	if f.removed {
		d.mu.Unlock()
		return
	}
	f.pending = false
	changed := level != f.confirmed
	if changed {
		f.confirmed = level
	}
	d.mu.Unlock()

	if !changed {
		logger.DebugKV(ctx, "debounce: transient edge dropped", "filter", f.name)
		return
	}
	logger.DebugKV(ctx, "debounce: confirmed", "filter", f.name, "level", level)
	if f.cb != nil {
		f.cb(ctx, level)
	}
}

func (f *filter) sample() bool {
	l := f.pin.Get()
	if f.invert {
		l = !l
	}
	return l
}
