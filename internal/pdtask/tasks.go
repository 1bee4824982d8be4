// Package pdtask runs one control goroutine per Type-C port. Other code hands
// work to a port by posting event bits; bits posted before the task runs are
// merged, never lost.
package pdtask

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"ecpower-go/internal/logger"
)

// Handler receives events for a port, one at a time, in priority order.
type Handler interface {
	HandleEvent(ctx context.Context, port int, ev Event)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, port int, ev Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, port int, ev Event) { f(ctx, port, ev) }

type task struct {
	pending atomic.Uint32
	wake    chan struct{}
}

type Tasks struct {
	tasks []*task

	mu sync.Mutex
	h  Handler
}

func New(ports int, h Handler) *Tasks {
	t := &Tasks{tasks: make([]*task, ports), h: h}
	for i := range t.tasks {
		t.tasks[i] = &task{wake: make(chan struct{}, 1)}
	}
	return t
}

// SetHandler replaces the handler; events already being served use the old one.
func (t *Tasks) SetHandler(h Handler) {
	t.mu.Lock()
	t.h = h
	t.mu.Unlock()
}

func (t *Tasks) Ports() int { return len(t.tasks) }

// Post merges ev into the port's pending set and wakes its task. It never
// blocks, so it may be called from interrupt handlers.
func (t *Tasks) Post(port int, ev Event) {
	tk := t.task(port)
	tk.pending.Or(uint32(ev))
	select {
	case tk.wake <- struct{}{}:
	default:
	}
}

// Pending returns the events posted but not yet served.
func (t *Tasks) Pending(port int) Event {
	return Event(t.task(port).pending.Load())
}

// Run serves every port until ctx is done.
func (t *Tasks) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, tk := range t.tasks {
		wg.Add(1)
		go func(port int, tk *task) {
			defer wg.Done()
			t.serve(logger.WithKV(ctx, "port", port), port, tk)
		}(i, tk)
	}
	wg.Wait()
}

func (t *Tasks) serve(ctx context.Context, port int, tk *task) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.wake:
		}
		evs := Event(tk.pending.Swap(0))
		for e := evs.Pop(); e != EventNone; e = evs.Pop() {
			t.mu.Lock()
			h := t.h
			t.mu.Unlock()
			if h == nil {
				logger.DebugKV(ctx, "pdtask: no handler", "event", e)
				continue
			}
			h.HandleEvent(ctx, port, e)
		}
	}
}

func (t *Tasks) task(port int) *task {
	if port < 0 || port >= len(t.tasks) {
		panic(fmt.Sprintf("pdtask: invalid port %d", port))
	}
	return t.tasks[port]
}
