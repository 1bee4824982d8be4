// Package deferred runs one-shot delayed actions on a single dispatch
// goroutine. Scheduling an action that is already pending moves its fire time;
// it never queues a second firing.
package deferred

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"ecpower-go/internal/logger"
)

// Action is a handle for a deferred callback. The handle, not the function,
// is the identity used for latest-call-wins.
type Action struct {
	name  string
	fn    func(ctx context.Context)
	owner *Scheduler

	due   time.Time // keeps the monotonic reading
	seq   uint64
	index int // heap slot; -1 while disarmed
}

func (a *Action) Name() string { return a.name }

type actionHeap []*Action

func (h actionHeap) Len() int { return len(h) }
func (h actionHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	return h[i].seq < h[j].seq
}
func (h actionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *actionHeap) Push(x any)   { a := x.(*Action); a.index = len(*h); *h = append(*h, a) }
func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]
	return a
}
func (h actionHeap) Top() *Action {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

type Scheduler struct {
	mu   sync.Mutex
	h    actionHeap
	seq  uint64
	wake chan struct{}
	now  func() time.Time
}

func New() *Scheduler {
	return &Scheduler{
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Register creates a disarmed action bound to this scheduler.
func (s *Scheduler) Register(name string, fn func(ctx context.Context)) *Action {
	return &Action{name: name, fn: fn, owner: s, index: -1}
}

// Schedule arms a to fire no earlier than delay from now. A pending a is
// moved to the new fire time.
func (s *Scheduler) Schedule(a *Action, delay time.Duration) {
	s.check(a)
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	s.seq++
	a.seq = s.seq
	a.due = s.now().Add(delay)
	if a.index < 0 {
		heap.Push(&s.h, a)
	} else {
		heap.Fix(&s.h, a.index)
	}
	s.mu.Unlock()
	s.wakeup()
}

// Cancel disarms a. Cancelling a disarmed action does nothing.
func (s *Scheduler) Cancel(a *Action) {
	s.check(a)
	s.mu.Lock()
	if a.index >= 0 {
		heap.Remove(&s.h, a.index)
	}
	s.mu.Unlock()
	s.wakeup()
}

// Pending reports whether a is armed.
func (s *Scheduler) Pending(a *Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return a.index >= 0
}

// Len reports the number of armed actions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Len()
}

// Run dispatches due actions until ctx is done. Only one Run may be active.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if a := s.popDue(); a != nil {
			logger.DebugKV(ctx, "deferred fire", "action", a.name)
			a.fn(ctx)
			continue
		}

		wait := s.nextWait()
		if wait < 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

// popDue disarms and returns the earliest due action, if any. Disarming
// happens before the callback runs, so the callback may re-arm itself.
func (s *Scheduler) popDue() *Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.h.Top()
	if top == nil || top.due.After(s.now()) {
		return nil
	}
	return heap.Pop(&s.h).(*Action)
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.h.Top()
	if top == nil {
		return -1
	}
	d := top.due.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) check(a *Action) {
	if a == nil || a.owner != s {
		panic("deferred: action not registered with this scheduler")
	}
}
