// Package sched implements the cooperative discrete-event runtime that
// drives the whole simulator: a single virtual clock, a min-heap of timed
// callbacks, and a set of logical flows that suspend only at well-defined
// points (Sleep, Wait, or falling off the end of their function). It is
// the Go-native replacement for the source's generator-based coroutines
// (spec.md §9 "Cooperative generators → flows"): here a flow is a real
// goroutine, but the scheduler hands it control one at a time via an
// unbuffered baton channel, so at any virtual instant exactly one flow (or
// the scheduler loop itself) is ever running. That invariant is what lets
// socket, link, and host state be touched without any additional locking
// (spec.md §5).
package sched

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/netsim/internal/vtime"
)

// ErrTimeout is returned by Flow.Wait when its timeout elapses before the
// event is notified.
var ErrTimeout = errors.New("sched: wait timed out")

// Priority controls tie-breaking among callbacks scheduled for the same
// virtual instant, lowest first. Domain code is free to define its own
// priority constants; these two cover the scheduler's own bookkeeping.
const (
	PriorityHigh   = -100
	PriorityNormal = 0
	PriorityLow    = 100
)

// Scheduler owns the virtual clock and the heap of pending callbacks. It is
// not safe for concurrent use from outside a flow or the Run loop: the
// whole point of the cooperative model is that nothing needs to be.
type Scheduler struct {
	mu   sync.Mutex // guards only the heap/seq/now triple, so Schedule can be called from a flow goroutine between its own turns
	now  vtime.Time
	seq  uint64
	heap timerHeap
}

// New creates a Scheduler whose virtual clock starts at vtime.Zero.
func New() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.heap)
	return s
}

// Now returns the scheduler's current virtual time.
func (s *Scheduler) Now() vtime.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers cb to run at Now()+delay. Ties at the same instant
// are broken by (priority, insertion order). Returns a Handle that Cancel
// accepts.
func (s *Scheduler) Schedule(delay time.Duration, priority int, cb func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &timerEntry{
		at:       float64(s.now) + delay.Seconds(),
		priority: priority,
		seq:      s.nextSeq(),
		callback: cb,
	}
	heap.Push(&s.heap, e)
	return Handle{entry: e}
}

// scheduleNow is Schedule(0, PriorityNormal, cb): used internally to defer
// a resumption to "later in this same instant" so that the currently
// running flow's turn finishes first.
func (s *Scheduler) scheduleNow(cb func()) {
	s.Schedule(0, PriorityNormal, cb)
}

// Cancel removes a pending callback. It is idempotent: cancelling an
// already-fired or already-cancelled handle is a no-op.
func (s *Scheduler) Cancel(h Handle) {
	if h.entry == nil {
		return
	}
	h.entry.cancelled = true
}

func (s *Scheduler) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// Run drains the heap: pop the earliest live callback, advance Now() to
// its time, execute it, repeat until empty or ctx is cancelled. The
// callback-draining loop runs as the single worker of a dgroup.Group, and
// each callback runs under derror panic recovery, so a panic is logged
// instead of taking down the whole process (spec.md has no notion of a
// flow "crashing"; this is purely an engineering safety net the teacher
// applies to its own long-running goroutines). Flows are not members of
// the group; Spawn gives each flow goroutine its own panic recovery.
func (s *Scheduler) Run(ctx context.Context) error {
	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: false})
	g.Go("sim-loop", func(ctx context.Context) error {
		for {
			s.mu.Lock()
			if len(s.heap) == 0 {
				s.mu.Unlock()
				return nil
			}
			e := heap.Pop(&s.heap).(*timerEntry)
			if e.cancelled {
				s.mu.Unlock()
				continue
			}
			s.now = vtime.Time(e.at)
			s.mu.Unlock()

			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.runCallback(ctx, e.callback)
		}
	})
	return g.Wait()
}

// runCallback executes cb with panic containment, matching the teacher's
// processPackets/processResends defer-recover-derror.PanicToError pattern.
func (s *Scheduler) runCallback(ctx context.Context, cb func()) {
	defer func() {
		if perr := derror.PanicToError(recover()); perr != nil {
			dlog.Errorf(ctx, "sched: callback panicked: %+v", perr)
		}
	}()
	cb()
}

// Spawn begins a new logical flow and runs it, on the caller's goroutine's
// behalf, until its first suspension (Sleep, Wait, or completion) — per
// spec.md §4.1. The flow's subsequent turns are driven entirely by
// callbacks registered on the heap; Spawn's caller is never blocked again
// once this call returns.
func (s *Scheduler) Spawn(ctx context.Context, name string, body func(ctx context.Context, f *Flow)) *Flow {
	f := &Flow{
		sched:  s,
		name:   name,
		yield:  make(chan struct{}),
		resume: make(chan result),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		defer func() {
			if perr := derror.PanicToError(recover()); perr != nil {
				dlog.Errorf(ctx, "sched: flow %q panicked: %+v", name, perr)
			}
		}()
		body(ctx, f)
	}()
	f.awaitSuspendOrDone()
	return f
}

// Attempt runs f; if it fails with ErrTimeout, retries up to n-1 more
// times; if every attempt times out, the last ErrTimeout is returned
// (spec.md §4.1's `attempt(f, n)`, used for SYN/FIN retransmission and
// any other "retry up to N times" protocol behavior).
func Attempt(f func() error, n int) error {
	var err error
	for i := 0; i < n; i++ {
		err = f()
		if err == nil || !errors.Is(err, ErrTimeout) {
			return err
		}
	}
	return err
}
