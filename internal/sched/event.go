package sched

import "github.com/datawire/netsim/internal/vtime"

// waiter is one flow currently blocked in a Flow.Wait call.
type waiter struct {
	flow          *Flow
	cancelTimeout func()
}

// Event is the simulator's one-shot-per-notify rendezvous primitive (spec.md
// §3, §4.1, §9 "Events with payloads"). A flow suspends on Wait until the
// next Notify, or until its optional timeout elapses, whichever comes
// first. A flow that begins Wait after a Notify has already drained the
// waiter list is not retroactively woken: waiters are registered by
// pointer-identity at Wait-entry time, under the scheduler's single-flow-
// at-a-time invariant (spec.md §5), so there is no window in which a late
// arrival can observe a past Notify.
type Event struct {
	sched        *Scheduler
	waiters      []*waiter
	lastNotified vtime.Time
	everNotified bool
}

// NewEvent creates an Event owned by sched. Events are normally created
// once per socket (spec.md's syn/syn_ack/ack/data/fin events) and held for
// the socket's lifetime.
func NewEvent(sched *Scheduler) *Event {
	return &Event{sched: sched}
}

// LastNotified returns the virtual time of the most recent Notify, and
// whether there has been one at all.
func (e *Event) LastNotified() (vtime.Time, bool) {
	return e.lastNotified, e.everNotified
}

func (e *Event) register(w *waiter) {
	e.waiters = append(e.waiters, w)
}

// unregister removes w if it is still pending (i.e. Notify has not already
// drained it); it reports whether w was found, so a firing timeout knows
// whether it actually owns the right to resume the flow.
func (e *Event) unregister(w *waiter) bool {
	for i, cur := range e.waiters {
		if cur == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Notify resumes every flow currently blocked in Wait on e, handing each
// one payload. It does not block the caller. Per spec.md §4.1, resumption
// of each waiter is scheduled rather than run inline, so waiters wake in
// FIFO order at the current virtual time, after the notifying flow's own
// turn completes.
func (e *Event) Notify(payload any) {
	e.lastNotified = e.sched.Now()
	e.everNotified = true
	waiters := e.waiters
	e.waiters = nil
	for _, w := range waiters {
		w := w
		if w.cancelTimeout != nil {
			w.cancelTimeout()
		}
		e.sched.scheduleNow(func() {
			w.flow.wake(payload, nil)
		})
	}
}
