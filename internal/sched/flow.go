package sched

import (
	"time"
)

// result is what a parked flow is resumed with: either a Wait payload, or
// nil for a plain Sleep wakeup, plus an error (ErrTimeout on a timed-out
// Wait).
type result struct {
	payload any
	err     error
}

// Flow is a single logical thread of control cooperatively scheduled over
// virtual time (spec.md's "Flow"). It is backed by a real goroutine, but
// the scheduler only ever lets one flow (or its own loop) run at a time:
// Sleep and Wait both hand control back to whichever goroutine resumed the
// flow, and block until the scheduler resumes it again.
type Flow struct {
	sched  *Scheduler
	name   string
	yield  chan struct{} // flow -> driver: "I've suspended again"
	resume chan result   // driver -> flow: "you're resumed, here's your result"
	done   chan struct{} // closed by the flow's goroutine wrapper when body() returns
}

// awaitSuspendOrDone blocks the caller (the scheduler loop, or Spawn) until
// the flow either parks (Sleep/Wait) or runs to completion.
func (f *Flow) awaitSuspendOrDone() {
	select {
	case <-f.yield:
	case <-f.done:
	}
}

// wake hands the baton to f, then blocks until f suspends again or
// finishes. Called from within a scheduled callback, so it always runs on
// the scheduler's single driving goroutine.
func (f *Flow) wake(payload any, err error) {
	select {
	case f.resume <- result{payload: payload, err: err}:
	case <-f.done:
		// Flow already exited (e.g. hard-stopped); nothing to resume.
		return
	}
	f.awaitSuspendOrDone()
}

// park is the shared suspension point used by both Sleep and Wait: tell
// the driver we've suspended, then block until we're handed the baton
// back.
func (f *Flow) park() result {
	f.yield <- struct{}{}
	return <-f.resume
}

// Sleep suspends the flow for d virtual seconds.
func (f *Flow) Sleep(d time.Duration) {
	f.sched.Schedule(d, PriorityNormal, func() {
		f.wake(nil, nil)
	})
	f.park()
}

// Wait suspends the flow until ev is next notified, or, if a timeout is
// given, until that many virtual seconds elapse first — whichever happens
// first, never both (spec.md §4.1). It returns the Notify payload, or
// ErrTimeout.
func (f *Flow) Wait(ev *Event, timeout ...time.Duration) (any, error) {
	w := &waiter{flow: f}
	ev.register(w)

	if len(timeout) > 0 {
		handle := f.sched.Schedule(timeout[0], PriorityLow, func() {
			if !ev.unregister(w) {
				// Already drained by a concurrent Notify at this same instant;
				// that resumption is already in flight, let it win.
				return
			}
			f.wake(nil, ErrTimeout)
		})
		w.cancelTimeout = func() { f.sched.Cancel(handle) }
	}

	r := f.park()
	return r.payload, r.err
}

// Name returns the flow's diagnostic name, as given to Scheduler.Spawn.
func (f *Flow) Name() string { return f.name }
