// Package vtime defines the virtual clock used by the simulator. All
// durations inside a run are expressed in virtual seconds; nothing in
// this package touches the wall clock.
package vtime

import "fmt"

// Time is a point on the simulation's virtual timeline, in seconds since
// the start of the run. It is a plain float64 newtype: the scheduler is
// the only thing that ever advances it, and only ever forward.
type Time float64

// Zero is the time at which every run starts.
const Zero Time = 0

// Add returns t+d, where d is itself expressed in virtual seconds.
func (t Time) Add(d float64) Time {
	return t + Time(d)
}

// Sub returns the virtual-second duration between t and u (t-u).
func (t Time) Sub(u Time) float64 {
	return float64(t - u)
}

// Before reports whether t happens strictly before u.
func (t Time) Before(u Time) bool {
	return t < u
}

// String formats t with the fixed width the event log requires:
// "<virtual_time:10.4f>".
func (t Time) String() string {
	return fmt.Sprintf("%10.4f", float64(t))
}
