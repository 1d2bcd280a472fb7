package sched

import "container/heap"

// timerEntry is one pending callback in the scheduler's priority queue. It
// is ordered by (time, priority, seq): seq is a monotonically increasing
// insertion counter that breaks ties in FIFO order, exactly as spec.md's
// "(priority, FIFO)" ordering requires.
type timerEntry struct {
	at        float64
	priority  int
	seq       uint64
	callback  func()
	cancelled bool
	index     int // heap.Interface bookkeeping
}

// Handle identifies a scheduled callback so it can be cancelled.
type Handle struct {
	entry *timerEntry
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*timerHeap)(nil)
