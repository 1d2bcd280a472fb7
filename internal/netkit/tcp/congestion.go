package tcp

import "github.com/datawire/netsim/internal/netkit"

// CongestionController is the capability-set abstraction spec.md §9
// recommends in place of a single monolithic congestion-control method:
// the socket calls OnNewAck/OnDupAck/OnTimeout and reads Cwnd/Ssthresh,
// without caring which loss policy is behind the interface.
// OnDupAck reports whether this duplicate ACK should trigger a
// retransmission of the segment starting at ackNum (Reno's third
// duplicate ACK; Tahoe never retransmits on a dup ACK, only on RTO).
type CongestionController interface {
	OnNewAck(newBytes int)
	OnDupAck(ackNum uint32) (retransmit bool)
	OnTimeout()
	Cwnd() int
	Ssthresh() int
}

// Variant selects which congestion controller a socket is constructed
// with (spec.md §9: "Tahoe and Reno are tagged variants selected at
// socket construction").
type Variant int

const (
	// VariantReno is the spec-resolved default (spec.md §9).
	VariantReno Variant = iota
	VariantTahoe
)

// NewCongestionController builds the controller for v, with the
// spec-mandated initial cwnd/ssthresh (spec.md §6).
func NewCongestionController(v Variant) CongestionController {
	base := baseController{cwnd: netkit.MSS, ssthresh: initialSsthresh}
	switch v {
	case VariantTahoe:
		return &tahoeController{baseController: base}
	default:
		return &renoController{baseController: base}
	}
}

const initialSsthresh = 96000

type ccState int

const (
	ccSlowStart ccState = iota
	ccCongestionAvoidance
	ccFastRecovery // Reno only
)

type baseController struct {
	state    ccState
	cwnd     int
	ssthresh int
	dupAcks  int
}

func (b *baseController) Cwnd() int     { return b.cwnd }
func (b *baseController) Ssthresh() int { return b.ssthresh }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// tahoeController implements spec.md §4.4.3's Tahoe policy: slow start,
// congestion avoidance, and a timeout-only loss response that always
// collapses to one MSS.
type tahoeController struct {
	baseController
}

func (t *tahoeController) OnNewAck(n int) {
	switch t.state {
	case ccSlowStart:
		t.cwnd += n
		if t.cwnd >= t.ssthresh {
			t.state = ccCongestionAvoidance
		}
	case ccCongestionAvoidance:
		inc := (n * netkit.MSS) / t.cwnd
		if inc < 1 {
			inc = 1
		}
		t.cwnd += inc
	}
	t.dupAcks = 0
}

// OnDupAck is a no-op under Tahoe: loss is detected only by RTO
// (spec.md §4.4.3).
func (t *tahoeController) OnDupAck(ackNum uint32) bool { return false }

func (t *tahoeController) OnTimeout() {
	t.dupAcks = 0
	t.ssthresh = maxInt(t.cwnd/2, netkit.MSS)
	t.cwnd = netkit.MSS
	t.state = ccSlowStart
}

// renoController implements spec.md §4.4.3's Reno policy: Tahoe's slow
// start/congestion avoidance, plus fast recovery on a third duplicate ACK.
type renoController struct {
	baseController
}

func (r *renoController) OnNewAck(n int) {
	switch r.state {
	case ccSlowStart:
		r.cwnd += n
		if r.cwnd >= r.ssthresh {
			r.state = ccCongestionAvoidance
		}
	case ccCongestionAvoidance:
		inc := (n * netkit.MSS) / r.cwnd
		if inc < 1 {
			inc = 1
		}
		r.cwnd += inc
	case ccFastRecovery:
		r.cwnd = r.ssthresh
		r.state = ccCongestionAvoidance
	}
	r.dupAcks = 0
}

func (r *renoController) OnDupAck(ackNum uint32) bool {
	if r.state == ccFastRecovery {
		r.cwnd += netkit.MSS
		return false
	}
	r.dupAcks++
	if r.dupAcks == 3 {
		r.ssthresh = r.cwnd / 2
		r.cwnd = r.ssthresh + 3*netkit.MSS
		r.state = ccFastRecovery
		return true
	}
	return false
}

func (r *renoController) OnTimeout() {
	r.dupAcks = 0
	r.ssthresh = r.cwnd / 2
	r.cwnd = netkit.MSS
	r.state = ccSlowStart
}
