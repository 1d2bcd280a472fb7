// Package tcp implements the TCP socket state machine: handshake, reliable
// in-order data transfer with congestion control, and graceful/passive
// teardown (spec.md §4.4). It is grounded on the teacher's
// pkg/vif/tcp/handler.go — the setState/illegalStateTransition pattern,
// the ack-wait/out-of-order reassembly style, and the retry-with-backoff
// shape of its resend loop — generalized from the teacher's server-only
// handler to cover both the connecting and accepting sides.
package tcp

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"

	"github.com/datawire/netsim/internal/netkit"
	"github.com/datawire/netsim/internal/sched"
	"github.com/datawire/netsim/internal/simlog"
)

const initialRTO = 3.0 // virtual seconds, spec.md §6 default

// Socket is one TCP connection endpoint: a LISTEN socket bound to a port,
// a SYN_SENT socket mid-connect, or an established/closing connection
// minted by Accept or Connect. It implements netkit.TCPReceiver.
type Socket struct {
	id   string
	host *netkit.Host
	sim  *sched.Scheduler
	log  *simlog.Logger

	local  netkit.AddrKey
	remote netkit.AddrKey
	state  State

	cc      CongestionController
	variant Variant
	rto     float64

	// send side
	outbound      []byte
	outI, outAckI int
	finalSeq      uint32
	lastLoss      float64 // virtual time of the most recent timeout loss; guards of segments sent before it stand down

	// receive side: inbound is grown with holes (spec.md §4.4.3's
	// "inc[seq:seq+len], growing the buffer with holes"); filled tracks
	// which offsets have actually been written.
	inbound        []byte
	filled         []bool
	incI, incReadI int

	peerClosed bool

	synEvent    *sched.Event // LISTEN socket: notified with the *netkit.Packet of an inbound SYN
	synAckEvent *sched.Event // SYN_SENT socket: notified with the *netkit.Packet of the SYN+ACK
	ackEvent    *sched.Event // notified whenever out_ack_i advances or a loss is declared
	dataEvent   *sched.Event // notified whenever inbound data (or a peer FIN) arrives
	finAckEvent *sched.Event // notified when our own FIN is acked
}

// NewSocket creates an unbound socket with the given congestion-control
// variant. Bind/Listen, Connect, or Accept give it an identity.
func NewSocket(host *netkit.Host, sim *sched.Scheduler, log *simlog.Logger, variant Variant) *Socket {
	return &Socket{
		id:      uuid.NewString(),
		host:    host,
		sim:     sim,
		log:     log,
		variant: variant,
		cc:      NewCongestionController(variant),
		rto:     initialRTO,

		synEvent:    sched.NewEvent(sim),
		synAckEvent: sched.NewEvent(sim),
		ackEvent:    sched.NewEvent(sim),
		dataEvent:   sched.NewEvent(sim),
		finAckEvent: sched.NewEvent(sim),
	}
}

// LocalAddr implements netkit.TCPReceiver.
func (s *Socket) LocalAddr() netkit.AddrKey { return s.local }

// State returns the socket's current state.
func (s *Socket) State() State { return s.state }

// Bind claims port (host IP, port) as this socket's local address and puts
// it into LISTEN, registering it with the host's demux table (spec.md
// §4.4.1).
func (s *Socket) Bind(port uint16) error {
	s.local = netkit.MakeAddrKey(s.host.IP, port)
	if err := s.host.RegisterListener(port, s); err != nil {
		return err
	}
	s.state = StateListen
	return nil
}

func (s *Socket) setState(ctx context.Context, to State) {
	if s.state == to {
		return
	}
	if !isLegalTransition(s.state, to) {
		dlog.Errorf(ctx, "tcp[%s]: illegal transition %s -> %s on %s", s.id, s.state, to, s.local)
		return
	}
	from := s.state
	s.state = to
	s.log.Event(s.sim.Now(), simlog.EventTCPState, s.local.String(), from.String(), "->", to.String())
}

func (s *Socket) sendPacket(ctx context.Context, pkt *netkit.Packet, kind string) {
	s.log.Event(s.sim.Now(), simlog.EventTCPSend, s.local.String(), "->", s.remote.String(), kind, s.logExtra(pkt, kind))
	s.host.Send(ctx, pkt)
}

func (s *Socket) logExtra(pkt *netkit.Packet, kind string) string {
	switch kind {
	case "data", "data(retransmit)":
		return fmt.Sprintf("%d-%d", pkt.Seq, int(pkt.Seq)+len(pkt.Payload))
	default:
		return fmt.Sprintf("ack=%d", pkt.Ack)
	}
}

func (s *Socket) recvLog(pkt *netkit.Packet) {
	s.log.Event(s.sim.Now(), simlog.EventTCPRecv, s.local.String(), "<-", s.remote.String(), pkt.Kind(), s.logExtra(pkt, pkt.Kind()))
}

// ---- connection establishment (spec.md §4.4.2) ----

// Connect drives the active-open handshake: send SYN(seq=0), retry with
// the current RTO up to 10 times until a SYN+ACK arrives, then send the
// final ACK. Blocks the calling flow until ESTABLISHED or the retries are
// exhausted.
func (s *Socket) Connect(ctx context.Context, f *sched.Flow, remote netkit.AddrKey) error {
	if s.local.IsZero() {
		port, err := s.host.AllocEphemeralPort()
		if err != nil {
			return err
		}
		s.local = netkit.MakeAddrKey(s.host.IP, port)
	}
	s.remote = remote
	s.host.RegisterEstablished(remote, s)
	s.setState(ctx, StateSynSent)

	err := sched.Attempt(func() error {
		pkt := netkit.NewControlPacket(s.local, s.remote, netkit.FlagSYN, 0, 0)
		pkt.Timestamp = s.sim.Now()
		s.sendPacket(ctx, pkt, "syn")
		_, werr := f.Wait(s.synAckEvent, rtoDuration(s.rto))
		return werr
	}, 10)
	if err != nil {
		return fmt.Errorf("tcp: connect to %s: retries exhausted: %w", remote, err)
	}

	ack := netkit.NewControlPacket(s.local, s.remote, netkit.FlagACK, 1, uint32(s.incI))
	ack.Timestamp = s.sim.Now()
	s.sendPacket(ctx, ack, "ack")
	return nil
}

// Accept blocks until a SYN arrives at a LISTEN socket, mints a new Socket
// in SYN_RCVD for the connecting peer, sends SYN+ACK, and returns it
// (spec.md §4.4.1, §4.4.2). The listening socket itself never leaves
// LISTEN.
func (s *Socket) Accept(ctx context.Context, f *sched.Flow) (*Socket, error) {
	if s.state != StateListen {
		return nil, fmt.Errorf("tcp: accept called on socket in state %s", s.state)
	}
	v, err := f.Wait(s.synEvent)
	if err != nil {
		return nil, err
	}
	pkt := v.(*netkit.Packet)

	child := NewSocket(s.host, s.sim, s.log, s.variant)
	child.local = s.local
	child.remote = pkt.Src()
	child.state = StateSynReceived
	s.host.RegisterEstablished(child.remote, child)

	synAck := netkit.NewControlPacket(child.local, child.remote, netkit.FlagSYN|netkit.FlagACK, 0, 1)
	synAck.Timestamp = s.sim.Now()
	child.sendPacket(ctx, synAck, "syn+ack")
	return child, nil
}

// ---- data transfer (spec.md §4.4.3) ----

// SendAll appends data to the outbound stream and blocks the calling flow
// until every byte of it has been acknowledged, sending segments of at
// most MSS bytes while keeping at most cwnd bytes unacknowledged, the way
// spec.md §4.4.3 describes.
func (s *Socket) SendAll(ctx context.Context, f *sched.Flow, data []byte) error {
	if s.state != StateEstablished {
		return fmt.Errorf("tcp: sendall called on socket in state %s", s.state)
	}
	s.outbound = append(s.outbound, data...)
	target := len(s.outbound)

	for s.outAckI < target {
		switch s.state {
		case StateEstablished:
		default:
			return fmt.Errorf("tcp: sendall: peer half-closed")
		}

		end := minInt(s.outAckI+s.cc.Cwnd(), s.outI+netkit.MSS, len(s.outbound))
		if s.outI < end {
			s.sendSegment(ctx, s.outI, end)
			s.outI = end
			continue
		}
		if _, err := f.Wait(s.ackEvent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Socket) sendSegment(ctx context.Context, start, end int) {
	seq := uint32(start)
	pkt := netkit.NewDataPacket(s.local, s.remote, seq, s.outbound[start:end])
	pkt.Ack = uint32(s.incI)
	pkt.Flags = netkit.FlagACK
	pkt.Timestamp = s.sim.Now()
	s.sendPacket(ctx, pkt, "data")
	s.spawnRetransmitGuard(ctx, start)
}

// spawnRetransmitGuard implements spec.md §4.4.3's RTO loss path: after
// sleeping for the RTO in effect at send time, declare a timeout loss if
// the segment starting at start still hasn't been acked and no timeout
// loss has been declared since it was sent.
func (s *Socket) spawnRetransmitGuard(ctx context.Context, start int) {
	rtoAtSend := s.rto
	sentAt := float64(s.sim.Now())
	s.sim.Spawn(ctx, "tcp-retransmit-guard", func(ctx context.Context, f *sched.Flow) {
		f.Sleep(rtoDuration(rtoAtSend))
		if s.outAckI <= start && s.lastLoss <= sentAt {
			s.cc.OnTimeout()
			s.rto *= 2
			s.outI = s.outAckI
			s.lastLoss = float64(s.sim.Now())
			s.log.Event(s.sim.Now(), simlog.EventTCPLoss, s.local.String(), "timeout", fmt.Sprintf("seq=%d", start))
			s.log.Event(s.sim.Now(), simlog.EventTCPCwndAdjust, s.local.String(), s.cc.Cwnd())
			s.log.Event(s.sim.Now(), simlog.EventTCPSsthreshAdjust, s.local.String(), s.cc.Ssthresh())
			s.log.Event(s.sim.Now(), simlog.EventTCPTimeoutAdjust, s.local.String(), fmt.Sprintf("%.4f", s.rto))
			s.ackEvent.Notify(nil)
		}
	})
}

// Recv returns any inbound bytes that have arrived contiguously since the
// last Recv, blocking the calling flow until at least one byte (or peer
// half-close) is available.
func (s *Socket) Recv(ctx context.Context, f *sched.Flow) ([]byte, error) {
	for s.incReadI >= s.incI {
		if s.peerClosed {
			return nil, nil
		}
		if _, err := f.Wait(s.dataEvent); err != nil {
			return nil, err
		}
	}
	b := make([]byte, s.incI-s.incReadI)
	copy(b, s.inbound[s.incReadI:s.incI])
	s.incReadI = s.incI
	return b, nil
}

// ---- inbound packet dispatch ----

// HandlePacket implements netkit.TCPReceiver.
func (s *Socket) HandlePacket(ctx context.Context, pkt *netkit.Packet) {
	s.recvLog(pkt)

	switch {
	case pkt.Flags.Has(netkit.FlagSYN) && !pkt.Flags.Has(netkit.FlagACK):
		s.handleSyn(ctx, pkt)
		return
	case pkt.Flags.Has(netkit.FlagSYN) && pkt.Flags.Has(netkit.FlagACK):
		s.handleSynAck(ctx, pkt)
		return
	}

	if pkt.Flags.Has(netkit.FlagACK) {
		s.handleAck(ctx, pkt)
	}
	if len(pkt.Payload) > 0 {
		s.handleData(ctx, pkt)
	}
	if pkt.Flags.Has(netkit.FlagFIN) {
		s.handleFin(ctx, pkt)
	}
}

func (s *Socket) handleSyn(ctx context.Context, pkt *netkit.Packet) {
	switch s.state {
	case StateListen:
		s.synEvent.Notify(pkt)
	case StateSynReceived, StateEstablished:
		// Peer retransmitted its SYN because our SYN+ACK was lost;
		// re-emit it without regressing state (spec.md §4.4.2).
		synAck := netkit.NewControlPacket(s.local, s.remote, netkit.FlagSYN|netkit.FlagACK, 0, uint32(s.incI))
		synAck.Timestamp = s.sim.Now()
		s.sendPacket(ctx, synAck, "syn+ack")
	}
}

func (s *Socket) handleSynAck(ctx context.Context, pkt *netkit.Packet) {
	if s.state != StateSynSent {
		return
	}
	s.setState(ctx, StateEstablished)
	s.synAckEvent.Notify(pkt)
}

func (s *Socket) handleAck(ctx context.Context, pkt *netkit.Packet) {
	if s.state == StateSynReceived {
		s.setState(ctx, StateEstablished)
	}

	switch s.state {
	case StateFinWait1:
		if pkt.Ack == s.finalSeq {
			s.setState(ctx, StateFinWait2)
			s.finAckEvent.Notify(nil)
		}
		return
	case StateClosing:
		if pkt.Ack == s.finalSeq {
			s.setState(ctx, StateTimeWait)
			s.scheduleTimeWaitClose(ctx)
			s.finAckEvent.Notify(nil)
		}
		return
	case StateLastAck:
		if pkt.Ack == s.finalSeq {
			s.setState(ctx, StateClosed)
			s.cleanup()
			s.finAckEvent.Notify(nil)
		}
		return
	}

	ackNum := int(pkt.Ack)
	if ackNum > s.outAckI {
		newBytes := ackNum - s.outAckI
		s.outAckI = ackNum
		s.cc.OnNewAck(newBytes)
		s.log.Event(s.sim.Now(), simlog.EventTCPCwndAdjust, s.local.String(), s.cc.Cwnd())

		sample := s.sim.Now().Sub(pkt.Timestamp)
		s.rto = updateRTO(s.rto, sample)
		s.log.Event(s.sim.Now(), simlog.EventTCPTimeoutAdjust, s.local.String(), fmt.Sprintf("%.4f", s.rto))

		s.ackEvent.Notify(nil)
	} else if ackNum == s.outAckI && len(s.outbound) > s.outAckI {
		if s.cc.OnDupAck(pkt.Ack) {
			s.retransmitFrom(ctx, pkt.Ack)
		}
	}
}

func (s *Socket) retransmitFrom(ctx context.Context, ackNum uint32) {
	start := int(ackNum)
	end := start + netkit.MSS
	if end > len(s.outbound) {
		end = len(s.outbound)
	}
	s.log.Event(s.sim.Now(), simlog.EventTCPLoss, s.local.String(), "triple-ack", fmt.Sprintf("seq=%d", start))
	s.log.Event(s.sim.Now(), simlog.EventTCPCwndAdjust, s.local.String(), s.cc.Cwnd())
	s.log.Event(s.sim.Now(), simlog.EventTCPSsthreshAdjust, s.local.String(), s.cc.Ssthresh())
	pkt := netkit.NewDataPacket(s.local, s.remote, uint32(start), s.outbound[start:end])
	pkt.Ack = uint32(s.incI)
	pkt.Flags = netkit.FlagACK
	pkt.Timestamp = s.sim.Now()
	s.sendPacket(ctx, pkt, "data(retransmit)")
	s.spawnRetransmitGuard(ctx, start)
}

func (s *Socket) handleData(ctx context.Context, pkt *netkit.Packet) {
	s.placeSegment(pkt.Seq, pkt.Payload)

	ack := netkit.NewControlPacket(s.local, s.remote, netkit.FlagACK, uint32(s.outI), uint32(s.incI))
	ack.Timestamp = pkt.Timestamp // echo for the sender's RTT sample
	s.sendPacket(ctx, ack, "ack")
	s.dataEvent.Notify(nil)
}

func (s *Socket) placeSegment(seq uint32, data []byte) {
	start, end := int(seq), int(seq)+len(data)
	if end <= s.incI {
		return // fully duplicate
	}
	if end > len(s.inbound) {
		grow := make([]byte, end-len(s.inbound))
		s.inbound = append(s.inbound, grow...)
		s.filled = append(s.filled, make([]bool, end-len(s.filled))...)
	}
	copy(s.inbound[start:end], data)
	for i := start; i < end; i++ {
		s.filled[i] = true
	}
	for s.incI < len(s.filled) && s.filled[s.incI] {
		s.incI++
	}
}

func (s *Socket) handleFin(ctx context.Context, pkt *netkit.Packet) {
	switch s.state {
	case StateEstablished:
		s.setState(ctx, StateCloseWait)
		s.peerClosed = true
		s.sendPureAck(ctx, pkt)
		s.dataEvent.Notify(nil)
	case StateFinWait1:
		s.peerClosed = true
		s.sendPureAck(ctx, pkt)
		if pkt.Ack == s.finalSeq {
			s.setState(ctx, StateTimeWait)
			s.scheduleTimeWaitClose(ctx)
			s.finAckEvent.Notify(nil)
		} else {
			s.setState(ctx, StateClosing)
		}
	case StateFinWait2:
		s.peerClosed = true
		s.sendPureAck(ctx, pkt)
		s.setState(ctx, StateTimeWait)
		s.scheduleTimeWaitClose(ctx)
	}
}

func (s *Socket) sendPureAck(ctx context.Context, inReplyTo *netkit.Packet) {
	ack := netkit.NewControlPacket(s.local, s.remote, netkit.FlagACK, uint32(s.outI), uint32(s.incI))
	ack.Timestamp = inReplyTo.Timestamp
	s.sendPacket(ctx, ack, "ack")
}

func (s *Socket) scheduleTimeWaitClose(ctx context.Context) {
	s.sim.Schedule(rtoDuration(3*s.rto), sched.PriorityNormal, func() {
		s.setState(ctx, StateClosed)
		s.cleanup()
	})
}

func (s *Socket) cleanup() {
	var port uint16
	if s.state == StateListen {
		port = s.local.Port
	}
	s.host.Unregister(port, s.remote)
}

// ---- teardown (spec.md §4.4.4) ----

// Close begins connection teardown, from either the active (ESTABLISHED /
// SYN_RCVD) or passive (CLOSE_WAIT) side, and blocks the calling flow
// until the outbound stream is flushed and our own FIN is acknowledged.
func (s *Socket) Close(ctx context.Context, f *sched.Flow) error {
	switch s.state {
	case StateEstablished, StateSynReceived:
		return s.activeClose(ctx, f)
	case StateCloseWait:
		return s.passiveClose(ctx, f)
	case StateListen:
		s.cleanup()
		s.setState(ctx, StateClosed)
		return nil
	default:
		return fmt.Errorf("tcp: close called on socket in state %s", s.state)
	}
}

func (s *Socket) activeClose(ctx context.Context, f *sched.Flow) error {
	for s.outAckI < len(s.outbound) {
		if _, err := f.Wait(s.ackEvent); err != nil {
			return err
		}
	}
	s.setState(ctx, StateFinWait1)
	return s.sendFinAndAwaitAck(ctx, f)
}

func (s *Socket) passiveClose(ctx context.Context, f *sched.Flow) error {
	for s.outAckI < len(s.outbound) {
		if _, err := f.Wait(s.ackEvent); err != nil {
			return err
		}
	}
	s.setState(ctx, StateLastAck)
	return s.sendFinAndAwaitAck(ctx, f)
}

func (s *Socket) sendFinAndAwaitAck(ctx context.Context, f *sched.Flow) error {
	s.finalSeq = uint32(len(s.outbound))
	err := sched.Attempt(func() error {
		fin := netkit.NewControlPacket(s.local, s.remote, netkit.FlagFIN|netkit.FlagACK, s.finalSeq, uint32(s.incI))
		fin.Timestamp = s.sim.Now()
		s.sendPacket(ctx, fin, "fin")
		_, werr := f.Wait(s.finAckEvent, rtoDuration(s.rto))
		return werr
	}, 10)
	if err != nil {
		return fmt.Errorf("tcp: close: retries exhausted: %w", err)
	}
	return nil
}

var _ netkit.TCPReceiver = (*Socket)(nil)
