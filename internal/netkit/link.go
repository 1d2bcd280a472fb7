package netkit

import (
	"context"
	"math/rand"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/datawire/netsim/internal/sched"
	"github.com/datawire/netsim/internal/simlog"
)

// Receiver is whatever sits at the far end of a Link: a Host's inbound
// demux, per spec.md §4.3.
type Receiver interface {
	Receive(ctx context.Context, pkt *Packet)
}

// Link is a unidirectional, bandwidth- and queue-bounded, lossy pipe from
// one node to another (spec.md §3, §4.2). A duplex connection between two
// hosts is just two opposed Links.
type Link struct {
	Name string

	PropDelay time.Duration
	Bandwidth float64 // bytes/sec
	MaxQueue  int
	Loss      float64 // in [0,1]; mutable, per spec.md's topology DSL

	dest Receiver
	sim  *sched.Scheduler
	rnd  *rand.Rand

	queue []*Packet
	busy  bool

	queueGauge   prometheus.Gauge
	lossCounter  prometheus.Counter
	dropsCounter prometheus.Counter
}

// NewLink creates a Link that delivers to dest once enqueued packets clear
// the queue/transmit/propagate pipeline.
func NewLink(name string, sim *sched.Scheduler, dest Receiver, propDelay time.Duration, bandwidth float64, maxQueue int, loss float64, rndSource rand.Source) *Link {
	l := &Link{
		Name:      name,
		PropDelay: propDelay,
		Bandwidth: bandwidth,
		MaxQueue:  maxQueue,
		Loss:      loss,
		dest:      dest,
		sim:       sim,
		rnd:       rand.New(rndSource),
	}
	l.queueGauge = queueDepthGauge.WithLabelValues(name)
	l.lossCounter = packetsLostCounter.WithLabelValues(name, "loss")
	l.dropsCounter = packetsLostCounter.WithLabelValues(name, "overflow")
	return l
}

// NewLoopback creates the degenerate self-link every host owns, with
// negligible delay and effectively unbounded bandwidth (spec.md §4.4,
// glossary "Loopback link").
func NewLoopback(name string, sim *sched.Scheduler, dest Receiver) *Link {
	return NewLink(name, sim, dest, time.Duration(LoopbackDelay*float64(time.Second)), LoopbackBandwidth, DefaultMaxQueue, 0, rand.NewSource(1))
}

// Enqueue implements spec.md §4.2's enqueue contract: drop for loss, drop
// for queue overflow, or append and (if idle) wake the transmitter.
func (l *Link) Enqueue(ctx context.Context, log *simlog.Logger, pkt *Packet) {
	now := l.sim.Now()
	if l.Loss > 0 && l.rnd.Float64() < l.Loss {
		l.lossCounter.Inc()
		if log != nil {
			log.Event(now, simlog.EventPacketLoss, l.Name, pkt.ID)
		}
		dlog.Tracef(ctx, "LINK %s: dropped %s (loss)", l.Name, pkt)
		return
	}
	if len(l.queue) >= l.MaxQueue {
		l.dropsCounter.Inc()
		if log != nil {
			log.Event(now, simlog.EventQueueOverflow, l.Name, pkt.ID)
		}
		dlog.Tracef(ctx, "LINK %s: dropped %s (queue overflow)", l.Name, pkt)
		return
	}

	wasEmpty := len(l.queue) == 0
	l.queue = append(l.queue, pkt)
	l.queueGauge.Set(float64(len(l.queue)))
	if log != nil {
		log.Event(now, simlog.EventQueueStart, l.Name, pkt.ID)
	}
	if wasEmpty && !l.busy {
		l.sim.Spawn(ctx, "link-tx:"+l.Name, func(ctx context.Context, f *sched.Flow) {
			l.transmit(ctx, log, f)
		})
	}
}

// transmit is the link's transmitter flow (spec.md §4.2): hold the busy
// token, pop the head of the queue, sleep for the transmission time, then
// the propagation time, then deliver. Propagation of one packet overlaps
// with transmission of the next, because a fresh transmitter is spawned
// for the next packet as soon as the busy token is released, rather than
// after delivery completes.
func (l *Link) transmit(ctx context.Context, log *simlog.Logger, f *sched.Flow) {
	l.busy = true
	pkt := l.queue[0]
	l.queue = l.queue[1:]
	l.queueGauge.Set(float64(len(l.queue)))

	now := l.sim.Now()
	if log != nil {
		log.Event(now, simlog.EventQueueEnd, l.Name, pkt.ID)
		log.Event(now, simlog.EventTransmitStart, l.Name, pkt.ID)
	}

	txTime := float64(pkt.Size()) / l.Bandwidth
	f.Sleep(time.Duration(txTime * float64(time.Second)))

	if log != nil {
		log.Event(l.sim.Now(), simlog.EventTransmitEnd, l.Name, pkt.ID)
	}
	l.busy = false
	if len(l.queue) > 0 {
		l.sim.Spawn(ctx, "link-tx:"+l.Name, func(ctx context.Context, f *sched.Flow) {
			l.transmit(ctx, log, f)
		})
	}

	if log != nil {
		log.Event(l.sim.Now(), simlog.EventPropagateStart, l.Name, pkt.ID)
	}
	f.Sleep(l.PropDelay)
	if log != nil {
		log.Event(l.sim.Now(), simlog.EventPropagateEnd, l.Name, pkt.ID)
	}
	l.dest.Receive(ctx, pkt)
}

// QueueLen reports the current queue depth, for tests asserting spec.md
// §8 invariant 3 (queue length never exceeds MaxQueue).
func (l *Link) QueueLen() int { return len(l.queue) }

var (
	queueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "netsim",
		Name:      "queue_depth",
		Help:      "Current packet count queued on a link.",
	}, []string{"link"})

	packetsLostCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netsim",
		Name:      "packets_lost_total",
		Help:      "Packets dropped by a link, by reason (loss|overflow).",
	}, []string{"link", "reason"})
)

func init() {
	prometheus.MustRegister(queueDepthGauge, packetsLostCounter)
}
