package netkit

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/netsim/internal/sched"
	"github.com/datawire/netsim/internal/simlog"
)

type recordingReceiver struct {
	got []*Packet
}

func (r *recordingReceiver) Receive(ctx context.Context, pkt *Packet) {
	r.got = append(r.got, pkt)
}

func newTestLogger(t *testing.T) *simlog.Logger {
	t.Helper()
	log, err := simlog.Open(afero.NewMemMapFs(), "events.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestLinkDeliversInFIFOOrderDespitePipelining(t *testing.T) {
	sim := sched.New()
	dest := &recordingReceiver{}
	log := newTestLogger(t)
	link := NewLink("test", sim, dest, 10*time.Millisecond, 1_000_000, 10, 0, rand.NewSource(1))

	ctx := context.Background()
	sim.Spawn(ctx, "enqueuer", func(ctx context.Context, f *sched.Flow) {
		for i := 0; i < 5; i++ {
			pkt := NewDataPacket(AddrKey{Port: 1}, AddrKey{Port: 2}, uint32(i), []byte("x"))
			link.Enqueue(ctx, log, pkt)
		}
	})
	require.NoError(t, sim.Run(ctx))

	require.Len(t, dest.got, 5)
	for i, pkt := range dest.got {
		assert.Equal(t, uint32(i), pkt.Seq)
	}
}

func TestLinkDropsOnQueueOverflow(t *testing.T) {
	sim := sched.New()
	dest := &recordingReceiver{}
	log := newTestLogger(t)
	// Bandwidth low enough that the queue backs up before any packet drains.
	link := NewLink("test", sim, dest, 0, 1, 2, 0, rand.NewSource(1))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		pkt := NewDataPacket(AddrKey{Port: 1}, AddrKey{Port: 2}, uint32(i), []byte("x"))
		link.Enqueue(ctx, log, pkt)
	}
	assert.LessOrEqual(t, link.QueueLen(), 2)
}

func TestLinkDropsOnLoss(t *testing.T) {
	sim := sched.New()
	dest := &recordingReceiver{}
	log := newTestLogger(t)
	link := NewLink("test", sim, dest, 0, 1_000_000, 10, 1.0, rand.NewSource(1)) // loss=1.0: always drop

	ctx := context.Background()
	pkt := NewDataPacket(AddrKey{Port: 1}, AddrKey{Port: 2}, 0, []byte("x"))
	link.Enqueue(ctx, log, pkt)
	require.NoError(t, sim.Run(ctx))

	assert.Empty(t, dest.got)
	assert.Equal(t, 0, link.QueueLen())
}
