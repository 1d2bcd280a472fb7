package netkit

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/netsim/internal/sched"
)

type recordingTCP struct {
	local AddrKey
	got   []*Packet
}

func (r *recordingTCP) HandlePacket(ctx context.Context, pkt *Packet) { r.got = append(r.got, pkt) }
func (r *recordingTCP) LocalAddr() AddrKey                            { return r.local }

func TestHostDemuxPrefersEstablishedOverListening(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	ip := net.ParseIP("10.0.0.1")
	h := NewHost(ip, sim, log)

	listener := &recordingTCP{local: MakeAddrKey(ip, 80)}
	established := &recordingTCP{local: MakeAddrKey(ip, 80)}

	peer := MakeAddrKey(net.ParseIP("10.0.0.2"), 4000)
	require.NoError(t, h.RegisterListener(80, listener))
	h.RegisterEstablished(peer, established)

	pkt := NewDataPacket(peer, MakeAddrKey(ip, 80), 0, []byte("x"))
	h.Receive(context.Background(), pkt)

	assert.Len(t, established.got, 1)
	assert.Empty(t, listener.got)
}

func TestHostDemuxFallsBackToListening(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	ip := net.ParseIP("10.0.0.1")
	h := NewHost(ip, sim, log)

	listener := &recordingTCP{local: MakeAddrKey(ip, 80)}
	require.NoError(t, h.RegisterListener(80, listener))

	peer := MakeAddrKey(net.ParseIP("10.0.0.2"), 4000)
	pkt := NewControlPacket(peer, MakeAddrKey(ip, 80), FlagSYN, 0, 0)
	h.Receive(context.Background(), pkt)

	assert.Len(t, listener.got, 1)
}

func TestHostRejectsMisaddressedPacket(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	h := NewHost(net.ParseIP("10.0.0.1"), sim, log)
	listener := &recordingTCP{}
	require.NoError(t, h.RegisterListener(80, listener))

	wrongDest := MakeAddrKey(net.ParseIP("10.0.0.9"), 80)
	pkt := NewControlPacket(MakeAddrKey(net.ParseIP("10.0.0.2"), 4000), wrongDest, FlagSYN, 0, 0)
	h.Receive(context.Background(), pkt)

	assert.Empty(t, listener.got)
}

func TestAllocEphemeralPortPicksLowestUnused(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	h := NewHost(net.ParseIP("10.0.0.1"), sim, log)

	h.RegisterEstablished(MakeAddrKey(net.ParseIP("10.0.0.2"), 1), &recordingTCP{})
	h.tcpEstablished[AddrKey{Port: EphemeralPortLow}] = &recordingTCP{}

	port, err := h.AllocEphemeralPort()
	require.NoError(t, err)
	assert.Equal(t, uint16(EphemeralPortLow+1), port)
}
