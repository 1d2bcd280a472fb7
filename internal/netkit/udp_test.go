package netkit

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/netsim/internal/sched"
)

func TestUDPSendToDeliversPayloadDirectly(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	host := NewHost(net.ParseIP("10.0.0.1"), sim, log)

	u, err := NewUDPSocket(host, 5000)
	require.NoError(t, err)

	ctx := context.Background()
	dest := MakeAddrKey(net.ParseIP("10.0.0.1"), 5000)
	u.SendTo(ctx, dest, []byte("ping"))
	require.NoError(t, sim.Run(ctx))

	payload, from, ok := u.RecvFrom()
	require.True(t, ok)
	assert.Equal(t, "ping", string(payload))
	assert.Equal(t, u.LocalAddr(), from)
}

func TestUDPRecvFromIsEmptyWithNothingQueued(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	host := NewHost(net.ParseIP("10.0.0.1"), sim, log)

	u, err := NewUDPSocket(host, 5001)
	require.NoError(t, err)

	_, _, ok := u.RecvFrom()
	assert.False(t, ok)
}

func TestUDPHandleDatagramDropsWhenInboxFull(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	host := NewHost(net.ParseIP("10.0.0.1"), sim, log)

	u, err := NewUDPSocket(host, 5002)
	require.NoError(t, err)

	src := MakeAddrKey(net.ParseIP("10.0.0.2"), 9)
	for i := 0; i < 100; i++ {
		u.HandleDatagram(context.Background(), NewUDPPacket(src, u.LocalAddr(), []byte("x")))
	}

	received := 0
	for {
		_, _, ok := u.RecvFrom()
		if !ok {
			break
		}
		received++
	}
	assert.Less(t, received, 100)
	assert.Greater(t, received, 0)
}

func TestNewUDPSocketRejectsDuplicatePortBind(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	host := NewHost(net.ParseIP("10.0.0.1"), sim, log)

	_, err := NewUDPSocket(host, 5003)
	require.NoError(t, err)

	_, err = NewUDPSocket(host, 5003)
	assert.Error(t, err)
}
