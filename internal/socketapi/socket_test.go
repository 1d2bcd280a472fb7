package socketapi

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/netsim/internal/netkit"
	"github.com/datawire/netsim/internal/netkit/tcp"
	"github.com/datawire/netsim/internal/sched"
	"github.com/datawire/netsim/internal/simlog"
)

func newTestLogger(t *testing.T) *simlog.Logger {
	t.Helper()
	log, err := simlog.Open(afero.NewMemMapFs(), "events.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

// wireHosts builds two hosts joined by a pair of links that each drop
// packets with probability loss; loss=0 gives the clean S1/S2
// seed-scenario topology (spec.md §8).
func wireHosts(sim *sched.Scheduler, log *simlog.Logger, loss float64) (client, server *netkit.Host) {
	clientIP := net.ParseIP("10.0.0.1")
	serverIP := net.ParseIP("10.0.0.2")
	client = netkit.NewHost(clientIP, sim, log)
	server = netkit.NewHost(serverIP, sim, log)

	toServer := netkit.NewLink("c->s", sim, server, 5*time.Millisecond, 1e7, 64, loss, rand.NewSource(1))
	toClient := netkit.NewLink("s->c", sim, client, 5*time.Millisecond, 1e7, 64, loss, rand.NewSource(2))
	client.AddRoute(serverIP, toServer)
	server.AddRoute(clientIP, toClient)
	return client, server
}

// TestHandshakeAndEchoRoundTrip is the S1/S2 seed scenario: a clean
// handshake followed by a small payload echoed back, with both endpoints
// performing a graceful close (spec.md §8).
func TestHandshakeAndEchoRoundTrip(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	client, server := wireHosts(sim, log, 0)

	const port = 9000
	var serverGotData []byte
	var clientGotEcho []byte
	var serverErr, clientErr error

	ctx := context.Background()
	sim.Spawn(ctx, "server", func(ctx context.Context, f *sched.Flow) {
		listener := New(server, sim, log, tcp.VariantReno)
		if serverErr = listener.Bind(port); serverErr != nil {
			return
		}
		conn, err := listener.Accept(ctx, f)
		if err != nil {
			serverErr = err
			return
		}
		serverGotData, serverErr = conn.Recv(ctx, f)
		if serverErr != nil {
			return
		}
		if serverErr = conn.SendAll(ctx, f, serverGotData); serverErr != nil {
			return
		}
		serverErr = conn.Close(ctx, f)
	})

	sim.Spawn(ctx, "client", func(ctx context.Context, f *sched.Flow) {
		sock := New(client, sim, log, tcp.VariantReno)
		remote := netkit.MakeAddrKey(net.ParseIP("10.0.0.2"), port)
		if clientErr = sock.Connect(ctx, f, remote); clientErr != nil {
			return
		}
		if clientErr = sock.SendAll(ctx, f, []byte("hello world")); clientErr != nil {
			return
		}
		clientGotEcho, clientErr = sock.Recv(ctx, f)
		if clientErr != nil {
			return
		}
		clientErr = sock.Close(ctx, f)
	})

	require.NoError(t, sim.Run(ctx))
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, "hello world", string(serverGotData))
	assert.Equal(t, "hello world", string(clientGotEcho))
}

// TestRetransmitRecoversFromLostData is S4/S5's spirit: a lossy link still
// eventually delivers everything because the RTO guard rewinds unacked
// bytes and the socket resends them.
func TestRetransmitRecoversFromLostData(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	client, server := wireHosts(sim, log, 0.3)

	const port = 9001
	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i)
	}

	var serverGot []byte
	var serverErr, clientErr error

	ctx := context.Background()
	sim.Spawn(ctx, "server", func(ctx context.Context, f *sched.Flow) {
		listener := New(server, sim, log, tcp.VariantTahoe)
		if serverErr = listener.Bind(port); serverErr != nil {
			return
		}
		conn, err := listener.Accept(ctx, f)
		if err != nil {
			serverErr = err
			return
		}
		for {
			chunk, err := conn.Recv(ctx, f)
			if err != nil {
				serverErr = err
				return
			}
			if chunk == nil {
				break
			}
			serverGot = append(serverGot, chunk...)
		}
		serverErr = conn.Close(ctx, f)
	})

	sim.Spawn(ctx, "client", func(ctx context.Context, f *sched.Flow) {
		sock := New(client, sim, log, tcp.VariantTahoe)
		remote := netkit.MakeAddrKey(net.ParseIP("10.0.0.2"), port)
		if clientErr = sock.Connect(ctx, f, remote); clientErr != nil {
			return
		}
		if clientErr = sock.SendAll(ctx, f, payload); clientErr != nil {
			return
		}
		clientErr = sock.Close(ctx, f)
	})

	require.NoError(t, sim.Run(ctx))
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, payload, serverGot)
}

func TestStateReflectsConnectionLifecycle(t *testing.T) {
	sim := sched.New()
	log := newTestLogger(t)
	client, server := wireHosts(sim, log, 0)

	const port = 9002
	var clientState, serverState tcp.State

	ctx := context.Background()
	sim.Spawn(ctx, "server", func(ctx context.Context, f *sched.Flow) {
		listener := New(server, sim, log, tcp.VariantReno)
		require.NoError(t, listener.Bind(port))
		conn, err := listener.Accept(ctx, f)
		require.NoError(t, err)
		_, err = conn.Recv(ctx, f)
		require.NoError(t, err)
		serverState = conn.State()
		require.NoError(t, conn.Close(ctx, f))
	})

	sim.Spawn(ctx, "client", func(ctx context.Context, f *sched.Flow) {
		sock := New(client, sim, log, tcp.VariantReno)
		remote := netkit.MakeAddrKey(net.ParseIP("10.0.0.2"), port)
		require.NoError(t, sock.Connect(ctx, f, remote))
		clientState = sock.State()
		require.NoError(t, sock.SendAll(ctx, f, []byte("x")))
		require.NoError(t, sock.Close(ctx, f))
	})

	require.NoError(t, sim.Run(ctx))
	assert.Equal(t, tcp.StateEstablished, clientState)
	assert.Equal(t, tcp.StateEstablished, serverState)
}
