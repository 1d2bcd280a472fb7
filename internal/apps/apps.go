// Package apps holds the minimal demo client/server flows used to drive
// scenarios end-to-end (spec.md §1 calls these explicitly peripheral to
// the simulator core). A server accepts one connection, echoes back
// whatever it reads, then half-closes; a client connects, sends one
// message, reads the echo, and closes.
package apps

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/netsim/internal/netkit"
	"github.com/datawire/netsim/internal/netkit/tcp"
	"github.com/datawire/netsim/internal/sched"
	"github.com/datawire/netsim/internal/simlog"
	"github.com/datawire/netsim/internal/socketapi"
)

// EchoServer listens on port, accepts exactly one connection, and echoes
// back every chunk it reads until the peer half-closes, then closes its
// own side.
func EchoServer(host *netkit.Host, sim *sched.Scheduler, log *simlog.Logger, port uint16, variant tcp.Variant) {
	sim.Spawn(context.Background(), fmt.Sprintf("echo-server:%s:%d", host.IP, port), func(ctx context.Context, f *sched.Flow) {
		listener := socketapi.New(host, sim, log, variant)
		if err := listener.Listen(port); err != nil {
			dlog.Errorf(ctx, "echo-server: listen on %d: %v", port, err)
			return
		}
		conn, err := listener.Accept(ctx, f)
		if err != nil {
			dlog.Errorf(ctx, "echo-server: accept: %v", err)
			return
		}
		for {
			data, rerr := conn.Recv(ctx, f)
			if rerr != nil {
				dlog.Errorf(ctx, "echo-server: recv: %v", rerr)
				return
			}
			if len(data) == 0 {
				break // peer half-closed
			}
			if serr := conn.SendAll(ctx, f, data); serr != nil {
				dlog.Errorf(ctx, "echo-server: sendall: %v", serr)
				return
			}
		}
		if err := conn.Close(ctx, f); err != nil {
			dlog.Errorf(ctx, "echo-server: close: %v", err)
		}
	})
}

// EchoClient connects to remote, sends message, waits for the echo, then
// closes. It logs the number of echoed bytes it received at dlog.Info
// level so a scenario test (or a human running the CLI) can see the round
// trip happened.
func EchoClient(host *netkit.Host, sim *sched.Scheduler, log *simlog.Logger, remote netkit.AddrKey, message []byte, variant tcp.Variant) {
	sim.Spawn(context.Background(), fmt.Sprintf("echo-client:%s->%s", host.IP, remote), func(ctx context.Context, f *sched.Flow) {
		conn := socketapi.New(host, sim, log, variant)
		if err := conn.Connect(ctx, f, remote); err != nil {
			dlog.Errorf(ctx, "echo-client: connect: %v", err)
			return
		}
		if err := conn.SendAll(ctx, f, message); err != nil {
			dlog.Errorf(ctx, "echo-client: sendall: %v", err)
			return
		}
		echoed, err := conn.Recv(ctx, f)
		if err != nil {
			dlog.Errorf(ctx, "echo-client: recv: %v", err)
			return
		}
		dlog.Infof(ctx, "echo-client: received %d bytes back", len(echoed))
		if err := conn.Close(ctx, f); err != nil {
			dlog.Errorf(ctx, "echo-client: close: %v", err)
		}
	})
}
