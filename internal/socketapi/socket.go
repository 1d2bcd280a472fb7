// Package socketapi is the BSD-style socket surface spec.md §6 exposes to
// application flows: Bind/Listen/Accept/Connect/SendAll/Recv/Close, each a
// thin wrapper that pins the calling flow to a tcp.Socket. It exists
// mainly to keep internal/netkit/tcp free of the sched.Flow plumbing that
// every blocking call needs, the way the teacher keeps its TUN device
// handler (pkg/vif/tcp) separate from the higher-level stream API it's
// wrapped in elsewhere in the same repo.
package socketapi

import (
	"context"

	"github.com/datawire/netsim/internal/netkit"
	"github.com/datawire/netsim/internal/netkit/tcp"
	"github.com/datawire/netsim/internal/sched"
	"github.com/datawire/netsim/internal/simlog"
)

// Socket is a BSD-style handle bound to one flow: every blocking method
// suspends the Flow it is given, never any other.
type Socket struct {
	sock *tcp.Socket
	host *netkit.Host
}

// New creates an unbound socket using variant for congestion control.
func New(host *netkit.Host, sim *sched.Scheduler, log *simlog.Logger, variant tcp.Variant) *Socket {
	return &Socket{
		sock: tcp.NewSocket(host, sim, log, variant),
		host: host,
	}
}

// Bind claims port and puts the socket into LISTEN.
func (s *Socket) Bind(port uint16) error {
	return s.sock.Bind(port)
}

// Listen is a no-op beyond Bind in this model: spec.md has no separate
// backlog concept, so listen(port) is just bind-then-LISTEN (spec.md
// §4.4.1). It is kept as its own method to match the familiar BSD call
// sequence bind/listen/accept.
func (s *Socket) Listen(port uint16) error {
	return s.Bind(port)
}

// Accept blocks f until a connection arrives, returning a new Socket for
// the accepted connection; it starts in SYN_RCVD and becomes ESTABLISHED
// when the peer's final handshake ACK arrives.
func (s *Socket) Accept(ctx context.Context, f *sched.Flow) (*Socket, error) {
	child, err := s.sock.Accept(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Socket{sock: child, host: s.host}, nil
}

// Connect blocks f through the active-open handshake to (ip, port).
func (s *Socket) Connect(ctx context.Context, f *sched.Flow, remote netkit.AddrKey) error {
	return s.sock.Connect(ctx, f, remote)
}

// SendAll blocks f until every byte of data has been acknowledged.
func (s *Socket) SendAll(ctx context.Context, f *sched.Flow, data []byte) error {
	return s.sock.SendAll(ctx, f, data)
}

// Recv blocks f until at least one byte has arrived, or the peer has
// half-closed (a nil, nil return).
func (s *Socket) Recv(ctx context.Context, f *sched.Flow) ([]byte, error) {
	return s.sock.Recv(ctx, f)
}

// Close blocks f through teardown (spec.md §4.4.4).
func (s *Socket) Close(ctx context.Context, f *sched.Flow) error {
	return s.sock.Close(ctx, f)
}

// State returns the underlying connection's TCP state, mostly useful from
// tests and scenario assertions.
func (s *Socket) State() tcp.State { return s.sock.State() }

// LocalAddr returns the socket's bound (ip, port).
func (s *Socket) LocalAddr() netkit.AddrKey { return s.sock.LocalAddr() }
