package netkit

import "context"

// UdpSocket is the delivery-only UDP path spec.md §9 sanctions: no
// retransmission, no reassembly, no window, demultiplexed by destination
// port alone. Datagrams that lose the race for a bound port, or that are
// dropped by the underlying Link, are simply never seen by RecvFrom.
type UdpSocket struct {
	host  *Host
	local AddrKey
	inbox chan *Packet
}

// NewUDPSocket binds a UdpSocket to port on host.
func NewUDPSocket(host *Host, port uint16) (*UdpSocket, error) {
	u := &UdpSocket{
		host:  host,
		local: MakeAddrKey(host.IP, port),
		inbox: make(chan *Packet, 64),
	}
	if err := host.RegisterUDP(port, u); err != nil {
		return nil, err
	}
	return u, nil
}

// LocalAddr returns the socket's bound (ip, port).
func (u *UdpSocket) LocalAddr() AddrKey { return u.local }

// SendTo fires payload at dest with no delivery guarantee whatsoever.
func (u *UdpSocket) SendTo(ctx context.Context, dest AddrKey, payload []byte) {
	pkt := NewUDPPacket(u.local, dest, payload)
	u.host.Send(ctx, pkt)
}

// HandleDatagram implements UDPReceiver: queues pkt for a concurrent
// RecvFrom. Since only one flow runs at a time, handing this to a
// buffered channel rather than a sched.Event is deliberate: RecvFrom's
// caller may not be a flow at all (UDP has no notion of blocking the
// logical clock on a datagram the way TCP's Event-based waits do), so it
// reads with a plain non-blocking channel receive.
func (u *UdpSocket) HandleDatagram(ctx context.Context, pkt *Packet) {
	select {
	case u.inbox <- pkt:
	default:
		// inbox full: drop, matching "no reliability" (spec.md §9)
	}
}

// RecvFrom returns the next buffered datagram and its source, or ok=false
// if none is currently queued.
func (u *UdpSocket) RecvFrom() (payload []byte, from AddrKey, ok bool) {
	select {
	case pkt := <-u.inbox:
		return pkt.Payload, pkt.Src(), true
	default:
		return nil, AddrKey{}, false
	}
}
