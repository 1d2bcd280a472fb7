package netkit

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/netsim/internal/sched"
	"github.com/datawire/netsim/internal/simlog"
)

// TCPReceiver is implemented by a TCP socket that wants packets
// demultiplexed to it by a Host (spec.md §4.3).
type TCPReceiver interface {
	HandlePacket(ctx context.Context, pkt *Packet)
	LocalAddr() AddrKey
}

// UDPReceiver is implemented by a UDP socket; delivery only, no
// reliability (spec.md §9).
type UDPReceiver interface {
	HandleDatagram(ctx context.Context, pkt *Packet)
}

// Host is an endpoint bound to one IP: it owns outbound links keyed by
// destination IP and demultiplexes inbound packets to sockets by
// protocol/port/peer-tuple (spec.md §3, §4.3).
type Host struct {
	IP  net.IP
	Sim *sched.Scheduler
	Log *simlog.Logger

	mu sync.Mutex

	outbound map[string]*Link // keyed by dest IP string

	tcpListening   map[uint16]TCPReceiver  // port -> LISTEN socket
	tcpEstablished map[AddrKey]TCPReceiver // (peer_ip,peer_port) -> established/accepted socket
	udpBound       map[uint16]UDPReceiver

	rnd *rand.Rand
}

// NewHost creates a Host with an empty routing table and a loopback link
// to itself already installed.
func NewHost(ip net.IP, sim *sched.Scheduler, log *simlog.Logger) *Host {
	h := &Host{
		IP:             ip,
		Sim:            sim,
		Log:            log,
		outbound:       make(map[string]*Link),
		tcpListening:   make(map[uint16]TCPReceiver),
		tcpEstablished: make(map[AddrKey]TCPReceiver),
		udpBound:       make(map[uint16]UDPReceiver),
		rnd:            rand.New(rand.NewSource(int64(ipHash(ip)))),
	}
	h.outbound[ip.String()] = NewLoopback("loopback:"+ip.String(), sim, h)
	return h
}

func ipHash(ip net.IP) uint32 {
	var h uint32 = 2166136261
	for _, b := range ip.To16() {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}

// AddRoute installs an outbound link to dest (by IP). Hosts own their
// outbound links for their lifetime (spec.md §3 ownership).
func (h *Host) AddRoute(destIP net.IP, link *Link) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outbound[destIP.String()] = link
}

// Send looks up the outbound link for pkt's destination IP and enqueues it
// there; if there is no route, the packet is logged and dropped (spec.md
// §4.3).
func (h *Host) Send(ctx context.Context, pkt *Packet) {
	h.mu.Lock()
	link, ok := h.outbound[pkt.DstIP.String()]
	h.mu.Unlock()
	if !ok {
		dlog.Errorf(ctx, "HOST %s: no route to %s, dropping %s", h.IP, pkt.DstIP, pkt)
		return
	}
	link.Enqueue(ctx, h.Log, pkt)
}

// Receive implements Receiver: a Link calls this when a packet arrives at
// this host (spec.md §4.3).
func (h *Host) Receive(ctx context.Context, pkt *Packet) {
	if !pkt.DstIP.Equal(h.IP) {
		dlog.Errorf(ctx, "HOST %s: received packet addressed to %s, dropping", h.IP, pkt.DstIP)
		return
	}
	switch pkt.Proto {
	case ProtoTCP:
		h.receiveTCP(ctx, pkt)
	case ProtoUDP:
		h.receiveUDP(ctx, pkt)
	}
}

func (h *Host) receiveTCP(ctx context.Context, pkt *Packet) {
	h.mu.Lock()
	peer := MakeAddrKey(pkt.SrcIP, pkt.SrcPort)
	sock, ok := h.tcpEstablished[peer]
	if !ok {
		sock, ok = h.tcpListening[pkt.DstPort]
	}
	h.mu.Unlock()
	if !ok {
		dlog.Tracef(ctx, "HOST %s: no socket for %s, dropping %s", h.IP, pkt.Dst(), pkt)
		return
	}
	sock.HandlePacket(ctx, pkt)
}

func (h *Host) receiveUDP(ctx context.Context, pkt *Packet) {
	h.mu.Lock()
	sock, ok := h.udpBound[pkt.DstPort]
	h.mu.Unlock()
	if !ok {
		dlog.Tracef(ctx, "HOST %s: no udp socket on port %d, dropping %s", h.IP, pkt.DstPort, pkt)
		return
	}
	sock.HandleDatagram(ctx, pkt)
}

// RegisterListener registers a socket as LISTEN on port.
func (h *Host) RegisterListener(port uint16, sock TCPReceiver) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tcpListening[port]; ok {
		return fmt.Errorf("netkit: port %d already in use on %s", port, h.IP)
	}
	h.tcpListening[port] = sock
	return nil
}

// RegisterEstablished registers sock under the peer tuple, taking
// precedence over the listening-port entry on delivery (spec.md §4.3,
// §9 "Host demux table").
func (h *Host) RegisterEstablished(peer AddrKey, sock TCPReceiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tcpEstablished[peer] = sock
}

// Unregister removes a socket from whichever demux table(s) it was placed
// in; safe to call with a zero peer/port.
func (h *Host) Unregister(port uint16, peer AddrKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if port != 0 {
		delete(h.tcpListening, port)
	}
	if !peer.IsZero() {
		delete(h.tcpEstablished, peer)
	}
}

// RegisterUDP binds a UDP socket to port.
func (h *Host) RegisterUDP(port uint16, sock UDPReceiver) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.udpBound[port]; ok {
		return fmt.Errorf("netkit: udp port %d already in use on %s", port, h.IP)
	}
	h.udpBound[port] = sock
	return nil
}

// AllocEphemeralPort picks the lowest unused port in [32768, 65536) across
// both TCP tables (spec.md §4.3).
func (h *Host) AllocEphemeralPort() (uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := EphemeralPortLow; p < EphemeralPortHigh; p++ {
		port := uint16(p)
		if _, ok := h.tcpListening[port]; ok {
			continue
		}
		used := false
		for addr := range h.tcpEstablished {
			if addr.Port == port {
				used = true
				break
			}
		}
		if !used {
			return port, nil
		}
	}
	return 0, fmt.Errorf("netkit: no available ports on %s", h.IP)
}
