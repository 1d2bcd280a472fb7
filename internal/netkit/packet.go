package netkit

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/datawire/netsim/internal/vtime"
)

// Header-overhead and segmentation constants, bit-exact per spec.md §6.
const (
	MSS                = 1500
	TCPHeaderOverhead  = 8
	BaseHeaderOverhead = 4

	EphemeralPortLow  = 32768
	EphemeralPortHigh = 65536 // exclusive

	LoopbackBandwidth = 1e9
	LoopbackDelay     = 1e-6

	DefaultMaxQueue = 48
)

// TCP flags. A packet is expected to carry exactly one of the
// combinations spec.md §3 lists as meaningful: data, SYN, FIN,
// SYN+ACK, or ACK.
type Flags uint8

const (
	FlagSYN Flags = 1 << iota
	FlagACK
	FlagFIN
)

func (f Flags) String() string {
	s := ""
	if f&FlagSYN != 0 {
		s += "S"
	}
	if f&FlagACK != 0 {
		s += "A"
	}
	if f&FlagFIN != 0 {
		s += "F"
	}
	if s == "" {
		return "-"
	}
	return s
}

func (f Flags) Has(o Flags) bool { return f&o == o }

var packetIDSeq uint64

func nextPacketID() uint64 {
	return atomic.AddUint64(&packetIDSeq, 1)
}

// Protocol identifies the transport carried by a Packet.
type Protocol int

const (
	ProtoTCP Protocol = iota
	ProtoUDP
)

// Packet is the IP-layer envelope spec.md §3 defines: origin/dest
// (ip, port), payload, a monotonically assigned id, and a size used by the
// link model's bandwidth accounting.
type Packet struct {
	ID      uint64
	Proto   Protocol
	SrcIP   net.IP
	SrcPort uint16
	DstIP   net.IP
	DstPort uint16
	Payload []byte

	// TCP-only fields; zero/ignored for UDP packets.
	Seq       uint32
	Ack       uint32
	Flags     Flags
	Timestamp vtime.Time // send-time, echoed back in the ACK for RTT estimation
}

// Size is the packet's size in bytes for the purpose of link bandwidth
// accounting: payload plus header overhead (spec.md's "size ≥ header
// overhead" invariant).
func (p *Packet) Size() int {
	overhead := BaseHeaderOverhead
	if p.Proto == ProtoTCP {
		overhead += TCPHeaderOverhead
	}
	return len(p.Payload) + overhead
}

// Src returns the packet's origin as an AddrKey.
func (p *Packet) Src() AddrKey { return MakeAddrKey(p.SrcIP, p.SrcPort) }

// Dst returns the packet's destination as an AddrKey.
func (p *Packet) Dst() AddrKey { return MakeAddrKey(p.DstIP, p.DstPort) }

// Kind renders the single-token kind spec.md §6 wants on tcp-send/tcp-recv
// log lines ("data"|"ack"|"syn"|"fin"|combinations).
func (p *Packet) Kind() string {
	switch {
	case p.Flags.Has(FlagSYN | FlagACK):
		return "syn+ack"
	case p.Flags.Has(FlagSYN):
		return "syn"
	case p.Flags.Has(FlagFIN):
		if p.Flags.Has(FlagACK) {
			return "fin+ack"
		}
		return "fin"
	case len(p.Payload) > 0:
		return "data"
	default:
		return "ack"
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("pkt#%d %s->%s %s len=%d", p.ID, p.Src(), p.Dst(), p.Kind(), len(p.Payload))
}

// NewDataPacket builds a TCP segment carrying payload with the given
// sequence number; the caller fills in Ack/Flags/Timestamp before
// sending.
func NewDataPacket(src, dst AddrKey, seq uint32, payload []byte) *Packet {
	return &Packet{
		ID:      nextPacketID(),
		Proto:   ProtoTCP,
		SrcIP:   src.Addr(),
		SrcPort: src.Port,
		DstIP:   dst.Addr(),
		DstPort: dst.Port,
		Seq:     seq,
		Payload: payload,
	}
}

// NewControlPacket builds a zero-payload TCP packet (a bare SYN, ACK, or
// FIN, or a combination) from src to dst.
func NewControlPacket(src, dst AddrKey, flags Flags, seq, ack uint32) *Packet {
	return &Packet{
		ID:      nextPacketID(),
		Proto:   ProtoTCP,
		SrcIP:   src.Addr(),
		SrcPort: src.Port,
		DstIP:   dst.Addr(),
		DstPort: dst.Port,
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
	}
}

// NewUDPPacket builds a UDP datagram, used only by the vestigial
// delivery-only UdpSocket path (spec.md §9).
func NewUDPPacket(src, dst AddrKey, payload []byte) *Packet {
	return &Packet{
		ID:      nextPacketID(),
		Proto:   ProtoUDP,
		SrcIP:   src.Addr(),
		SrcPort: src.Port,
		DstIP:   dst.Addr(),
		DstPort: dst.Port,
		Payload: payload,
	}
}
