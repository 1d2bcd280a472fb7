// Package netkit implements the IP-layer topology: addressing, packets,
// links, and hosts (spec.md §2 components 2-3, §4.2-§4.3). The TCP socket
// state machine lives one level down, in netkit/tcp.
package netkit

import (
	"fmt"
	"net"
)

// AddrKey is a comparable (IP, port) pair usable directly as a map key, the
// way the teacher's pkg/vif/ip.AddrKey is used to key its connection
// tables instead of formatting addresses into strings on every lookup.
type AddrKey struct {
	IP   [16]byte
	Port uint16
}

// MakeAddrKey builds an AddrKey from a net.IP and port. The IP is stored
// in its 16-byte form so IPv4 and IPv4-mapped IPv6 addresses compare
// equal, matching net.IP's own To16 normalization.
func MakeAddrKey(ip net.IP, port uint16) AddrKey {
	var k AddrKey
	if v6 := ip.To16(); v6 != nil {
		copy(k.IP[:], v6)
	}
	k.Port = port
	return k
}

// IsZero reports whether k is the zero value (no address at all).
func (k AddrKey) IsZero() bool {
	return k == AddrKey{}
}

// Addr returns the net.IP this key encodes.
func (k AddrKey) Addr() net.IP {
	return net.IP(k.IP[:])
}

func (k AddrKey) String() string {
	if k.IsZero() {
		return "invalid address"
	}
	return fmt.Sprintf("%s:%d", k.Addr().String(), k.Port)
}
