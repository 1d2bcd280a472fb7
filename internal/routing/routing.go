// Package routing provides the host routing table spec.md §9 resolves as
// "static until a routing spec is added": a fixed ip -> link mapping
// installed once at topology setup. The source's distance-vector
// fragments (Node, Routing, RoutingPacket referencing never-initialized
// __routing/__matrix/__vector fields) are not ported — see DESIGN.md.
package routing

import (
	"fmt"
	"net"

	"github.com/datawire/netsim/internal/netkit"
)

// Table is a routing table that can resolve a destination IP to an
// outbound link. StaticTable is the only implementation provided; a
// future distance-vector implementation would satisfy the same interface.
type Table interface {
	Resolve(dest net.IP) (*netkit.Link, bool)
}

// StaticTable is a fixed ip -> link map, installed once and never
// recomputed at runtime.
type StaticTable struct {
	routes map[string]*netkit.Link
}

// NewStaticTable creates an empty StaticTable.
func NewStaticTable() *StaticTable {
	return &StaticTable{routes: make(map[string]*netkit.Link)}
}

// Set installs dest -> link.
func (t *StaticTable) Set(dest net.IP, link *netkit.Link) {
	t.routes[dest.String()] = link
}

// Resolve implements Table.
func (t *StaticTable) Resolve(dest net.IP) (*netkit.Link, bool) {
	l, ok := t.routes[dest.String()]
	return l, ok
}

// ApplyTo installs every route in t onto host via AddRoute, the mechanism
// a Host actually uses to pick an outbound link (internal/netkit.Host
// keeps its own copy of the routing table rather than querying Table on
// every Send, since the table never changes mid-run for StaticTable).
func (t *StaticTable) ApplyTo(host *netkit.Host) error {
	if host == nil {
		return fmt.Errorf("routing: nil host")
	}
	for destStr, link := range t.routes {
		ip := net.ParseIP(destStr)
		if ip == nil {
			return fmt.Errorf("routing: invalid destination %q", destStr)
		}
		host.AddRoute(ip, link)
	}
	return nil
}
