package netkit

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddrKeyRoundTripsIPv4(t *testing.T) {
	ip := net.ParseIP("10.0.0.7")
	k := MakeAddrKey(ip, 5555)
	assert.Equal(t, "10.0.0.7:5555", k.String())
	assert.True(t, k.Addr().Equal(ip))
	assert.False(t, k.IsZero())
}

func TestAddrKeyZeroValue(t *testing.T) {
	var k AddrKey
	assert.True(t, k.IsZero())
	assert.Equal(t, "invalid address", k.String())
}

func TestAddrKeyComparable(t *testing.T) {
	a := MakeAddrKey(net.ParseIP("10.0.0.1"), 80)
	b := MakeAddrKey(net.ParseIP("10.0.0.1"), 80)
	c := MakeAddrKey(net.ParseIP("10.0.0.2"), 80)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	m := map[AddrKey]bool{a: true}
	assert.True(t, m[b])
	assert.False(t, m[c])
}
