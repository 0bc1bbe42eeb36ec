package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryToDevice(t *testing.T) {
	dev, ok := entryToDevice(
		"Living Room._airplay._tcp.local.",
		7000,
		[]net.IP{net.ParseIP("192.0.2.7")},
	)
	require.True(t, ok)
	assert.Equal(t, "Living Room", dev.Name)
	assert.Equal(t, "192.0.2.7:7000", dev.Addr())
}

func TestEntryToDeviceBareInstanceName(t *testing.T) {
	dev, ok := entryToDevice("Apple TV", 7000, []net.IP{net.ParseIP("192.0.2.8")})
	require.True(t, ok)
	assert.Equal(t, "Apple TV", dev.Name)
}

func TestEntryToDeviceDefaultPort(t *testing.T) {
	dev, ok := entryToDevice("Apple TV", 0, []net.IP{net.ParseIP("192.0.2.8")})
	require.True(t, ok)
	assert.Equal(t, "192.0.2.8:7000", dev.Addr())
}

func TestEntryToDeviceSkipsWithoutIPv4(t *testing.T) {
	_, ok := entryToDevice("Apple TV", 7000, nil)
	assert.False(t, ok)
}
