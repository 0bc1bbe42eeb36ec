// Package device implements the AirPlay receiver client: the synchronous
// control channel, the reverse-HTTP event channel, and the Client facade
// that composes them with the local file server.
package device

import (
	"fmt"
	"time"
)

// DefaultPort is the control port AirPlay receivers listen on.
const DefaultPort = 7000

// DefaultTimeout bounds dialing and per-command socket I/O.
const DefaultTimeout = 5 * time.Second

// Device identifies one receiver on the network. Identity is host:port;
// the name is advertisement metadata only. Immutable after construction.
type Device struct {
	Host string
	Port int
	Name string
}

// NewDevice builds a Device, applying the default control port.
func NewDevice(host string, port int, name string) Device {
	if port == 0 {
		port = DefaultPort
	}
	return Device{Host: host, Port: port, Name: name}
}

// Addr returns the host:port dial address.
func (d Device) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// String returns a human-readable identity for logs and tables.
func (d Device) String() string {
	if d.Name != "" {
		return fmt.Sprintf("%s (%s)", d.Name, d.Addr())
	}
	return d.Addr()
}
