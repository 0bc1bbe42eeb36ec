// Package discovery finds AirPlay receivers on the local network via
// mDNS/Bonjour browsing of the _airplay._tcp service.
package discovery

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/aircast-project/aircast/internal/device"
	"github.com/aircast-project/aircast/internal/util"
)

const (
	// ServiceType is the mDNS service AirPlay receivers advertise.
	ServiceType = "_airplay._tcp"

	// Domain is the mDNS browse domain.
	Domain = "local."

	// DefaultTimeout bounds a Find sweep of the network.
	DefaultTimeout = 10 * time.Second
)

// Browse streams receivers as they are discovered. Entries are
// deduplicated by instance name. The returned channel closes when ctx
// is canceled or the browse completes.
func Browse(ctx context.Context) (<-chan device.Device, error) {
	out := make(chan device.Device)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	logger := util.ComponentLogger("discovery")

	go func() {
		defer close(out)

		seen := make(map[string]struct{})
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				dev, ok := entryToDevice(entry.Instance, entry.Port, entry.AddrIPv4)
				if !ok {
					logger.Debug().Str("instance", entry.Instance).Msg("skipping entry without an IPv4 address")
					continue
				}
				if _, dup := seen[entry.Instance]; dup {
					continue
				}
				seen[entry.Instance] = struct{}{}

				logger.Debug().
					Str("name", dev.Name).
					Str("addr", dev.Addr()).
					Msg("receiver discovered")

				select {
				case out <- dev:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(seen, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed); err != nil {
			logger.Warn().Err(err).Msg("mdns browse failed")
		}
	}()

	return out, nil
}

// Find collects receivers for up to timeout. In fast mode it returns as
// soon as the first receiver appears.
func Find(ctx context.Context, timeout time.Duration, fast bool) ([]device.Device, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := Browse(ctx)
	if err != nil {
		return nil, err
	}

	var devices []device.Device
	for dev := range stream {
		devices = append(devices, dev)
		if fast {
			break
		}
	}
	return devices, nil
}

// entryToDevice maps one mDNS entry to a Device. Receivers without an
// IPv4 address are skipped.
func entryToDevice(instance string, port int, addrs []net.IP) (device.Device, bool) {
	if len(addrs) == 0 {
		return device.Device{}, false
	}

	name := strings.TrimSuffix(instance, "."+ServiceType+"."+Domain)
	return device.NewDevice(addrs[0].String(), port, name), true
}
