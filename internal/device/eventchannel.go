package device

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aircast-project/aircast/internal/plist"
	"github.com/aircast-project/aircast/internal/wire"
)

const (
	// eventPollInterval is the read deadline of one listener iteration.
	// It bounds how long a stop signal can go unobserved.
	eventPollInterval = 100 * time.Millisecond

	eventPath = "/event"

	// eventCategory is the only category forwarded to the consumer.
	// Everything else is acknowledged on the wire and discarded.
	eventCategory = "video"
)

// eventAck is the fixed acknowledgment sent for every received event,
// including ones that are then filtered out.
var eventAck = wire.BuildResponse(200, []wire.Field{
	{Name: "Content-Length", Value: "0"},
}, nil)

// upgradeRequest is the fixed reverse-HTTP handshake.
var upgradeRequest = wire.BuildRequest("POST", "/reverse", []wire.Field{
	{Name: "Upgrade", Value: "PTTH/1.0"},
	{Name: "Connection", Value: "Upgrade"},
}, nil)

// EventChannel receives state-change notifications from a receiver over
// a second socket upgraded to reverse HTTP: after the 101 handshake the
// receiver pushes POST /event requests at us and we acknowledge each one.
//
// The listener runs on its own goroutine, blocking on socket I/O
// independently of the caller. Delivery to the caller crosses an
// unbounded FIFO queue; listener failures travel the same queue so they
// surface on the next consumption instead of vanishing.
type EventChannel struct {
	device  Device
	timeout time.Duration
	logger  zerolog.Logger

	// notify, when set, observes every forwarded event. It runs on the
	// listener goroutine and must not block.
	notify func(plist.Dict)

	out      *fifo
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// newEventChannel prepares a channel without touching the network.
// The socket and listener goroutine are created by start.
func newEventChannel(dev Device, timeout time.Duration, notify func(plist.Dict)) *EventChannel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EventChannel{
		device:  dev,
		timeout: timeout,
		notify:  notify,
		out:     newFIFO(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		logger: log.With().
			Str("component", "events").
			Str("device", dev.Addr()).
			Logger(),
	}
}

// start launches the listener goroutine. Connection and handshake
// failures are funneled through the delivery queue, so the first Next
// call reports them instead of blocking forever.
func (ec *EventChannel) start() {
	go ec.listen()
}

// Next returns the next event. In blocking mode it waits for one; in
// non-blocking mode it drains only what is already queued and then
// returns ok=false. A non-nil error means the listener died: it is
// surfaced exactly once and the channel is finished.
func (ec *EventChannel) Next(block bool) (plist.Dict, bool, error) {
	d, ok := ec.out.pop(block)
	if !ok {
		return nil, false, nil
	}
	if d.err != nil {
		return nil, false, d.err
	}
	return d.event, true, nil
}

// Stop signals the listener to exit. Termination is observed within one
// poll interval. Safe to call multiple times and before start.
func (ec *EventChannel) Stop() {
	ec.stopOnce.Do(func() {
		close(ec.stopCh)
	})
}

// listen is the receive loop. Any exit path closes the delivery queue.
func (ec *EventChannel) listen() {
	defer close(ec.done)
	defer ec.out.close()

	conn, err := ec.upgrade()
	if err != nil {
		ec.logger.Warn().Err(err).Msg("event channel setup failed")
		ec.out.push(delivery{err: err})
		return
	}
	defer conn.Close()

	ec.logger.Debug().Msg("event channel listening")

	buf := make([]byte, wire.MaxFrameSize)
	for {
		select {
		case <-ec.stopCh:
			ec.logger.Debug().Msg("event channel stopped")
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(eventPollInterval))
		n, err := conn.Read(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			ec.out.push(delivery{err: &ConnectionError{Addr: ec.device.Addr(), Err: err}})
			return
		}

		event, err := ec.decodeEvent(buf[:n])
		if err != nil {
			ec.out.push(delivery{err: err})
			return
		}

		// Acknowledge before filtering: the receiver expects a response
		// for every push regardless of whether we care about it.
		conn.SetWriteDeadline(time.Now().Add(ec.timeout))
		if _, err := conn.Write(eventAck); err != nil {
			ec.out.push(delivery{err: &ConnectionError{Addr: ec.device.Addr(), Err: err}})
			return
		}

		category := event["category"].Str()
		if category != eventCategory {
			ec.logger.Debug().Str("category", category).Msg("discarding non-video event")
			continue
		}

		if ec.notify != nil {
			ec.notify(event)
		}
		ec.out.push(delivery{event: event})
	}
}

// upgrade opens the event socket and performs the PTTH/1.0 handshake.
func (ec *EventChannel) upgrade() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", ec.device.Addr(), ec.timeout)
	if err != nil {
		return nil, &ConnectionError{Addr: ec.device.Addr(), Err: err}
	}

	conn.SetDeadline(time.Now().Add(ec.timeout))
	if _, err := conn.Write(upgradeRequest); err != nil {
		conn.Close()
		return nil, &ConnectionError{Addr: ec.device.Addr(), Err: err}
	}

	buf := make([]byte, wire.MaxFrameSize)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Addr: ec.device.Addr(), Err: err}
	}

	resp, err := wire.ParseResponse(buf[:n])
	if err != nil {
		conn.Close()
		return nil, protocolErrorf("malformed upgrade response: %v", err)
	}
	if resp.Status != 101 {
		conn.Close()
		return nil, protocolErrorf("upgrade refused: expected 101 Switching Protocols, got %d", resp.Status)
	}

	return conn, nil
}

// decodeEvent validates and decodes one pushed event frame.
func (ec *EventChannel) decodeEvent(raw []byte) (plist.Dict, error) {
	req, err := wire.ParseRequest(raw)
	if err != nil {
		return nil, protocolErrorf("malformed event request: %v", err)
	}

	if req.Path != eventPath {
		return nil, protocolErrorf("unexpected event path %q", req.Path)
	}
	if ct := req.Header.Get("Content-Type"); ct != contentTypePlist {
		return nil, protocolErrorf("unexpected event content-type %q", ct)
	}
	length, _, err := req.Header.ContentLength()
	if err != nil {
		return nil, protocolErrorf("%v", err)
	}
	if length == 0 {
		return nil, protocolErrorf("event has a zero length body")
	}

	event, err := plist.DecodeXML(req.Body)
	if err != nil {
		if errors.Is(err, plist.ErrBinaryFormat) {
			return nil, protocolErrorf("event body is a binary plist")
		}
		return nil, protocolErrorf("malformed event body: %v", err)
	}
	return event, nil
}
