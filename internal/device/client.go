package device

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aircast-project/aircast/internal/fileserver"
	"github.com/aircast-project/aircast/internal/plist"
	"github.com/aircast-project/aircast/internal/util"
)

// Options tunes a Client connection.
type Options struct {
	// Timeout bounds dialing and per-command socket I/O. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// OnEvent, when set, observes every forwarded playback event in
	// addition to the NextEvent queue. Runs on the listener goroutine.
	OnEvent func(plist.Dict)
}

// Client is the high-level handle for one receiver. It owns the control
// channel, starts the event channel on first use, and runs at most one
// file server at a time for Serve.
type Client struct {
	device  Device
	control *ControlChannel
	timeout time.Duration
	onEvent func(plist.Dict)
	logger  zerolog.Logger

	mu          sync.Mutex
	events      *EventChannel
	cancelServe context.CancelFunc
	closed      bool
}

// Connect dials the receiver's control port and returns a ready Client.
func Connect(dev Device, opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	control, err := DialControl(dev, timeout)
	if err != nil {
		return nil, err
	}

	return &Client{
		device:  dev,
		control: control,
		timeout: timeout,
		onEvent: opts.OnEvent,
		logger: util.ComponentLogger("client").With().
			Str("device", dev.Addr()).
			Logger(),
	}, nil
}

// Device returns the receiver this client is connected to.
func (c *Client) Device() Device {
	return c.device
}

// ServerInfo fetches the receiver's capability and identity plist.
func (c *Client) ServerInfo() (plist.Dict, error) {
	resp, err := c.control.Command("/server-info", "GET", "", nil)
	if err != nil {
		return nil, err
	}
	if resp.Kind != ResponsePlist {
		return nil, protocolErrorf("server-info returned no plist body")
	}
	return resp.Dict, nil
}

// Play asks the receiver to start fetching and playing the given URL
// from the given position, expressed as a fraction of the duration.
func (c *Client) Play(mediaURL string, position float64) (bool, error) {
	body := fmt.Sprintf(
		"Content-Location: %s\nStart-Position: %s\n\n",
		mediaURL, formatPosition(position),
	)

	resp, err := c.control.Command("/play", "POST", body, nil)
	if err != nil {
		return false, err
	}
	return resp.Kind == ResponseAccepted && resp.Accepted, nil
}

// Rate sets the playback rate: 0 pauses, 1 resumes.
func (c *Client) Rate(value float64) (bool, error) {
	query := url.Values{"value": {strconv.FormatFloat(value, 'f', -1, 64)}}
	resp, err := c.control.Command("/rate", "POST", "", query)
	if err != nil {
		return false, err
	}
	return resp.Kind == ResponseAccepted && resp.Accepted, nil
}

// Stop ends the current playback session.
func (c *Client) Stop() (bool, error) {
	resp, err := c.control.Command("/stop", "POST", "", nil)
	if err != nil {
		return false, err
	}
	return resp.Kind == ResponseAccepted && resp.Accepted, nil
}

// PlaybackInfo fetches the current playback state. When nothing is
// playing some receivers answer with an empty response instead of a
// plist; that is reported as playing=false with a nil dict.
func (c *Client) PlaybackInfo() (plist.Dict, bool, error) {
	resp, err := c.control.Command("/playback-info", "GET", "", nil)
	if err != nil {
		return nil, false, err
	}
	if resp.Kind == ResponsePlist {
		return resp.Dict, true, nil
	}
	return nil, resp.Accepted, nil
}

// Scrub reads the current duration and position in seconds.
func (c *Client) Scrub() (duration, position float64, err error) {
	resp, err := c.control.Command("/scrub", "GET", "", nil)
	if err != nil {
		return 0, 0, err
	}
	if resp.Kind != ResponseStructured {
		return 0, 0, protocolErrorf("scrub returned no parameters body")
	}

	values, err := resp.Params.Floats()
	if err != nil {
		return 0, 0, protocolErrorf("malformed scrub values: %v", err)
	}
	return values["duration"], values["position"], nil
}

// ScrubTo seeks to the given position in seconds and returns the
// resulting duration and position. The seek response itself carries no
// values, so this is always two round trips: the POST, then a fresh
// Scrub read.
func (c *Client) ScrubTo(position float64) (duration, pos float64, err error) {
	query := url.Values{"position": {strconv.FormatFloat(position, 'f', -1, 64)}}
	if _, err := c.control.Command("/scrub", "POST", "", query); err != nil {
		return 0, 0, err
	}
	return c.Scrub()
}

// formatPosition renders a start position the way receivers see it on
// the wire, always with a decimal point: 0 becomes "0.0".
func formatPosition(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// GetProperty is unavailable: the property endpoints speak binary
// property lists only.
func (c *Client) GetProperty(name string) (plist.Dict, error) {
	return nil, ErrUnsupported
}

// SetProperty is unavailable for the same reason as GetProperty.
func (c *Client) SetProperty(name string, value plist.Dict) error {
	return ErrUnsupported
}

// NextEvent returns the next video playback event pushed by the
// receiver, starting the event channel on first call. In blocking mode
// it waits; in non-blocking mode it drains what is queued and returns
// ok=false. An error means the event channel died.
func (c *Client) NextEvent(block bool) (plist.Dict, bool, error) {
	c.mu.Lock()
	if c.events == nil {
		c.events = newEventChannel(c.device, c.timeout, c.onEvent)
		c.events.start()
	}
	ec := c.events
	c.mu.Unlock()

	return ec.Next(block)
}

// Serve publishes local files over HTTP for the receiver to fetch and
// returns one URL per input path, in input order. URLs are built from
// the control socket's local address so the receiver fetches over the
// route it is already talking to us on. At most one file server runs
// per client; a new Serve replaces the previous one.
func (c *Client) Serve(paths ...string) ([]string, error) {
	srv, err := fileserver.New(paths, fileserver.Config{AllowedHost: c.device.Host})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.cancelServe != nil {
		c.cancelServe()
	}
	c.cancelServe = cancel
	c.mu.Unlock()

	go func() {
		if err := srv.Start(ctx); err != nil {
			c.logger.Error().Err(err).Msg("file server failed")
		}
	}()

	var bound string
	select {
	case bound = <-srv.Ready():
	case <-time.After(c.timeout):
		cancel()
		return nil, fmt.Errorf("file server did not come up within %s", c.timeout)
	}

	_, port, err := net.SplitHostPort(bound)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("bad file server address %q: %w", bound, err)
	}

	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		name := url.PathEscape(filepath.Base(p))
		urls = append(urls, fmt.Sprintf("http://%s:%s/%s", c.control.LocalIP(), port, name))
	}

	c.logger.Info().Strs("urls", urls).Msg("serving media")
	return urls, nil
}

// Close tears down the event channel, any running file server, and the
// control socket. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.events != nil {
		c.events.Stop()
	}
	if c.cancelServe != nil {
		c.cancelServe()
		c.cancelServe = nil
	}
	return c.control.Close()
}
