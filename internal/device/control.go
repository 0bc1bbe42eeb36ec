package device

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aircast-project/aircast/internal/plist"
	"github.com/aircast-project/aircast/internal/wire"
)

// Content types the receiver uses for response and event bodies.
const (
	contentTypeParameters = "text/parameters"
	contentTypePlist      = "text/x-apple-plist+xml"
)

// ResponseKind tags the variant held by a ControlResponse.
type ResponseKind int

const (
	// ResponseAccepted: no body; the request was (or was not) accepted.
	ResponseAccepted ResponseKind = iota
	// ResponseStructured: a text/parameters body.
	ResponseStructured
	// ResponsePlist: an XML property list body.
	ResponsePlist
)

// ControlResponse is the decoded result of one control exchange.
// Exactly one variant is populated, selected by Kind.
type ControlResponse struct {
	Kind     ResponseKind
	Accepted bool
	Params   *plist.Parameters
	Dict     plist.Dict
}

// ControlChannel owns the persistent control socket to a receiver.
// It is strictly synchronous and single-owner: one in-flight Command
// owns the socket, and concurrent callers must serialize externally.
type ControlChannel struct {
	device  Device
	conn    net.Conn
	timeout time.Duration
	logger  zerolog.Logger
}

// DialControl connects the control socket to the device.
func DialControl(dev Device, timeout time.Duration) (*ControlChannel, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("tcp", dev.Addr(), timeout)
	if err != nil {
		return nil, &ConnectionError{Addr: dev.Addr(), Err: err}
	}

	return &ControlChannel{
		device:  dev,
		conn:    conn,
		timeout: timeout,
		logger: log.With().
			Str("component", "control").
			Str("device", dev.Addr()).
			Logger(),
	}, nil
}

// LocalIP returns the local address of the control socket. Serving URLs
// are built from it so the receiver fetches media over the same route it
// is being controlled on.
func (c *ControlChannel) LocalIP() string {
	addr, ok := c.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

// Command performs one framed request/response exchange on the control
// socket. Query parameters, if any, are URL-encoded onto the path. The
// response body variant is selected by status, Content-Length, and
// Content-Type per the protocol rules.
func (c *ControlChannel) Command(path, method, body string, query url.Values) (*ControlResponse, error) {
	if method == "" {
		method = "GET"
	}
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}

	raw := wire.BuildRequest(method, path, []wire.Field{
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	}, []byte(body))

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := c.conn.Write(raw); err != nil {
		return nil, &ConnectionError{Addr: c.device.Addr(), Err: err}
	}

	buf := make([]byte, wire.MaxFrameSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, &ConnectionError{Addr: c.device.Addr(), Err: err}
	}

	resp, err := wire.ParseResponse(buf[:n])
	if err != nil {
		return nil, protocolErrorf("malformed response to %s %s: %v", method, path, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.Status).
		Msg("control exchange")

	return decodeControlResponse(resp)
}

// decodeControlResponse applies the variant selection rules.
func decodeControlResponse(resp *wire.Response) (*ControlResponse, error) {
	length, _, err := resp.Header.ContentLength()
	if err != nil {
		return nil, protocolErrorf("%v", err)
	}

	// No body: the status alone is the answer.
	if length == 0 {
		return &ControlResponse{
			Kind:     ResponseAccepted,
			Accepted: resp.Status == 200,
		}, nil
	}

	switch ct := resp.Header.Get("Content-Type"); ct {
	case "":
		return nil, protocolErrorf("response has a body but no content-type")

	case contentTypeParameters:
		params, err := plist.DecodeParameters(resp.Body)
		if err != nil {
			return nil, protocolErrorf("malformed parameters body: %v", err)
		}
		return &ControlResponse{Kind: ResponseStructured, Params: params}, nil

	case contentTypePlist:
		dict, err := plist.DecodeXML(resp.Body)
		if err != nil {
			return nil, protocolErrorf("malformed plist body: %v", err)
		}
		return &ControlResponse{Kind: ResponsePlist, Dict: dict}, nil

	default:
		return nil, protocolErrorf("unknown content-type %q", ct)
	}
}

// Close closes the control socket.
func (c *ControlChannel) Close() error {
	return c.conn.Close()
}
