package device

import (
	"net"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircast-project/aircast/internal/plist"
	"github.com/aircast-project/aircast/internal/wire"
)

// startReceiver runs a scripted receiver: handler gets each accepted
// connection on its own goroutine and speaks the raw framed protocol.
func startReceiver(t *testing.T, handler func(conn net.Conn)) Device {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handler(conn)
			}()
		}
	}()

	return NewDevice("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, "scripted")
}

// readFrame reads one frame from the peer and parses it as a request.
func readFrame(t *testing.T, conn net.Conn) *wire.Request {
	t.Helper()
	buf := make([]byte, wire.MaxFrameSize)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	req, err := wire.ParseRequest(buf[:n])
	require.NoError(t, err)
	return req
}

func respond(conn net.Conn, status int, contentType string, body []byte) {
	fields := []wire.Field{
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	}
	if contentType != "" {
		fields = append(fields, wire.Field{Name: "Content-Type", Value: contentType})
	}
	conn.Write(wire.BuildResponse(status, fields, body))
}

func dialTestControl(t *testing.T, dev Device) *ControlChannel {
	t.Helper()
	cc, err := DialControl(dev, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return cc
}

func TestCommandAccepted(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {
		req := readFrame(t, conn)
		assert.Equal(t, "POST", req.Method)
		assert.Equal(t, "/stop", req.Path)
		respond(conn, 200, "", nil)
	})

	cc := dialTestControl(t, dev)
	resp, err := cc.Command("/stop", "POST", "", nil)
	require.NoError(t, err)
	assert.Equal(t, ResponseAccepted, resp.Kind)
	assert.True(t, resp.Accepted)
}

func TestCommandRejected(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {
		readFrame(t, conn)
		respond(conn, 404, "", nil)
	})

	cc := dialTestControl(t, dev)
	resp, err := cc.Command("/stop", "POST", "", nil)
	require.NoError(t, err)
	assert.Equal(t, ResponseAccepted, resp.Kind)
	assert.False(t, resp.Accepted)
}

func TestCommandParametersBody(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {
		req := readFrame(t, conn)
		assert.Equal(t, "GET", req.Method)
		respond(conn, 200, "text/parameters", []byte("duration: 120.5\r\nposition: 2.25\r\n"))
	})

	cc := dialTestControl(t, dev)
	resp, err := cc.Command("/scrub", "", "", nil)
	require.NoError(t, err)
	require.Equal(t, ResponseStructured, resp.Kind)

	values, err := resp.Params.Floats()
	require.NoError(t, err)
	assert.Equal(t, 120.5, values["duration"])
	assert.Equal(t, 2.25, values["position"])
}

func TestCommandPlistBody(t *testing.T) {
	body := plist.EncodeXML(plist.Dict{
		"model":    plist.String("AppleTV3,2"),
		"features": plist.Integer(919),
	})

	dev := startReceiver(t, func(conn net.Conn) {
		readFrame(t, conn)
		respond(conn, 200, "text/x-apple-plist+xml", body)
	})

	cc := dialTestControl(t, dev)
	resp, err := cc.Command("/server-info", "GET", "", nil)
	require.NoError(t, err)
	require.Equal(t, ResponsePlist, resp.Kind)
	assert.Equal(t, "AppleTV3,2", resp.Dict["model"].Str())
	assert.Equal(t, int64(919), resp.Dict["features"].Int())
}

func TestCommandUnknownContentType(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {
		readFrame(t, conn)
		respond(conn, 200, "application/json", []byte(`{}`))
	})

	cc := dialTestControl(t, dev)
	_, err := cc.Command("/server-info", "GET", "", nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "unknown content-type")
}

func TestCommandMissingContentType(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {
		readFrame(t, conn)
		respond(conn, 200, "", []byte("something"))
	})

	cc := dialTestControl(t, dev)
	_, err := cc.Command("/server-info", "GET", "", nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestCommandQueryEncoding(t *testing.T) {
	paths := make(chan string, 1)
	dev := startReceiver(t, func(conn net.Conn) {
		req := readFrame(t, conn)
		paths <- req.Path
		respond(conn, 200, "", nil)
	})

	cc := dialTestControl(t, dev)
	_, err := cc.Command("/rate", "POST", "", url.Values{"value": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, "/rate?value=1", <-paths)
}

func TestCommandRequestBody(t *testing.T) {
	bodies := make(chan string, 1)
	dev := startReceiver(t, func(conn net.Conn) {
		req := readFrame(t, conn)
		bodies <- string(req.Body)
		respond(conn, 200, "", nil)
	})

	cc := dialTestControl(t, dev)
	_, err := cc.Command("/play", "POST", "Content-Location: http://host/f.mp4\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "Content-Location: http://host/f.mp4\n", <-bodies)
}

func TestDialControlRefused(t *testing.T) {
	// Grab a port that is guaranteed closed.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = DialControl(NewDevice("127.0.0.1", port, ""), 500*time.Millisecond)
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
}

func TestLocalIP(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {})

	cc := dialTestControl(t, dev)
	assert.Equal(t, "127.0.0.1", cc.LocalIP())
}
