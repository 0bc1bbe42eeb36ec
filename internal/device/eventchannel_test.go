package device

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircast-project/aircast/internal/plist"
	"github.com/aircast-project/aircast/internal/wire"
)

// acceptUpgrade reads and checks the reverse-HTTP handshake, then
// switches the connection into push mode.
func acceptUpgrade(t *testing.T, conn net.Conn) {
	t.Helper()
	req := readFrame(t, conn)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/reverse", req.Path)
	assert.Equal(t, "PTTH/1.0", req.Header.Get("Upgrade"))
	assert.Equal(t, "Upgrade", req.Header.Get("Connection"))

	conn.Write(wire.BuildResponse(101, []wire.Field{
		{Name: "Upgrade", Value: "PTTH/1.0"},
		{Name: "Connection", Value: "Upgrade"},
	}, nil))
}

// pushEvent sends one event frame and waits for the client's ack.
func pushEvent(t *testing.T, conn net.Conn, category, state string) {
	t.Helper()
	body := plist.EncodeXML(plist.Dict{
		"category": plist.String(category),
		"state":    plist.String(state),
	})
	conn.Write(wire.BuildRequest("POST", "/event", []wire.Field{
		{Name: "Content-Type", Value: "text/x-apple-plist+xml"},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	}, body))

	buf := make([]byte, wire.MaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err, "ack was not sent")

	ack, err := wire.ParseResponse(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, 200, ack.Status)
	length, _, err := ack.Header.ContentLength()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestEventChannelDeliversVideoEvents(t *testing.T) {
	pushed := make(chan struct{})
	dev := startReceiver(t, func(conn net.Conn) {
		acceptUpgrade(t, conn)
		pushEvent(t, conn, "video", "loading")
		pushEvent(t, conn, "video", "playing")
		close(pushed)
		// Hold the socket open until the client goes away.
		buf := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		conn.Read(buf)
	})

	ec := newEventChannel(dev, time.Second, nil)
	ec.start()
	defer ec.Stop()

	event, ok, err := ec.Next(true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "loading", event["state"].Str())

	event, ok, err = ec.Next(true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "playing", event["state"].Str())

	<-pushed
}

func TestEventChannelAcksAndFiltersOtherCategories(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {
		acceptUpgrade(t, conn)
		// pushEvent fails the test if the ack never arrives, so a photo
		// event passing through proves filtered events are still acked.
		pushEvent(t, conn, "photo", "loading")
		pushEvent(t, conn, "video", "paused")
		buf := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		conn.Read(buf)
	})

	ec := newEventChannel(dev, time.Second, nil)
	ec.start()
	defer ec.Stop()

	event, ok, err := ec.Next(true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "paused", event["state"].Str(), "photo event should have been skipped")

	_, ok, err = ec.Next(false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventChannelUpgradeRefused(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {
		readFrame(t, conn)
		conn.Write(wire.BuildResponse(200, []wire.Field{
			{Name: "Content-Length", Value: "0"},
		}, nil))
	})

	ec := newEventChannel(dev, time.Second, nil)
	ec.start()

	_, ok, err := ec.Next(true)
	assert.False(t, ok)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "101")
}

func TestEventChannelConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ec := newEventChannel(NewDevice("127.0.0.1", port, ""), 500*time.Millisecond, nil)
	ec.start()

	_, ok, err := ec.Next(true)
	assert.False(t, ok)
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
}

func TestEventChannelStopTerminatesListener(t *testing.T) {
	dev := startReceiver(t, func(conn net.Conn) {
		acceptUpgrade(t, conn)
		buf := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		conn.Read(buf)
	})

	ec := newEventChannel(dev, time.Second, nil)
	ec.start()

	// Give the listener a beat to finish the handshake.
	time.Sleep(50 * time.Millisecond)
	ec.Stop()

	select {
	case <-ec.done:
	case <-time.After(time.Second):
		t.Fatal("listener did not terminate after Stop")
	}
}

func TestEventChannelNotifyHook(t *testing.T) {
	seen := make(chan string, 1)
	dev := startReceiver(t, func(conn net.Conn) {
		acceptUpgrade(t, conn)
		pushEvent(t, conn, "video", "stopped")
		buf := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		conn.Read(buf)
	})

	ec := newEventChannel(dev, time.Second, func(event plist.Dict) {
		seen <- event["state"].Str()
	})
	ec.start()
	defer ec.Stop()

	_, ok, err := ec.Next(true)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case state := <-seen:
		assert.Equal(t, "stopped", state)
	case <-time.After(time.Second):
		t.Fatal("notify hook never ran")
	}
}
