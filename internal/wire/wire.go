// Package wire implements the minimal HTTP-like framing used by the AirPlay
// control protocol. Both directions of the protocol exchange single frames
// that look like HTTP/1.1 messages, but arrive as one already-buffered read
// from a raw socket, so the parsers here operate directly on byte slices
// rather than on a stream abstraction.
package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// MaxFrameSize is the maximum number of bytes read from a socket for a
// single control or event frame.
const MaxFrameSize = 8192

const crlf = "\r\n"

// Header holds message headers with case-insensitive lookup.
// Keys are stored lower-cased.
type Header map[string]string

// Set stores a header value under its lower-cased name.
func (h Header) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

// Get returns the value for a header name, or "" if absent.
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

// ContentLength returns the parsed Content-Length header.
// A missing header yields (0, false); a malformed one yields an error.
func (h Header) ContentLength() (int, bool, error) {
	raw, ok := h["content-length"]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, true, fmt.Errorf("invalid Content-Length %q", raw)
	}
	return n, true, nil
}

// Field is a single header line used when building outgoing frames.
// Building uses a slice rather than a Header map so the emitted order
// is deterministic.
type Field struct {
	Name  string
	Value string
}

// Request is a parsed inbound request frame (reverse-HTTP events).
type Request struct {
	Method string
	Path   string
	Header Header
	Body   []byte
}

// Response is a parsed inbound response frame (control channel).
type Response struct {
	Status int
	Reason string
	Header Header
	Body   []byte
}

// ParseResponse parses a buffered response frame.
// The body must be at least as long as the declared Content-Length;
// a short body means the frame is malformed or was truncated by the
// bounded read, and is rejected rather than silently accepted.
func ParseResponse(data []byte) (*Response, error) {
	statusLine, header, body, err := splitFrame(data)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, fmt.Errorf("malformed status line %q", statusLine)
	}

	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed status code in %q", statusLine)
	}

	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	body, err = clampBody(header, body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status: status,
		Reason: reason,
		Header: header,
		Body:   body,
	}, nil
}

// ParseRequest parses a buffered request frame.
func ParseRequest(data []byte) (*Request, error) {
	requestLine, header, body, err := splitFrame(data)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, fmt.Errorf("malformed request line %q", requestLine)
	}

	body, err = clampBody(header, body)
	if err != nil {
		return nil, err
	}

	return &Request{
		Method: parts[0],
		Path:   parts[1],
		Header: header,
		Body:   body,
	}, nil
}

// BuildRequest frames an outgoing request. Fields are emitted in order.
func BuildRequest(method, path string, fields []Field, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte(' ')
	buf.WriteString(path)
	buf.WriteString(" HTTP/1.1")
	buf.WriteString(crlf)
	writeFields(&buf, fields)
	buf.WriteString(crlf)
	buf.Write(body)
	return buf.Bytes()
}

// BuildResponse frames an outgoing response. Fields are emitted in order.
func BuildResponse(status int, fields []Field, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s", status, statusText(status))
	buf.WriteString(crlf)
	writeFields(&buf, fields)
	buf.WriteString(crlf)
	buf.Write(body)
	return buf.Bytes()
}

// splitFrame separates a frame into start line, headers, and body.
func splitFrame(data []byte) (string, Header, []byte, error) {
	if len(data) == 0 {
		return "", nil, nil, fmt.Errorf("empty frame")
	}

	idx := bytes.Index(data, []byte(crlf+crlf))
	if idx < 0 {
		return "", nil, nil, fmt.Errorf("frame has no header terminator")
	}

	head := string(data[:idx])
	body := data[idx+4:]

	lines := strings.Split(head, crlf)
	startLine := lines[0]

	header := make(Header, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return "", nil, nil, fmt.Errorf("malformed header line %q", line)
		}
		header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	return startLine, header, body, nil
}

// clampBody validates the body against the declared Content-Length.
// Extra trailing bytes beyond the declared length are dropped; a short
// body is an error.
func clampBody(header Header, body []byte) ([]byte, error) {
	length, declared, err := header.ContentLength()
	if err != nil {
		return nil, err
	}
	if !declared {
		return body, nil
	}
	if len(body) < length {
		return nil, fmt.Errorf("body truncated: have %d bytes, Content-Length %d", len(body), length)
	}
	return body[:length], nil
}

func writeFields(buf *bytes.Buffer, fields []Field) {
	for _, f := range fields {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString(crlf)
	}
}

// statusText covers the handful of codes this protocol emits.
func statusText(status int) string {
	switch status {
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	default:
		return "Unknown"
	}
}
