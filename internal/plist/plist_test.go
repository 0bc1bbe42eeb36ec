package plist

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeParameters(t *testing.T) {
	body := []byte("duration: 1801.0\r\nposition: 42.5\r\n")

	p, err := DecodeParameters(body)
	require.NoError(t, err)

	require.Equal(t, []string{"duration", "position"}, p.Keys())

	v, ok := p.Get("duration")
	assert.True(t, ok)
	assert.Equal(t, "1801.0", v)

	floats, err := p.Floats()
	require.NoError(t, err)
	assert.Equal(t, 1801.0, floats["duration"])
	assert.Equal(t, 42.5, floats["position"])
}

func TestDecodeParametersMalformed(t *testing.T) {
	_, err := DecodeParameters([]byte("no separator here\r\n"))
	assert.Error(t, err)
}

func TestDecodeParametersNonNumericFloats(t *testing.T) {
	p, err := DecodeParameters([]byte("state: playing\r\n"))
	require.NoError(t, err)

	_, err = p.Floats()
	assert.Error(t, err)
}

const samplePlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>duration</key>
	<real>1801</real>
	<key>position</key>
	<real>42.5</real>
	<key>rate</key>
	<integer>1</integer>
	<key>readyToPlay</key>
	<true/>
	<key>playbackLikelyToKeepUp</key>
	<false/>
	<key>model</key>
	<string>AppleTV3,2</string>
</dict>
</plist>`

func TestDecodeXML(t *testing.T) {
	d, err := DecodeXML([]byte(samplePlist))
	require.NoError(t, err)

	assert.Equal(t, KindReal, d["duration"].Kind())
	assert.Equal(t, 1801.0, d["duration"].Float())
	assert.Equal(t, 42.5, d["position"].Float())

	assert.Equal(t, KindInteger, d["rate"].Kind())
	assert.Equal(t, int64(1), d["rate"].Int())
	assert.Equal(t, 1.0, d["rate"].Float())

	assert.True(t, d["readyToPlay"].Bool())
	assert.False(t, d["playbackLikelyToKeepUp"].Bool())

	assert.Equal(t, "AppleTV3,2", d["model"].Str())
}

func TestDecodeXMLSkipsNestedContainers(t *testing.T) {
	raw := `<plist version="1.0"><dict>
		<key>loadedTimeRanges</key>
		<array><dict><key>start</key><real>0</real></dict></array>
		<key>duration</key>
		<real>120</real>
	</dict></plist>`

	d, err := DecodeXML([]byte(raw))
	require.NoError(t, err)

	_, present := d["loadedTimeRanges"]
	assert.False(t, present, "nested containers must not surface")
	assert.Equal(t, 120.0, d["duration"].Float())
}

func TestDecodeXMLBinaryRejected(t *testing.T) {
	raw := append([]byte("bplist00"), 0x01, 0x02, 0x03)

	_, err := DecodeXML(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBinaryFormat))
}

func TestDecodeXMLMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not xml", "hello world"},
		{"no dict", "<plist version=\"1.0\"></plist>"},
		{"value without key", "<plist><dict><real>1</real></dict></plist>"},
		{"bad integer", "<plist><dict><key>x</key><integer>nope</integer></dict></plist>"},
		{"bad real", "<plist><dict><key>x</key><real>nope</real></dict></plist>"},
		{"unterminated", "<plist><dict><key>x</key><real>1</real>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeXML([]byte(tt.raw))
			assert.Error(t, err)
			assert.False(t, errors.Is(err, ErrBinaryFormat), "malformed XML must not look like a binary plist")
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Dict{
		"duration": Real(1801),
		"rate":     Integer(1),
		"ready":    Boolean(true),
		"model":    String("AppleTV3,2 <&>"),
	}

	out, err := DecodeXML(EncodeXML(in))
	require.NoError(t, err)

	// A real 1801 must survive as float 1801.0, not get truncated to an int.
	assert.Equal(t, 1801.0, out["duration"].Float())
	assert.Equal(t, int64(1), out["rate"].Int())
	assert.True(t, out["ready"].Bool())
	assert.Equal(t, "AppleTV3,2 <&>", out["model"].Str())
}

func TestValueStr(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{String("x"), "x"},
		{Integer(7), "7"},
		{Real(1.5), "1.5"},
		{Boolean(true), "true"},
	}

	for _, tt := range tests {
		if got := tt.v.Str(); got != tt.want {
			t.Errorf("Value(%s).Str() = %q, want %q", tt.v.Kind(), got, tt.want)
		}
	}
}
