// Package plist decodes the two body formats the AirPlay control protocol
// uses: line-oriented "key: value" parameter lists (text/parameters) and XML
// property lists (text/x-apple-plist+xml). Only the XML plist form is
// supported; the binary form is rejected with a distinct error so callers
// can tell "we do not speak this" apart from "the device sent garbage".
package plist

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrBinaryFormat is returned when a body is a binary property list.
var ErrBinaryFormat = errors.New("binary property lists are not supported")

// binaryMagic is the file magic of the binary plist format.
var binaryMagic = []byte("bplist00")

// Kind identifies the dynamic type held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindReal
	KindBoolean
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding one plist leaf value.
// The zero Value is the empty string.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

// String wraps a string leaf.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Integer wraps an integer leaf.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Real wraps a real leaf.
func Real(f float64) Value { return Value{kind: KindReal, f: f} }

// Boolean wraps a boolean leaf.
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Kind returns the dynamic type of the value.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string form of the value.
func (v Value) Str() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Int returns the integer value, truncating reals.
func (v Value) Int() int64 {
	if v.kind == KindReal {
		return int64(v.f)
	}
	return v.i
}

// Float returns the value as a float64. Integer leaves are widened,
// so callers reading durations and positions never care whether the
// device serialized `1801` or `1801.0`.
func (v Value) Float() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

// Bool returns the boolean value.
func (v Value) Bool() bool { return v.b }

// Dict is a decoded flat property list dictionary.
type Dict map[string]Value

// Parameters is an ordered key/value mapping decoded from a
// text/parameters body. Order is preserved because the device emits
// fields in a stable order and callers iterate them for display.
type Parameters struct {
	keys   []string
	values map[string]string
}

// Get returns the value for key, or "" if absent.
func (p *Parameters) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in arrival order.
func (p *Parameters) Keys() []string { return p.keys }

// Len returns the number of parameters.
func (p *Parameters) Len() int { return len(p.keys) }

// Floats parses every value as a float64.
func (p *Parameters) Floats() (map[string]float64, error) {
	out := make(map[string]float64, len(p.keys))
	for _, k := range p.keys {
		f, err := strconv.ParseFloat(strings.TrimSpace(p.values[k]), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q is not numeric: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// DecodeParameters decodes a "key: value" line-delimited body.
// Lines are CRLF or LF separated; blank lines are skipped.
func DecodeParameters(body []byte) (*Parameters, error) {
	p := &Parameters{values: make(map[string]string)}

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed parameter line %q", line)
		}
		key = strings.TrimSpace(key)
		if _, dup := p.values[key]; !dup {
			p.keys = append(p.keys, key)
		}
		p.values[key] = strings.TrimSpace(value)
	}

	return p, nil
}

// DecodeXML decodes an XML property list body into a flat dictionary of
// string, integer, real, and boolean leaves. Nested containers (arrays,
// sub-dictionaries) are skipped: the control protocol surfaces we consume
// only read flat leaves. Binary plist input fails with ErrBinaryFormat.
func DecodeXML(body []byte) (Dict, error) {
	if bytes.HasPrefix(body, binaryMagic) {
		return nil, ErrBinaryFormat
	}

	dec := xml.NewDecoder(bytes.NewReader(body))

	// Walk to the top-level <dict>.
	if err := seekElement(dec, "plist"); err != nil {
		return nil, fmt.Errorf("not a property list: %w", err)
	}
	if err := seekElement(dec, "dict"); err != nil {
		return nil, fmt.Errorf("property list has no dictionary: %w", err)
	}

	return decodeDict(dec)
}

// decodeDict consumes <key>/<value> pairs until the enclosing dict closes.
func decodeDict(dec *xml.Decoder) (Dict, error) {
	out := make(Dict)
	var pendingKey string
	var haveKey bool

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("malformed property list: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "key" {
				text, err := elementText(dec, &el)
				if err != nil {
					return nil, err
				}
				pendingKey = text
				haveKey = true
				continue
			}

			if !haveKey {
				return nil, fmt.Errorf("plist value %q without a preceding key", el.Name.Local)
			}

			value, keep, err := decodeValue(dec, &el)
			if err != nil {
				return nil, err
			}
			if keep {
				out[pendingKey] = value
			}
			haveKey = false

		case xml.EndElement:
			if el.Name.Local == "dict" {
				return out, nil
			}
		}
	}
}

// decodeValue decodes one value element. keep is false for nested
// containers, which are consumed but not represented.
func decodeValue(dec *xml.Decoder, start *xml.StartElement) (Value, bool, error) {
	switch start.Name.Local {
	case "string":
		text, err := elementText(dec, start)
		return String(text), true, err

	case "integer":
		text, err := elementText(dec, start)
		if err != nil {
			return Value{}, false, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, false, fmt.Errorf("malformed integer %q: %w", text, err)
		}
		return Integer(n), true, nil

	case "real":
		text, err := elementText(dec, start)
		if err != nil {
			return Value{}, false, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, false, fmt.Errorf("malformed real %q: %w", text, err)
		}
		return Real(f), true, nil

	case "true":
		return Boolean(true), true, dec.Skip()

	case "false":
		return Boolean(false), true, dec.Skip()

	case "dict", "array", "data", "date":
		// Consume the subtree; only flat leaves are surfaced.
		return Value{}, false, dec.Skip()

	default:
		return Value{}, false, fmt.Errorf("unsupported plist element %q", start.Name.Local)
	}
}

// EncodeXML serializes a flat dictionary as an XML property list.
// Keys are emitted sorted for a deterministic wire image.
func EncodeXML(d Dict) []byte {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	buf.WriteString(`<plist version="1.0">` + "\n<dict>\n")

	for _, k := range keys {
		fmt.Fprintf(&buf, "\t<key>%s</key>\n", escape(k))
		v := d[k]
		switch v.Kind() {
		case KindString:
			fmt.Fprintf(&buf, "\t<string>%s</string>\n", escape(v.Str()))
		case KindInteger:
			fmt.Fprintf(&buf, "\t<integer>%d</integer>\n", v.Int())
		case KindReal:
			fmt.Fprintf(&buf, "\t<real>%s</real>\n", strconv.FormatFloat(v.Float(), 'g', -1, 64))
		case KindBoolean:
			if v.Bool() {
				buf.WriteString("\t<true/>\n")
			} else {
				buf.WriteString("\t<false/>\n")
			}
		}
	}

	buf.WriteString("</dict>\n</plist>\n")
	return buf.Bytes()
}

// seekElement advances the decoder until it enters the named element.
func seekElement(dec *xml.Decoder, name string) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if el, ok := tok.(xml.StartElement); ok && el.Name.Local == name {
			return nil
		}
	}
}

// elementText returns the character data of an element and consumes its
// end tag.
func elementText(dec *xml.Decoder, start *xml.StartElement) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("malformed element %q: %w", start.Name.Local, err)
		}
		switch el := tok.(type) {
		case xml.CharData:
			sb.Write(el)
		case xml.EndElement:
			return sb.String(), nil
		case xml.StartElement:
			return "", fmt.Errorf("unexpected child %q inside %q", el.Name.Local, start.Name.Local)
		}
	}
}

func escape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
