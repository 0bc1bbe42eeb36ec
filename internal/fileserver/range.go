package fileserver

import (
	"errors"
	"strconv"
	"strings"
)

// Range header outcomes. Invalid syntax falls back to a whole-file
// response, mirroring how receivers expect lenient servers to behave;
// a syntactically valid but impossible range is a hard client error.
var (
	// errRangeIgnore: absent or unparsable header; serve the whole file.
	errRangeIgnore = errors.New("range header ignored")
	// errRangeBad: multiple ranges or inverted bounds; respond 400.
	errRangeBad = errors.New("bad range")
	// errRangeUnsatisfiable: entirely past end of file; respond 416.
	errRangeUnsatisfiable = errors.New("range not satisfiable")
)

// parseRange interprets a single-range "Range: bytes=first-last" header
// against a file of the given size. It returns inclusive byte offsets
// clamped to the file bounds.
func parseRange(header string, size int64) (first, last int64, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, 0, errRangeIgnore
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, errRangeIgnore
	}

	// Exactly one contiguous span is supported; multipart/byteranges
	// responses are not.
	if strings.Contains(spec, ",") {
		return 0, 0, errRangeBad
	}

	start, end, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, errRangeIgnore
	}
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)

	// Suffix form "-n": the final n bytes.
	if start == "" {
		n, perr := strconv.ParseInt(end, 10, 64)
		if perr != nil {
			return 0, 0, errRangeIgnore
		}
		if n <= 0 {
			return 0, 0, errRangeUnsatisfiable
		}
		first = size - n
		if first < 0 {
			first = 0
		}
		return first, size - 1, nil
	}

	first, perr := strconv.ParseInt(start, 10, 64)
	if perr != nil || first < 0 {
		return 0, 0, errRangeIgnore
	}

	// Open-ended form "a-": through end of file.
	if end == "" {
		last = size - 1
	} else {
		last, perr = strconv.ParseInt(end, 10, 64)
		if perr != nil {
			return 0, 0, errRangeIgnore
		}
		if first > last {
			return 0, 0, errRangeBad
		}
	}

	if first >= size {
		return 0, 0, errRangeUnsatisfiable
	}
	if last > size-1 {
		last = size - 1
	}

	return first, last, nil
}
