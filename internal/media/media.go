// Package media wraps ffmpeg and ffprobe to inspect video files and
// repackage incompatible ones into an HLS stream a receiver can play.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aircast-project/aircast/internal/util"
)

// Output names used for segmented streams.
const (
	IndexName           = "aircast.m3u8"
	TransportStreamName = "aircast.ts"
)

// NotInstalledError reports that ffmpeg or ffprobe could not be run.
type NotInstalledError struct {
	Binary string
	Err    error
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("cannot execute %s: %v", e.Binary, e.Err)
}

func (e *NotInstalledError) Unwrap() error { return e.Err }

// ParseError reports that an input file could not be understood.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unknown input format: %s", e.Input)
}

// Stream is one track of a probed file.
type Stream struct {
	Type  string `json:"codec_type"`
	Codec string `json:"codec_name"`
}

// ProbeResult describes a probed file: its container format name as
// reported by ffprobe (possibly a comma-separated alias list) and its
// tracks in stream order.
type ProbeResult struct {
	Container string
	Streams   []Stream
}

// Encoder runs ffmpeg and ffprobe as subprocesses.
type Encoder struct {
	ffmpeg  string
	ffprobe string
	logger  zerolog.Logger
}

// NewEncoder builds an Encoder using the given binaries. Empty paths
// fall back to looking up ffmpeg and ffprobe on PATH.
func NewEncoder(ffmpeg, ffprobe string) *Encoder {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Encoder{
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		logger:  util.ComponentLogger("media"),
	}
}

// Probe inspects path (a file or URL) and reports its container format
// and streams.
func (e *Encoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, e.ffprobe,
		"-print_format", "json",
		"-v", "quiet",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if isNotInstalled(err) {
			return nil, &NotInstalledError{Binary: e.ffprobe, Err: err}
		}
		return nil, &ParseError{Input: path}
	}

	result, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return nil, &ParseError{Input: path}
	}
	return result, nil
}

// CompatiblePlayback reports whether path can be handed to a receiver
// as-is, without repackaging.
func (e *Encoder) CompatiblePlayback(ctx context.Context, path string) (bool, error) {
	result, err := e.Probe(ctx, path)
	if err != nil {
		return false, err
	}
	return compatible(result), nil
}

// Segment repackages the inputs into an HLS index plus a single
// transport stream under outDir, creating a temp directory when outDir
// is empty. It returns absolute paths to the index and stream files.
// Extra args are appended to the ffmpeg invocation before the index.
func (e *Encoder) Segment(ctx context.Context, paths []string, outDir string, extra ...string) (index, stream string, err error) {
	if len(paths) == 0 {
		return "", "", fmt.Errorf("no inputs to segment")
	}

	if outDir == "" {
		outDir, err = os.MkdirTemp("", "aircast-")
		if err != nil {
			return "", "", err
		}
	} else if _, err := os.Stat(outDir); err != nil {
		return "", "", fmt.Errorf("output directory: %w", err)
	}

	index = filepath.Join(outDir, IndexName)
	stream = filepath.Join(outDir, TransportStreamName)

	args := segmentArgs(paths, index, stream, extra)
	e.logger.Debug().Strs("args", args).Msg("running ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if isNotInstalled(err) {
			return "", "", &NotInstalledError{Binary: e.ffmpeg, Err: err}
		}
		// ffmpeg exits 1 for every failure; the message is the only
		// hint that the input, not the encoder, was the problem.
		if bytes.Contains(output, []byte("Invalid data found when processing input")) {
			return "", "", &ParseError{Input: strings.Join(paths, ", ")}
		}
		return "", "", &NotInstalledError{
			Binary: e.ffmpeg,
			Err:    fmt.Errorf("encoding failed, ffmpeg 3.0 or newer is required: %w", err),
		}
	}

	return index, stream, nil
}

// Verify runs a self test: segment one frame of ffmpeg's internal test
// sources and probe the result. It proves both binaries work and
// produce the expected formats.
func (e *Encoder) Verify(ctx context.Context) error {
	workDir, err := os.MkdirTemp("", "aircast-verify-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	_, stream, err := e.Segment(ctx,
		[]string{"lavfi:testsrc", "lavfi:anullsrc"},
		workDir,
		"-vframes", "1",
	)
	if err != nil {
		if errors.As(err, new(*ParseError)) {
			return &NotInstalledError{
				Binary: e.ffmpeg,
				Err:    errors.New("ffmpeg 3.0 or newer is required"),
			}
		}
		return err
	}

	result, err := e.Probe(ctx, stream)
	if err != nil {
		return err
	}
	if result.Container != "mpegts" {
		return fmt.Errorf("self test produced %q, expected mpegts", result.Container)
	}
	return nil
}

// segmentArgs assembles the ffmpeg argument list for one HLS run.
// Inputs prefixed "lavfi:" select ffmpeg's internal sources, used by
// the self test.
func segmentArgs(paths []string, index, stream string, extra []string) []string {
	var args []string
	for _, p := range paths {
		if src, ok := strings.CutPrefix(p, "lavfi:"); ok {
			args = append(args, "-f", "lavfi", "-i", src)
			continue
		}
		args = append(args, "-i", p)
	}

	args = append(args,
		"-hls_flags", "single_file",
		"-hls_list_size", "0",
		"-hls_allow_cache", "1",
		"-hls_segment_filename", stream,
	)
	args = append(args, extra...)
	return append(args, index)
}

// parseProbeOutput decodes ffprobe's JSON report.
func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var report struct {
		Format struct {
			FormatName string `json:"format_name"`
		} `json:"format"`
		Streams []Stream `json:"streams"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	if report.Format.FormatName == "" {
		return nil, errors.New("probe report has no format name")
	}
	return &ProbeResult{
		Container: report.Format.FormatName,
		Streams:   report.Streams,
	}, nil
}

// compatible applies the playback rule: an MP4-family or transport
// stream container, H.264 video, and AAC or MP3 audio. Anything else
// needs repackaging.
func compatible(result *ProbeResult) bool {
	container := false
	for _, name := range strings.Split(result.Container, ",") {
		switch name {
		case "mp4", "mov", "m4a", "mpegts":
			container = true
		}
	}
	if !container {
		return false
	}

	for _, s := range result.Streams {
		switch s.Type {
		case "video":
			if s.Codec != "h264" {
				return false
			}
		case "audio":
			if s.Codec != "aac" && s.Codec != "mp3" {
				return false
			}
		}
	}
	return true
}

// isNotInstalled distinguishes "could not start the binary" from a
// normal nonzero exit.
func isNotInstalled(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return true
	}
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound)
}
