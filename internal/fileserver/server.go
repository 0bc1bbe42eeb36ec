// Package fileserver serves a fixed set of local files over HTTP so a
// receiver can fetch media from the controlling machine. Only the files
// named at construction are reachable, requests from other hosts are
// rejected, and single-range requests are honored for seeking.
package fileserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/aircast-project/aircast/internal/util"
)

// chunkSize is the streaming write unit for file bodies.
const chunkSize = 8192

// Config carries the access policy for a Server.
type Config struct {
	// AllowedHost, when non-empty, restricts requests to this client IP.
	// Anything else receives 400.
	AllowedHost string
}

// Server is a single-use HTTP file server bound to an ephemeral port.
// Create with New, run with Start, read the bound address from Ready.
type Server struct {
	files       map[string]string
	allowedHost string
	ready       chan string
	logger      zerolog.Logger
}

// New validates the given file paths and builds a server for them. Each
// path must name an existing regular file, and basenames must be unique
// across paths: the basename is the URL, so two files sharing one would
// shadow each other.
func New(paths []string, cfg Config) (*Server, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to serve")
	}

	files := make(map[string]string, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory, not a file", p)
		}

		name := filepath.Base(abs)
		if existing, ok := files[name]; ok && existing != abs {
			return nil, fmt.Errorf("cannot serve both %s and %s: same basename %q", existing, abs, name)
		}
		files[name] = abs
	}

	return &Server{
		files:       files,
		allowedHost: cfg.AllowedHost,
		ready:       make(chan string, 1),
		logger:      util.ComponentLogger("fileserver"),
	}, nil
}

// Ready yields the bound host:port once the listener is up. The channel
// is buffered, so the address is available even to a late reader.
func (s *Server) Ready() <-chan string {
	return s.ready
}

// Names returns the basenames the server responds to.
func (s *Server) Names() []string {
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	return names
}

// Start binds an ephemeral port, publishes the address on Ready, and
// serves until ctx is canceled. It blocks for the life of the server.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("binding file server: %w", err)
	}
	s.ready <- ln.Addr().String()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/*name", s.handleFile)
	router.HEAD("/*name", s.handleFile)

	srv := &http.Server{Handler: router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Debug().Str("addr", ln.Addr().String()).Msg("file server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// handleFile serves one GET or HEAD request for an allow-listed file.
func (s *Server) handleFile(c *gin.Context) {
	if s.allowedHost != "" && c.RemoteIP() != s.allowedHost {
		s.logger.Warn().Str("client", c.RemoteIP()).Msg("rejecting request from unexpected host")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	name := strings.TrimPrefix(path.Clean(c.Request.URL.Path), "/")
	realPath, ok := s.files[name]
	if !ok {
		s.logger.Warn().Str("name", name).Msg("rejecting request for unlisted file")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	f, err := os.Open(realPath)
	if err != nil {
		s.logger.Error().Err(err).Str("path", realPath).Msg("opening served file")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	size := info.Size()

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Accept-Ranges", "bytes")

	// HEAD reports the whole file; Range only applies to GET.
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)
		return
	}

	status := http.StatusOK
	first, last := int64(0), size-1

	if rf, rl, err := parseRange(c.GetHeader("Range"), size); err == nil {
		status = http.StatusPartialContent
		first, last = rf, rl
	} else {
		switch err {
		case errRangeIgnore:
			// Whole-file response.
		case errRangeBad:
			c.AbortWithStatus(http.StatusBadRequest)
			return
		case errRangeUnsatisfiable:
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
			c.AbortWithStatus(http.StatusRequestedRangeNotSatisfiable)
			return
		default:
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
	}

	length := last - first + 1
	if length < 0 {
		length = 0
	}

	c.Header("Content-Length", strconv.FormatInt(length, 10))
	if status == http.StatusPartialContent {
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", first, last, size))
	}
	c.Status(status)

	if _, err := f.Seek(first, io.SeekStart); err != nil {
		// Headers are already out; nothing useful left to send.
		return
	}
	s.copyRange(c.Writer, f, length)
}

// copyRange streams length bytes in fixed chunks. Delivery is best
// effort: receivers abandon fetches mid-stream when seeking, so write
// errors end the transfer quietly.
func (s *Server) copyRange(w io.Writer, r io.Reader, length int64) {
	buf := make([]byte, chunkSize)
	remaining := length
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := r.Read(buf[:n])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return
			}
			remaining -= int64(read)
		}
		if err != nil {
			return
		}
	}
}
