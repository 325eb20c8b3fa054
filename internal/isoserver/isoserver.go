// Package isoserver hosts a local ISO over HTTP for the duration of one
// boot call. The server is scoped: Stop is guaranteed by the caller on
// every exit path.
package isoserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	readHeaderTimeout = 2 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// IsHTTPURL reports whether the ISO source is already a network URL, in
// which case no local hosting is needed.
func IsHTTPURL(source string) bool {
	parsed, err := url.Parse(source)
	if err != nil {
		return false
	}

	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// Server serves one local directory on an ephemeral port.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	baseURL    string
}

// Serve starts hosting the directory of isoPath on an ephemeral port bound
// to bindIP, the caller's interface reachable from the BMC. Returns the
// URL the BMC should fetch the image from.
func Serve(isoPath, bindIP string) (*Server, string, error) {
	if _, err := os.Stat(isoPath); err != nil {
		return nil, "", errors.Wrapf(err, "ISO file %s does not exist", isoPath)
	}

	dir := filepath.Dir(isoPath)
	name := filepath.Base(isoPath)

	listener, err := net.Listen("tcp", net.JoinHostPort(bindIP, "0"))
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to bind ISO file server")
	}

	httpServer := &http.Server{
		Handler:           http.FileServer(http.Dir(dir)),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ISO file server failed", "error", err)
		}
	}()

	server := &Server{
		httpServer: httpServer,
		listener:   listener,
		baseURL:    "http://" + listener.Addr().String(),
	}

	imageURL := server.baseURL + "/" + url.PathEscape(name)

	slog.Info("hosting local ISO", "path", isoPath, "url", imageURL)

	return server, imageURL, nil
}

// Stop tears the server down. Safe to call on every exit path.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
}
