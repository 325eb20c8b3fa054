package remote

import (
	"context"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/model"
)

// Result holds the outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Host abstracts a shell-reachable machine: the IMC console, the ACC, or
// the server the IPU is installed in.
type Host interface {
	// Run executes a command and returns its output. A non-zero exit code
	// is reported through Result, not through the error.
	Run(ctx context.Context, cmd string) (Result, error)

	// ReadFile returns the contents of a remote file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the contents of a remote file.
	WriteFile(ctx context.Context, path string, data []byte) error

	Close() error
}

// Dialer opens an authenticated session to an endpoint. Substituted by
// fakes in tests and by the dryrun simulator.
type Dialer func(ctx context.Context, endpoint model.Endpoint) (Host, error)

// Pinger reports whether an address answers reachability probes.
type Pinger func(ctx context.Context, address string) bool

// Sleep blocks for the given duration unless the context is canceled first.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return context.Canceled
	}
}
