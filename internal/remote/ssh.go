package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

const sshPort = "22"

var ErrSSHDial = errors.New("ssh dial error")

type sshHost struct {
	client *ssh.Client
}

// NewSSHDialer returns a Dialer that opens password-authenticated SSH
// sessions. Host keys are not verified, the management endpoints present
// self-signed identities that change on every reimage.
func NewSSHDialer(timeout time.Duration) Dialer {
	return func(ctx context.Context, endpoint model.Endpoint) (Host, error) {
		config := &ssh.ClientConfig{
			User: endpoint.Username,
			Auth: []ssh.AuthMethod{
				ssh.Password(endpoint.Password),
			},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106
			Timeout:         timeout,
		}

		address := net.JoinHostPort(endpoint.Address, sshPort)

		dialer := &net.Dialer{Timeout: timeout}

		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, errors.Wrap(ErrSSHDial, err.Error())
		}

		sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
		if err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(ErrSSHDial, err.Error())
		}

		return &sshHost{client: ssh.NewClient(sshConn, chans, reqs)}, nil
	}
}

func (h *sshHost) Run(ctx context.Context, cmd string) (Result, error) {
	session, err := h.client.NewSession()
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to open ssh session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer

	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)

	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return Result{}, ctx.Err()
	case err = <-done:
	}

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}

		return result, errors.Wrap(err, "remote command failed")
	}

	return result, nil
}

func (h *sshHost) ReadFile(ctx context.Context, path string) ([]byte, error) {
	result, err := h.Run(ctx, "cat "+shellQuote(path))
	if err != nil {
		return nil, err
	}

	if !result.Success() {
		return nil, errors.Errorf("failed to read %s: %s", path, strings.TrimSpace(result.Stderr))
	}

	return []byte(result.Stdout), nil
}

func (h *sshHost) WriteFile(ctx context.Context, path string, data []byte) error {
	session, err := h.client.NewSession()
	if err != nil {
		return errors.Wrap(err, "failed to open ssh session")
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(data)

	done := make(chan error, 1)

	go func() {
		done <- session.Run("cat > " + shellQuote(path))
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return ctx.Err()
	case err = <-done:
	}

	if err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}

	return nil
}

func (h *sshHost) Close() error {
	return h.client.Close()
}

// shellQuote single-quotes a path for the remote shell.
func shellQuote(s string) string {
	return fmt.Sprintf("'%s'", strings.ReplaceAll(s, "'", `'\''`))
}
