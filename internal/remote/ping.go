package remote

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	pingTimeout  = 5 * time.Second
	protocolICMP = 1
)

// Ping sends one ICMP echo request and reports whether a reply arrived
// before the timeout. Requires a raw socket, the controller runs with the
// privileges to open one.
func Ping(ctx context.Context, address string) bool {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		slog.Debug("icmp listen failed", "error", err)
		return false
	}
	defer conn.Close()

	deadline := time.Now().Add(pingTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := conn.SetDeadline(deadline); err != nil {
		return false
	}

	dst, err := net.ResolveIPAddr("ip4", address)
	if err != nil {
		slog.Debug("icmp resolve failed", "address", address, "error", err)
		return false
	}

	echo := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("ipuctl-liveness"),
		},
	}

	msg, err := echo.Marshal(nil)
	if err != nil {
		return false
	}

	if _, err := conn.WriteTo(msg, dst); err != nil {
		return false
	}

	reply := make([]byte, 1500)

	for {
		n, peer, err := conn.ReadFrom(reply)
		if err != nil {
			return false
		}

		if peer.String() != dst.String() {
			continue
		}

		parsed, err := icmp.ParseMessage(protocolICMP, reply[:n])
		if err != nil {
			return false
		}

		return parsed.Type == ipv4.ICMPTypeEchoReply
	}
}

// WaitPing polls an address until it answers, bounded by budget.
func WaitPing(ctx context.Context, ping Pinger, address string, interval, budget time.Duration) error {
	deadline := time.Now().Add(budget)

	for {
		if ping(ctx, address) {
			return nil
		}

		if time.Now().After(deadline) {
			return errors.Wrapf(model.ErrTimeout, "no ping reply from %s within %s", address, budget)
		}

		if err := Sleep(ctx, interval); err != nil {
			return err
		}
	}
}
