// Package liveness waits for the provisioned ACC OS to come up on the
// network, escalating to IMC reboots when it does not, bounded by an
// escalation budget.
package liveness

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/metrics"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/pkg/errors"
)

// The ACC install images provision a fixed login.
const (
	accUser     = "root"
	accPassword = "redhat"
)

// ErrExhausted indicates repeated IMC reboots did not bring the ACC up.
// Fatal: this points at a hardware or image defect, not at transient
// network flakiness, so the whole operation must abort.
var ErrExhausted = errors.New("too many failures waiting for the ACC to come up")

type State int

const (
	WaitingPing State = iota
	EscalatedReboot
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case WaitingPing:
		return "waitingPing"
	case EscalatedReboot:
		return "escalatedReboot"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Monitor polls ACC reachability on a fixed cadence with a countdown
// budget. A countdown expiry reboots the IMC console and grants a shorter
// follow-up budget. The escalation count is capped.
type Monitor struct {
	accAddress string
	console    model.Endpoint
	dial       remote.Dialer
	ping       remote.Pinger
	timings    *config.Timings

	maxEscalations int
	escalations    int
	state          State
}

func NewMonitor(accAddress string, console model.Endpoint, dial remote.Dialer, ping remote.Pinger, timings *config.Timings, maxEscalations int) *Monitor {
	return &Monitor{
		accAddress:     accAddress,
		console:        console,
		dial:           dial,
		ping:           ping,
		timings:        timings,
		maxEscalations: maxEscalations,
		state:          WaitingPing,
	}
}

// State returns the current machine state.
func (m *Monitor) State() State {
	return m.state
}

// Escalations returns how many IMC reboots this run has issued.
func (m *Monitor) Escalations() int {
	return m.escalations
}

// Wait blocks until the ACC answers and a diagnostic session succeeds, or
// the escalation budget is exhausted. budget is the initial countdown,
// long for first boots, short for post-maintenance rechecks.
func (m *Monitor) Wait(ctx context.Context, budget time.Duration) error {
	slog.Info("waiting for ACC to come up", "acc", m.accAddress, "budget", budget.String())

	countdown := budget
	m.state = WaitingPing

	for {
		if m.ping(ctx, m.accAddress) {
			slog.Info("ACC responded to ping, connecting")

			if err := m.confirm(ctx); err != nil {
				m.state = Failed
				return err
			}

			m.state = Connected

			return nil
		}

		if err := remote.Sleep(ctx, m.timings.LivenessPollInterval); err != nil {
			return err
		}

		countdown -= m.timings.LivenessPollInterval
		if countdown > 0 {
			continue
		}

		if m.escalations == m.maxEscalations {
			m.state = Failed
			return ErrExhausted
		}

		m.escalations++
		m.state = EscalatedReboot

		slog.Info("ACC has not responded in a reasonable amount of time, rebooting IMC",
			"escalation", m.escalations,
		)

		if err := m.rebootConsole(ctx); err != nil {
			return err
		}

		metrics.LivenessEscalationsTotal.Inc()

		countdown = m.timings.EscalationWait
		m.state = WaitingPing
	}
}

// rebootConsole reboots the IMC, not the ACC: the ACC has no management
// channel of its own until it is up.
func (m *Monitor) rebootConsole(ctx context.Context) error {
	console, err := m.dial(ctx, m.console)
	if err != nil {
		return errors.Wrap(err, "failed to connect to the IMC console for reboot")
	}
	defer console.Close()

	if _, err := console.Run(ctx, "reboot"); err != nil {
		return errors.Wrap(err, "failed to reboot the IMC console")
	}

	return nil
}

// confirm opens an authenticated session to the ACC and runs one
// diagnostic command, ping alone is not proof the OS finished booting.
func (m *Monitor) confirm(ctx context.Context) error {
	acc, err := m.dial(ctx, model.Endpoint{
		Address:  m.accAddress,
		Username: accUser,
		Password: accPassword,
	})
	if err != nil {
		return errors.Wrap(err, "ACC pingable but ssh session failed")
	}
	defer acc.Close()

	result, err := acc.Run(ctx, "uname -a")
	if err != nil {
		return errors.Wrap(err, "ACC diagnostic command failed")
	}

	slog.Info("connected to ACC", "uname", strings.TrimSpace(result.Stdout))

	return nil
}
