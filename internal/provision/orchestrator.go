// Package provision sequences media insertion, boot control and liveness
// monitoring into full unattended installs and firmware upgrades of one
// IPU.
package provision

import (
	"context"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/boot"
	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/isoserver"
	"github.com/metal-toolbox/ipuctl/internal/liveness"
	"github.com/metal-toolbox/ipuctl/internal/media"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/probe"
	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/pkg/errors"
)

const (
	// the card host login used for driver maintenance.
	hostUser = "core"

	driverName = "idpf"

	consoleBannerPath = "/etc/issue.net"
)

// MediaInstaller is what the orchestrator needs from the media package.
type MediaInstaller interface {
	EnsureInserted(ctx context.Context, imageURL string) error
	RestartRedfish(ctx context.Context) error
}

// BootController is what the orchestrator needs from the boot package.
type BootController interface {
	OnceFromCD(ctx context.Context) error
	ClearOverride(ctx context.Context) error
	HardReset(ctx context.Context) error
}

// VersionProbe is what the orchestrator needs from the probe package.
type VersionProbe interface {
	IsIPU(ctx context.Context) bool
	Version(ctx context.Context) (string, error)
}

// ACCMonitor waits out ACC network bring-up.
type ACCMonitor interface {
	Wait(ctx context.Context, budget time.Duration) error
}

// Orchestrator runs provisioning operations against one asset. Sessions
// against distinct assets are independent, nothing here is shared.
type Orchestrator struct {
	asset   *model.Asset
	cfg     *config.Configuration
	boot    BootController
	media   MediaInstaller
	probe   VersionProbe
	dial    remote.Dialer
	ping    remote.Pinger
	flasher Flasher

	newMonitor func() ACCMonitor
}

// New wires an orchestrator over a live redfish endpoint. The sizer is
// injectable so simulated runs can skip the HEAD probe.
func New(asset *model.Asset, cfg *config.Configuration, api redfish.API, dial remote.Dialer, ping remote.Pinger, sizer media.Sizer, flasher Flasher) *Orchestrator {
	bmc := asset.BmcEndpoint()
	console := asset.ConsoleEndpoint()

	return &Orchestrator{
		asset:   asset,
		cfg:     cfg,
		boot:    boot.NewController(api),
		media:   media.NewInstaller(api, dial, bmc, console, ping, sizer, cfg.Timings),
		probe:   probe.New(api, dial, console),
		dial:    dial,
		ping:    ping,
		flasher: flasher,
		newMonitor: func() ACCMonitor {
			return liveness.NewMonitor(asset.AccAddress, console, dial, ping, cfg.Timings, cfg.MaxEscalations)
		},
	}
}

// Install boots the IPU from the given ISO source and waits until the ACC
// is up. A non-URL source is hosted from a short-lived local HTTP server
// scoped to this call.
func (o *Orchestrator) Install(ctx context.Context, isoSource string) error {
	version, err := o.probe.Version(ctx)
	if err != nil {
		return err
	}

	if !slices.Contains(o.cfg.SupportedVersions, version) {
		return errors.Wrapf(model.ErrPrecondition,
			"unexpected firmware version %s, supported: %s",
			version, strings.Join(o.cfg.SupportedVersions, ", "),
		)
	}

	imageURL := isoSource

	if !isoserver.IsHTTPURL(isoSource) {
		bindIP, err := o.localIP()
		if err != nil {
			return err
		}

		server, hostedURL, err := isoserver.Serve(isoSource, bindIP)
		if err != nil {
			return err
		}
		defer server.Stop()

		imageURL = hostedURL
	}

	return o.bootISO(ctx, imageURL)
}

// bootISO performs the media insert, one-shot boot and liveness wait. The
// boot source override is cleared exactly once on every exit path.
func (o *Orchestrator) bootISO(ctx context.Context, imageURL string) error {
	slog.With(o.asset.AsLogFields()...).Info("booting from virtual media", "image", imageURL)

	if err := o.media.EnsureInserted(ctx, imageURL); err != nil {
		return err
	}

	// write failures on the boot channel are tolerated, the liveness wait
	// below is what decides whether the boot actually happened
	if err := o.boot.OnceFromCD(ctx); err != nil {
		slog.Error("failed to set boot source override", "error", err)
	}

	var clearOnce sync.Once

	clearOverride := func() {
		clearOnce.Do(func() {
			// best effort on the error path, the patch outcome shows up
			// in the next boot either way
			if err := o.boot.ClearOverride(ctx); err != nil {
				slog.Error("failed to clear boot source override", "error", err)
			}
		})
	}
	defer clearOverride()

	if err := o.boot.HardReset(ctx); err != nil {
		slog.Error("failed to reset the manager", "error", err)
	}

	slog.Info("install boot triggered, waiting for the IMC to settle", "settle", o.cfg.Timings.RebootSettle.String())

	if err := remote.Sleep(ctx, o.cfg.Timings.RebootSettle); err != nil {
		return err
	}

	// redfish needs a restart after the IMC picks up its address
	if err := o.media.RestartRedfish(ctx); err != nil {
		return err
	}

	clearOverride()

	return o.newMonitor().Wait(ctx, o.cfg.Timings.InstallWait)
}

// PostBootDriverRecovery reloads the idpf driver on the card host, it can
// wedge after an IMC reboot during installation, then re-verifies the ACC
// with the short liveness budget.
func (o *Orchestrator) PostBootDriverRecovery(ctx context.Context) error {
	slog.Info("reloading driver on the IPU host", "driver", driverName, "host", o.asset.HostAddress)

	host, err := o.dial(ctx, model.Endpoint{
		Address:  o.asset.HostAddress,
		Username: hostUser,
	})
	if err != nil {
		return errors.Wrap(err, "failed to connect to the IPU host")
	}
	defer host.Close()

	if _, err := host.Run(ctx, "sudo rmmod "+driverName); err != nil {
		return err
	}

	if err := remote.Sleep(ctx, o.cfg.Timings.DriverReloadPause); err != nil {
		return err
	}

	if _, err := host.Run(ctx, "sudo modprobe "+driverName); err != nil {
		return err
	}

	slog.Info("validating ACC is still reachable after driver reload")

	return o.newMonitor().Wait(ctx, o.cfg.Timings.RecheckWait)
}

// localIP finds the caller's address on the interface that routes to the
// BMC, the one the BMC can fetch a hosted image from.
func (o *Orchestrator) localIP() (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(o.asset.BmcAddress.String(), "8443"))
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve local address facing the BMC")
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", errors.New("unexpected local address type")
	}

	return addr.IP.String(), nil
}
