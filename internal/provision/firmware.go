package provision

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bmc-toolbox/bmclib/v2"
	"github.com/bombsimon/logrusr/v4"
	"github.com/metal-toolbox/ipuctl/internal/log"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/pkg/errors"
)

// UpgradeFirmware brings the IMC to the target firmware version. A
// current version containing the target string is left alone unless force
// is set. Flash, cold boot, then re-verify: a mismatch after flashing is
// fatal.
func (o *Orchestrator) UpgradeFirmware(ctx context.Context, targetVersion string, force bool) error {
	if !o.probe.IsIPU(ctx) {
		return errors.Wrap(model.ErrPrecondition, "device is not an IPU, refusing firmware operations")
	}

	slog.With(o.asset.AsLogFields()...).Info("ensuring firmware version", "target", targetVersion)

	if !force {
		same, err := o.firmwareMatches(ctx, targetVersion)
		if err != nil {
			return err
		}

		if same {
			slog.Info("skipping firmware update, already on target version")
			return nil
		}
	}

	slog.Info("starting firmware flash, this takes a while (~40min)")

	if err := o.flasher.Flash(ctx, o.asset.BmcAddress.String(), targetVersion); err != nil {
		return errors.Wrap(err, "failed to flash new firmware")
	}

	if err := o.coldBoot(ctx); err != nil {
		return err
	}

	same, err := o.firmwareMatches(ctx, targetVersion)
	if err != nil {
		return err
	}

	if !same {
		return errors.Wrapf(model.ErrVerification, "firmware is not on %s after flashing", targetVersion)
	}

	slog.Info("firmware flash complete", "version", targetVersion)

	return nil
}

// firmwareMatches checks the console banner for the target version.
// Substring containment, the banner embeds build suffixes that a
// structural comparison would trip over.
func (o *Orchestrator) firmwareMatches(ctx context.Context, targetVersion string) (bool, error) {
	console, err := o.dial(ctx, o.asset.BmcEndpoint())
	if err != nil {
		return false, errors.Wrap(err, "failed to connect to the IMC console")
	}
	defer console.Close()

	banner, err := console.ReadFile(ctx, consoleBannerPath)
	if err != nil {
		return false, err
	}

	current := strings.TrimSpace(string(banner))

	if strings.Contains(current, targetVersion) {
		slog.Info("current firmware version matches", "banner", current)
		return true, nil
	}

	return false, nil
}

// coldBoot power cycles the server the IPU is installed in, which reboots
// the IMC along with it. Prefers the host's own BMC, falls back to a
// console reboot when no host BMC is configured.
func (o *Orchestrator) coldBoot(ctx context.Context) error {
	if o.asset.HostBmcAddress != "" {
		if err := o.hostPowerCycle(ctx); err != nil {
			return err
		}
	} else {
		slog.Warn("no host BMC configured, rebooting the IMC console instead")

		console, err := o.dial(ctx, o.asset.ConsoleEndpoint())
		if err != nil {
			return errors.Wrap(err, "failed to connect to the IMC console")
		}
		defer console.Close()

		if _, err := console.Run(ctx, "reboot"); err != nil {
			return err
		}
	}

	// give the IMC time to settle before touching it again
	return remote.Sleep(ctx, o.cfg.Timings.ColdBootSettle)
}

func (o *Orchestrator) hostPowerCycle(ctx context.Context) error {
	logger := logrusr.New(log.NewLogrusLogger(o.cfg.LogLevel))

	client := bmclib.NewClient(
		o.asset.HostBmcAddress,
		o.asset.HostBmcUsername,
		o.asset.HostBmcPassword,
		bmclib.WithLogger(logger),
	)

	if err := client.Open(ctx); err != nil {
		return errors.Wrap(err, "failed to open host BMC client")
	}
	defer client.Close(ctx)

	if _, err := client.SetPowerState(ctx, model.PowerStateCycle); err != nil {
		return errors.Wrap(err, "failed to power cycle the host")
	}

	slog.Info("host power cycled", "hostBmc", o.asset.HostBmcAddress)

	return nil
}
