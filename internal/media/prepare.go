package media

import (
	"context"
	"log/slog"
	"strings"

	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/pkg/errors"
)

// The image host also carries the TLS materials the IMC must trust to
// fetch the image.
const (
	imageHostUser     = "root"
	imageHostPassword = "redhat"

	trustCertSource = "/root/.local-container-registry/domain.crt"
	trustKeySource  = "/root/.local-container-registry/domain.key"
)

// preInitScript runs on the IMC at every boot before the init app starts:
// it re-applies the package config fixups, installs the trust anchors and
// restarts redfish once an address is in place.
const preInitScript = `#!/bin/sh

CURDIR=$(pwd)
WORKDIR=` + "`dirname $(realpath $0)`" + `

if [ -d "$WORKDIR" ]; then
    cd $WORKDIR
    if [ -e load_custom_pkg.sh ]; then
        # Fix up the cp_init.cfg file
        ./load_custom_pkg.sh
    fi
fi
cd $CURDIR
cp /work/redfish/certs/server.key /etc/pki/ca-trust/source/anchors/
cp /work/redfish/certs/server.crt /etc/pki/ca-trust/source/anchors/
rm -rf /home/root/MtRemoteRunner # free up space on the IMC
update-ca-trust
sleep 10 # wait for ip address so that redfish starts with that in place
systemctl restart redfish
`

// prepareConsole sets up trust and boot-stage configuration on the IMC.
// Idempotent, repeated on every insert call. Ends with an IMC reboot so
// the boot hook takes effect.
func (i *Installer) prepareConsole(ctx context.Context, imageURL string) error {
	server, err := extractServer(imageURL)
	if err != nil {
		return err
	}

	imageHost, err := i.dial(ctx, model.Endpoint{
		Address:  server,
		Username: imageHostUser,
		Password: imageHostPassword,
	})
	if err != nil {
		return errors.Wrap(err, "failed to connect to the image host")
	}
	defer imageHost.Close()

	cert, err := imageHost.ReadFile(ctx, trustCertSource)
	if err != nil {
		return errors.Wrap(err, "failed to read trust cert from the image host")
	}

	key, err := imageHost.ReadFile(ctx, trustKeySource)
	if err != nil {
		return errors.Wrap(err, "failed to read trust key from the image host")
	}

	console, err := i.dial(ctx, i.console)
	if err != nil {
		return err
	}
	defer console.Close()

	setup := []string{
		"mkdir -pm 0700 /work/redfish/certs",
		"chmod 0700 /work/redfish",
		"chmod 0700 /work/redfish/certs",
	}

	for _, cmd := range setup {
		if _, err := console.Run(ctx, cmd); err != nil {
			return err
		}
	}

	if err := console.WriteFile(ctx, "/work/redfish/certs/server.crt", cert); err != nil {
		return err
	}

	if err := console.WriteFile(ctx, "/work/redfish/certs/server.key", key); err != nil {
		return err
	}

	if err := console.WriteFile(ctx, "/work/scripts/pre_init_app.sh", []byte(preInitScript)); err != nil {
		return err
	}

	// Use idpf for ACC to IMC networking and boot the ACC from stage 2.
	bootOptions := []string{
		`/usr/bin/imc-scripts/cfg_boot_options "init_app_acc_nboot_net_name" "enp0s1f0"`,
		`/usr/bin/imc-scripts/cfg_boot_options "init_app_acc_nboot_stage" "2"`,
	}

	for _, cmd := range bootOptions {
		if _, err := console.Run(ctx, cmd); err != nil {
			return err
		}
	}

	if err := i.raiseWatchdogTimeout(ctx, console); err != nil {
		return err
	}

	finalize := []string{
		"cp /etc/imc-redfish-configuration.json /work/redfish/",
		"echo " + i.bmc.Password + " | bash /usr/bin/ipu-redfish-generate-password-hash.sh",
		"reboot",
	}

	for _, cmd := range finalize {
		if _, err := console.Run(ctx, cmd); err != nil {
			return err
		}
	}

	slog.Info("IMC rebooting, waiting for it to come back")

	if err := remote.Sleep(ctx, i.timings.RedfishSettle); err != nil {
		return err
	}

	return remote.WaitPing(ctx, i.ping, i.console.Address, i.timings.RedfishSettle, i.timings.ConsoleBootWait)
}

// raiseWatchdogTimeout keeps frequent ACC redeploys from tripping the
// watchdog into recovery mode.
func (i *Installer) raiseWatchdogTimeout(ctx context.Context, console remote.Host) error {
	accConfig, err := console.ReadFile(ctx, accConfigPath)
	if err != nil {
		return errors.Wrap(err, "failed to read acc config")
	}

	patched := strings.Replace(string(accConfig), `"acc_watchdog_timer": 60`, `"acc_watchdog_timer": 9999`, 1)

	return console.WriteFile(ctx, accConfigPath, []byte(patched))
}

// RestartRedfish bounces the redfish service on the console and allows it
// a settle delay before accepting connections.
func (i *Installer) RestartRedfish(ctx context.Context) error {
	console, err := i.dial(ctx, i.console)
	if err != nil {
		return err
	}
	defer console.Close()

	if _, err := console.Run(ctx, "systemctl restart redfish"); err != nil {
		return err
	}

	return remote.Sleep(ctx, i.timings.RedfishSettle)
}
