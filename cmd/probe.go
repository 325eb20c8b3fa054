package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/metal-toolbox/ipuctl/internal/dryrun"
	"github.com/metal-toolbox/ipuctl/internal/probe"
	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/metal-toolbox/ipuctl/internal/remote"
)

var probeArgs = struct {
	oneShot
}{}

// probeCmd reports what is on the other end of a BMC address.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report whether a BMC fronts an IPU and its firmware version",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()

		if err := probeArgs.setup(ctx); err != nil {
			slog.Error("setup failed", "error", err)
			os.Exit(1)
		}

		var p *probe.Probe
		if probeArgs.cfg.Dryrun {
			p = probe.New(dryrun.NewAPI(probeArgs.asset), dryrun.NewDialer(probeArgs.asset), probeArgs.asset.ConsoleEndpoint())
		} else {
			p = probe.New(
				redfish.NewClient(probeArgs.asset.BmcEndpoint()),
				remote.NewSSHDialer(probeArgs.cfg.Timings.ConsoleDialTimeout),
				probeArgs.asset.ConsoleEndpoint(),
			)
		}

		fmt.Printf("redfish reachable: %t\n", p.Reachable(ctx))

		fmt.Printf("intel ipu: %t\n", p.IsIPU(ctx))

		version, err := p.Version(ctx)
		if err != nil {
			slog.Error("firmware version unavailable", "error", err, "asset", probeArgs.assetID)
			os.Exit(1)
		}
		fmt.Printf("firmware version: %s\n", version)
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeArgs.assetID, "asset-id", "", "inventory id of the IPU asset")

	rootCmd.AddCommand(probeCmd)
}
