package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var installArgs = struct {
	oneShot
	image         string
	driverRecover bool
}{}

// installCmd boots one IPU from an install image and waits for the ACC.
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Boot an IPU from an OS install image and wait for the ACC to come up",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()

		if err := installArgs.setup(ctx); err != nil {
			slog.Error("setup failed", "error", err)
			os.Exit(1)
		}

		orc := installArgs.orchestrator()

		if err := orc.Install(ctx, installArgs.image); err != nil {
			slog.Error("install failed", "error", err, "asset", installArgs.assetID)
			os.Exit(1)
		}

		if installArgs.driverRecover {
			if err := orc.PostBootDriverRecovery(ctx); err != nil {
				slog.Error("driver recovery failed", "error", err, "asset", installArgs.assetID)
				os.Exit(1)
			}
		}

		slog.Info("install complete, ACC is up", "asset", installArgs.assetID)
	},
}

func init() {
	installCmd.Flags().StringVar(&installArgs.assetID, "asset-id", "", "inventory id of the IPU asset")
	installCmd.Flags().StringVar(&installArgs.image, "image", "", "install image, an http(s) URL or a local ISO path to host")
	installCmd.Flags().BoolVar(&installArgs.driverRecover, "driver-recovery", false, "reload the host network driver after the install")

	if err := installCmd.MarkFlagRequired("image"); err != nil {
		slog.Error("failed to mark required flag", "error", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(installCmd)
}
