package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var firmwareArgs = struct {
	oneShot
	version string
	force   bool
}{}

// firmwareCmd flashes IMC firmware on one IPU and verifies the result.
var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Install IMC firmware on an IPU and verify the running release",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()

		if err := firmwareArgs.setup(ctx); err != nil {
			slog.Error("setup failed", "error", err)
			os.Exit(1)
		}

		err := firmwareArgs.orchestrator().UpgradeFirmware(ctx, firmwareArgs.version, firmwareArgs.force)
		if err != nil {
			slog.Error("firmware install failed", "error", err, "asset", firmwareArgs.assetID)
			os.Exit(1)
		}

		slog.Info("firmware install complete", "asset", firmwareArgs.assetID, "version", firmwareArgs.version)
	},
}

func init() {
	firmwareCmd.Flags().StringVar(&firmwareArgs.assetID, "asset-id", "", "inventory id of the IPU asset")
	firmwareCmd.Flags().StringVar(&firmwareArgs.version, "version", "", "firmware release to install")
	firmwareCmd.Flags().BoolVar(&firmwareArgs.force, "force", false, "flash even when the running release already matches")

	if err := firmwareCmd.MarkFlagRequired("version"); err != nil {
		slog.Error("failed to mark required flag", "error", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(firmwareCmd)
}
