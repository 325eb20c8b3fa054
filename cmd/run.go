package cmd

import (
	"context"
	"log/slog"
	_ "net/http/pprof" // nolint:gosec // profiling endpoint listens on localhost.
	"os"
	"os/signal"
	"syscall"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/controller"
	"github.com/metal-toolbox/ipuctl/internal/log"
	"github.com/metal-toolbox/ipuctl/internal/metrics"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/profiling"
	"github.com/metal-toolbox/ipuctl/internal/version"
	"github.com/spf13/cobra"
)

// runCmd represents the worker command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ipuctl condition worker",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := runWorker(cmd.Context(), args); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runWorker(ctx context.Context, args *model.Args) error {
	log.InitLogger()

	cfg, err := config.Load(args)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	slog.Info("Configuration loaded", cfg.AsLogFields()...)

	log.SetLevel(cfg.LogLevel)

	// serve metrics endpoint
	metrics.ListenAndServe()
	version.ExportBuildInfoMetric()

	if cfg.EnableProfiling {
		profiling.Enable()
	}

	ctx, otelShutdown := otelinit.InitOpenTelemetry(ctx, model.AppName)
	defer otelShutdown(ctx)

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Cancel the context when we receive a termination signal.
	go func() {
		s := <-termChan
		slog.Info("Received signal for termination, exiting...", "signal", s.String())
		cancel()
	}()

	loggerEntry := log.NewLogrusLogger(cfg.LogLevel).WithField("facility", cfg.FacilityCode)

	nc, err := controller.New(ctx, cfg, loggerEntry)
	if err != nil {
		slog.Error("Failed to create the condition controller", "error", err)
		return err
	}

	slog.Info("ipuctl worker running", "version", version.Current().AppVersion)

	if err := nc.Listen(ctx); err != nil {
		slog.Error("Failed to listen for events", "error", err)
		return err
	}

	return nil
}
