package controller

import (
	"context"
	"time"

	"github.com/metal-toolbox/ctrl"
	rctypes "github.com/metal-toolbox/rivets/v2/condition"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/dryrun"
	"github.com/metal-toolbox/ipuctl/internal/media"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/provision"
	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/metal-toolbox/ipuctl/internal/store"
)

type TaskHandler struct {
	logger       *logrus.Entry
	cfg          *config.Configuration
	repository   store.Repository
	asset        *model.Asset
	task         *Task
	publisher    ctrl.Publisher
	startTS      time.Time
	controllerID string
}

func (th *TaskHandler) HandleTask(ctx context.Context, genTask *rctypes.Task[any, any], publisher ctrl.Publisher) error {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"controller.HandleTask",
	)
	defer span.End()

	var err error
	th.startTS = time.Now()
	th.publisher = publisher

	// Ungeneric the task
	th.task, err = newTask(genTask)
	if err != nil {
		th.logger.WithFields(logrus.Fields{
			"conditionID":  genTask.ID,
			"controllerID": th.controllerID,
			"err":          err.Error(),
		}).Error("task conversion error")
		return err
	}

	th.asset, err = th.repository.AssetByID(ctx, th.task.Parameters.AssetID)
	if err != nil {
		th.logger.WithFields(logrus.Fields{
			"assetID":      th.task.Parameters.AssetID.String(),
			"conditionID":  th.task.ID,
			"controllerID": th.controllerID,
			"err":          err.Error(),
		}).Error("asset lookup error")

		return ctrl.ErrRetryHandler
	}

	// New log entry for this condition
	th.logger = th.logger.WithFields(
		logrus.Fields{
			"controllerID": th.controllerID,
			"conditionID":  th.task.ID.String(),
			"assetID":      th.asset.ID.String(),
			"bmc":          th.asset.BmcAddress.String(),
			"action":       th.task.Parameters.Action,
		},
	)

	return th.run(ctx)
}

func (th *TaskHandler) run(ctx context.Context) error {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"TaskHandler.run",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	th.logger.Info("running condition action")
	if err := th.publishActive(ctx, "running condition action"); err != nil {
		return err
	}

	return th.handleAction(ctx, th.orchestrator())
}

// orchestrator wires the device channels for this asset, simulated or real.
func (th *TaskHandler) orchestrator() *provision.Orchestrator {
	if th.cfg.Dryrun {
		th.logger.Warn("running the device in dryrun mode")

		api := dryrun.NewAPI(th.asset)

		return provision.New(
			th.asset, th.cfg, api,
			dryrun.NewDialer(th.asset),
			dryrun.NewPinger(th.asset),
			dryrun.NewSizer(api),
			dryrun.NewFlasher(th.asset),
		)
	}

	return provision.New(
		th.asset, th.cfg,
		redfish.NewClient(th.asset.BmcEndpoint()),
		remote.NewSSHDialer(th.cfg.Timings.ConsoleDialTimeout),
		remote.Ping,
		media.NewHeadSizer(th.cfg.Timings.HeadTimeout),
		provision.NewExecFlasher(""),
	)
}

// handleAction completes the condition task based on the condition action
func (th *TaskHandler) handleAction(ctx context.Context, orc *provision.Orchestrator) error {
	switch th.task.Parameters.Action {
	case model.InstallOS:
		return th.installOS(ctx, orc)
	case model.FirmwareInstall:
		return th.firmwareInstall(ctx, orc)
	case model.DriverRecovery:
		return th.driverRecovery(ctx, orc)
	default:
		return th.failedWithError(ctx, string(th.task.Parameters.Action), errUnsupportedAction)
	}
}

// installOS boots the device from the install image and waits for the ACC.
func (th *TaskHandler) installOS(ctx context.Context, orc *provision.Orchestrator) error {
	imageURL := th.task.Parameters.ImageURL
	if imageURL == "" {
		return th.failed(ctx, "no install image URL in condition parameters")
	}

	if err := th.publishActivef(ctx, "booting install image %s", imageURL); err != nil {
		return err
	}

	if err := orc.Install(ctx, imageURL); err != nil {
		return th.failedWithError(ctx, "OS install failed", err)
	}

	return th.successful(ctx, "OS install complete, ACC is up")
}

// firmwareInstall flashes the requested release and verifies it took.
func (th *TaskHandler) firmwareInstall(ctx context.Context, orc *provision.Orchestrator) error {
	version := th.task.Parameters.Version
	if version == "" {
		return th.failed(ctx, "no firmware version in condition parameters")
	}

	if err := th.publishActivef(ctx, "installing firmware %s", version); err != nil {
		return err
	}

	if err := orc.UpgradeFirmware(ctx, version, th.task.Parameters.Force); err != nil {
		return th.failedWithError(ctx, "firmware install failed", err)
	}

	return th.successful(ctx, "firmware install complete")
}

// driverRecovery reloads the host network driver and rechecks the ACC.
func (th *TaskHandler) driverRecovery(ctx context.Context, orc *provision.Orchestrator) error {
	if err := th.publishActive(ctx, "reloading host driver"); err != nil {
		return err
	}

	if err := orc.PostBootDriverRecovery(ctx); err != nil {
		return th.failedWithError(ctx, "driver recovery failed", err)
	}

	return th.successful(ctx, "driver recovery complete, ACC is up")
}
