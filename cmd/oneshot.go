package cmd

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/dryrun"
	"github.com/metal-toolbox/ipuctl/internal/log"
	"github.com/metal-toolbox/ipuctl/internal/media"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/provision"
	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/metal-toolbox/ipuctl/internal/store"
)

var errNoAsset = errors.New("an asset id is required")

// oneShot is the shared state of the commands that run a single action
// against a single asset and exit.
type oneShot struct {
	assetID string

	cfg   *config.Configuration
	asset *model.Asset
}

// setup loads configuration and resolves the asset named on the command line.
func (o *oneShot) setup(ctx context.Context) error {
	log.InitLogger()

	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	log.SetLevel(cfg.LogLevel)
	o.cfg = cfg

	if o.assetID == "" {
		return errNoAsset
	}

	id, err := uuid.Parse(o.assetID)
	if err != nil {
		return errors.Wrap(err, "invalid asset id")
	}

	repository, err := store.NewRepository(ctx, cfg)
	if err != nil {
		return err
	}

	o.asset, err = repository.AssetByID(ctx, id)

	return err
}

// orchestrator wires the device channels for the resolved asset.
func (o *oneShot) orchestrator() *provision.Orchestrator {
	if o.cfg.Dryrun {
		api := dryrun.NewAPI(o.asset)

		return provision.New(
			o.asset, o.cfg, api,
			dryrun.NewDialer(o.asset),
			dryrun.NewPinger(o.asset),
			dryrun.NewSizer(api),
			dryrun.NewFlasher(o.asset),
		)
	}

	return provision.New(
		o.asset, o.cfg,
		redfish.NewClient(o.asset.BmcEndpoint()),
		remote.NewSSHDialer(o.cfg.Timings.ConsoleDialTimeout),
		remote.Ping,
		media.NewHeadSizer(o.cfg.Timings.HeadTimeout),
		provision.NewExecFlasher(""),
	)
}
