// Package controller subscribes to the condition queue and runs IPU
// provisioning actions against assets from the inventory.
package controller

import (
	"context"
	"time"

	"github.com/metal-toolbox/ctrl"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/store"
)

var (
	pkgName = "internal/controller"
	retries = 5
)

// Controller consumes ipuControl conditions off NATS.
type Controller struct {
	cfg        *config.Configuration
	logger     *logrus.Entry
	repository store.Repository
	nc         *ctrl.NatsController
}

// New creates a controller and connects its dependencies.
func New(ctx context.Context, cfg *config.Configuration, logger *logrus.Entry) (*Controller, error) {
	c := &Controller{
		cfg:    cfg,
		logger: logger,
	}

	if err := c.initNats(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to initialize connection to nats")
	}

	repository, err := store.NewRepository(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize the asset inventory")
	}

	c.repository = repository

	return c, nil
}

// Listen blocks handling conditions until the context is canceled.
func (c *Controller) Listen(ctx context.Context) error {
	handleFactory := func() ctrl.TaskHandler {
		return &TaskHandler{
			cfg:          c.cfg,
			logger:       c.logger,
			repository:   c.repository,
			controllerID: c.nc.ID(),
		}
	}

	return c.nc.ListenEvents(ctx, handleFactory)
}

func (c *Controller) initNats(ctx context.Context) error {
	var err error

	for i := range retries {
		c.nc = ctrl.NewNatsController(
			model.AppName,
			c.cfg.FacilityCode,
			string(model.ConditionKind),
			c.cfg.NatsConfig.NatsURL,
			c.cfg.NatsConfig.CredsFile,
			model.ConditionKind,
			ctrl.WithConcurrency(c.cfg.Concurrency),
			ctrl.WithKVReplicas(c.cfg.NatsConfig.KVReplicas),
			ctrl.WithLogger(c.logger.Logger),
			ctrl.WithConnectionTimeout(c.cfg.NatsConfig.ConnectTimeout),
		)

		err = c.nc.Connect(ctx)
		if err == nil {
			return nil
		}

		c.logger.Error(err)
		c.logger.Warnf("Attempt %d of %d failed. Trying again . . .", i, retries)
		time.Sleep(time.Duration(i) * time.Second)
	}

	return err
}
