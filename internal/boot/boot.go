// Package boot drives one-shot boot source overrides and resets through
// the IMC redfish endpoint.
package boot

import (
	"context"
	"log/slog"

	"github.com/metal-toolbox/ipuctl/internal/redfish"
)

type Controller struct {
	api redfish.API
}

func NewController(api redfish.API) *Controller {
	return &Controller{api: api}
}

// OnceFromCD sets a one-shot CD boot source override. Callers must pair
// it with a ClearOverride on every exit path, an override left enabled
// corrupts the next unrelated boot.
func (c *Controller) OnceFromCD(ctx context.Context) error {
	return c.api.Patch(ctx, redfish.SystemPath, redfish.BootOverrideRequest{
		Boot: redfish.BootOverride{
			Enabled: redfish.OverrideOnce,
			Target:  redfish.TargetCd,
		},
	})
}

// ClearOverride returns the boot source override to Disabled.
func (c *Controller) ClearOverride(ctx context.Context) error {
	return c.api.Patch(ctx, redfish.SystemPath, redfish.BootOverrideRequest{
		Boot: redfish.BootOverride{
			Enabled: redfish.OverrideDisabled,
		},
	})
}

// HardReset force-restarts the manager.
func (c *Controller) HardReset(ctx context.Context) error {
	slog.Info("triggering manager reset")

	return c.api.Post(ctx, redfish.ManagerResetPath, redfish.ResetRequest{
		ResetType: "ForceRestart",
	})
}
