package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/store/inventory"
)

// Repository resolves assets by identifier.
type Repository interface {
	// AssetByID returns asset based on the identifier.
	AssetByID(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
}

func NewRepository(_ context.Context, cfg *config.Configuration) (Repository, error) {
	return inventory.New(cfg.InventoryFile)
}
