// Package inventory resolves assets from a YAML inventory file. Each
// record maps one IPU to its IMC, its host and the addresses the
// provisioned ACC comes up on.
package inventory

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	ErrInventory    = errors.New("inventory error")
	ErrAssetUnknown = errors.New("asset not found in inventory")
)

// record is one inventory entry as it appears in the file.
type record struct {
	ID              string `mapstructure:"id"`
	BmcAddress      string `mapstructure:"bmc_address"`
	BmcUsername     string `mapstructure:"bmc_username"`
	BmcPassword     string `mapstructure:"bmc_password"`
	AccAddress      string `mapstructure:"acc_address"`
	HostAddress     string `mapstructure:"host_address"`
	HostBmcAddress  string `mapstructure:"host_bmc_address"`
	HostBmcUsername string `mapstructure:"host_bmc_username"`
	HostBmcPassword string `mapstructure:"host_bmc_password"`
	FacilityCode    string `mapstructure:"facility_code"`
}

type file struct {
	Assets []record `mapstructure:"assets"`
}

// Store is a Repository backed by a YAML inventory file loaded once at
// startup.
type Store struct {
	assets map[uuid.UUID]*model.Asset
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.Wrap(ErrInventory, "no inventory file configured")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(ErrInventory, err.Error())
	}

	contents := &file{}
	if err := v.Unmarshal(contents); err != nil {
		return nil, errors.Wrap(ErrInventory, err.Error())
	}

	assets := make(map[uuid.UUID]*model.Asset, len(contents.Assets))

	for _, rec := range contents.Assets {
		asset, err := rec.toAsset()
		if err != nil {
			return nil, err
		}

		assets[asset.ID] = asset
	}

	return &Store{assets: assets}, nil
}

func (r record) toAsset() (*model.Asset, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, errors.Wrapf(ErrInventory, "invalid asset id %q: %s", r.ID, err.Error())
	}

	bmcIP := net.ParseIP(r.BmcAddress)
	if bmcIP == nil {
		return nil, errors.Wrapf(ErrInventory, "asset %s has invalid bmc_address %q", r.ID, r.BmcAddress)
	}

	return &model.Asset{
		ID:              id,
		BmcAddress:      bmcIP,
		BmcUsername:     r.BmcUsername,
		BmcPassword:     r.BmcPassword,
		AccAddress:      r.AccAddress,
		HostAddress:     r.HostAddress,
		HostBmcAddress:  r.HostBmcAddress,
		HostBmcUsername: r.HostBmcUsername,
		HostBmcPassword: r.HostBmcPassword,
		FacilityCode:    r.FacilityCode,
	}, nil
}

// AssetByID returns asset based on the identifier.
func (s *Store) AssetByID(_ context.Context, assetID uuid.UUID) (*model.Asset, error) {
	asset, ok := s.assets[assetID]
	if !ok {
		return nil, errors.Wrap(ErrAssetUnknown, assetID.String())
	}

	return asset, nil
}
