package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(&model.Args{})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 5, cfg.MaxEscalations)
	assert.Equal(t, []string{"1.8.0", "2.0.0"}, cfg.SupportedVersions)

	require.NotNil(t, cfg.Timings)
	assert.Equal(t, 3600*time.Second, cfg.Timings.MediaTimeout)
	assert.Equal(t, 20*time.Second, cfg.Timings.LivenessPollInterval)
	assert.Equal(t, 300*time.Second, cfg.Timings.ConsoleBootWait)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`---
log_level: debug
concurrency: 3
facility_code: dc13
inventory_file: /etc/ipuctl/inventory.yaml
supported_versions:
  - "2.0.0"
max_escalations: 2
nats:
  url: nats://nats:4222
  kv_replicas: 3
timings:
  media_timeout: 30m
  liveness_poll_interval: 5s
`), 0o600))

	cfg, err := Load(&model.Args{ConfigFile: path, LogLevel: "info"})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, "dc13", cfg.FacilityCode)
	assert.Equal(t, "/etc/ipuctl/inventory.yaml", cfg.InventoryFile)
	assert.Equal(t, []string{"2.0.0"}, cfg.SupportedVersions)
	assert.Equal(t, 2, cfg.MaxEscalations)
	assert.Equal(t, "nats://nats:4222", cfg.NatsConfig.NatsURL)
	assert.Equal(t, 3, cfg.NatsConfig.KVReplicas)

	// configured timings win, the rest fall back to defaults
	assert.Equal(t, 30*time.Minute, cfg.Timings.MediaTimeout)
	assert.Equal(t, 5*time.Second, cfg.Timings.LivenessPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Timings.RebootSettle)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(&model.Args{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfig)
}
