package config

import (
	"os"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	defaultNatsConnectTimeout = 100 * time.Millisecond
)

// NatsConfig holds NATS specific configuration
type NatsConfig struct {
	NatsURL        string        `mapstructure:"url"`
	CredsFile      string        `mapstructure:"creds_file"`
	KVReplicas     int           `mapstructure:"kv_replicas"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Timings collects every settle delay, poll interval and wait budget used
// while provisioning. They are configuration so tests can run against a
// compressed clock.
type Timings struct {
	// RedfishSettle is the pause after restarting the redfish service on
	// the IMC before it accepts connections.
	RedfishSettle time.Duration `mapstructure:"redfish_settle"`

	// MediaPollInterval is the cadence of download progress polls while
	// virtual media transfers onto the IMC.
	MediaPollInterval time.Duration `mapstructure:"media_poll_interval"`

	// MediaTimeout bounds the whole virtual media transfer.
	MediaTimeout time.Duration `mapstructure:"media_timeout"`

	// LivenessPollInterval is the cadence of ACC reachability probes.
	LivenessPollInterval time.Duration `mapstructure:"liveness_poll_interval"`

	// InstallWait is the ACC liveness budget after an OS install boot.
	InstallWait time.Duration `mapstructure:"install_wait"`

	// RecheckWait is the ACC liveness budget for post-maintenance rechecks.
	RecheckWait time.Duration `mapstructure:"recheck_wait"`

	// EscalationWait is the liveness budget granted after rebooting the IMC.
	EscalationWait time.Duration `mapstructure:"escalation_wait"`

	// RebootSettle is the pause after triggering the install boot before
	// the IMC redfish service is restarted.
	RebootSettle time.Duration `mapstructure:"reboot_settle"`

	// ColdBootSettle is the pause after cold booting the host before the
	// IMC is reachable again.
	ColdBootSettle time.Duration `mapstructure:"cold_boot_settle"`

	// DriverReloadPause separates unloading and reloading the idpf driver.
	DriverReloadPause time.Duration `mapstructure:"driver_reload_pause"`

	// ConsoleDialTimeout bounds SSH dials to the IMC console when the
	// console is only probed, not required.
	ConsoleDialTimeout time.Duration `mapstructure:"console_dial_timeout"`

	// HeadTimeout bounds the HTTP HEAD used to size the install image.
	// Generous, image servers can be slow to answer for large ISOs.
	HeadTimeout time.Duration `mapstructure:"head_timeout"`

	// ConsoleBootWait bounds the ping wait for the IMC to come back
	// after a console reboot.
	ConsoleBootWait time.Duration `mapstructure:"console_boot_wait"`

	// PublishPace spaces out condition status publishes so the condition
	// API is not hammered by chatty actions.
	PublishPace time.Duration `mapstructure:"publish_pace"`
}

// Configuration holds application configuration read from a YAML file or
// set by env variables.
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// Concurrency is the number of concurrent conditions that can be
	// handled at once. Sessions against distinct IPUs are independent.
	Concurrency int `mapstructure:"concurrency"`

	// FacilityCode limits this service to events in a facility.
	FacilityCode string `mapstructure:"facility_code"`

	// InventoryFile is the YAML asset inventory the repository reads.
	InventoryFile string `mapstructure:"inventory_file"`

	// SupportedVersions are the firmware releases an OS install may run
	// against. Anything else is a fatal precondition failure.
	SupportedVersions []string `mapstructure:"supported_versions"`

	// MaxEscalations bounds IMC reboots while waiting for the ACC.
	MaxEscalations int `mapstructure:"max_escalations"`

	// NatsConfig defines the NATs events broker configuration parameters.
	NatsConfig *NatsConfig `mapstructure:"nats"`

	// Timings makes the provisioning delays and budgets injectable.
	Timings *Timings `mapstructure:"timings"`

	Dryrun          bool `mapstructure:"dryrun"`
	EnableProfiling bool `mapstructure:"enable_profiling"`
}

func newNatsConfig() *NatsConfig {
	return &NatsConfig{
		ConnectTimeout: defaultNatsConnectTimeout,
	}
}

// DefaultTimings are the delays the IPU firmware is known to need.
func DefaultTimings() *Timings {
	return &Timings{
		RedfishSettle:        10 * time.Second,
		MediaPollInterval:    10 * time.Second,
		MediaTimeout:         3600 * time.Second,
		LivenessPollInterval: 20 * time.Second,
		InstallWait:          1200 * time.Second,
		RecheckWait:          300 * time.Second,
		EscalationWait:       240 * time.Second,
		RebootSettle:         5 * time.Minute,
		ColdBootSettle:       20 * time.Second,
		DriverReloadPause:    10 * time.Second,
		ConsoleDialTimeout:   5 * time.Second,
		HeadTimeout:          3600 * time.Second,
		ConsoleBootWait:      300 * time.Second,
		PublishPace:          10 * time.Second,
	}
}

// New creates an empty configuration struct.
func New() *Configuration {
	config := &Configuration{}

	// these are initialized here so viper can read in configuration from env vars
	// once https://github.com/spf13/viper/pull/1429 is merged, this can go.
	config.NatsConfig = newNatsConfig()
	config.Timings = DefaultTimings()

	return config
}

func (c *Configuration) AsLogFields() []any {
	return []any{
		"logLevel", c.LogLevel,
		"concurrency", c.Concurrency,
		"facilityCode", c.FacilityCode,
		"inventoryFile", c.InventoryFile,
		"supportedVersions", strings.Join(c.SupportedVersions, ","),
		"natsURL", c.NatsConfig.NatsURL,
		"dryrun", c.Dryrun,
		"enableProfiling", c.EnableProfiling,
	}
}

func (c *Configuration) LoadArgs(args *model.Args) {
	c.LogLevel = args.LogLevel
	c.EnableProfiling = args.EnableProfiling
	c.FacilityCode = args.FacilityCode
}

// Load the application configuration
// Reads in the configFile when available and overrides from environment variables.
func Load(args *model.Args) (*Configuration, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(model.AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if args.ConfigFile != "" {
		fh, err := os.Open(args.ConfigFile)
		if err != nil {
			return nil, errors.Wrap(model.ErrConfig, err.Error())
		}

		if err = v.ReadConfig(fh); err != nil {
			return nil, errors.Wrap(model.ErrConfig, "ReadConfig error: "+err.Error())
		}
	}

	config := New()
	config.LoadArgs(args)

	if err := config.envBindVars(v); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "env var bind error: "+err.Error())
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "Unmarshal error: "+err.Error())
	}

	config.envVarAppOverrides(v)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Configuration) envVarAppOverrides(v *viper.Viper) {
	if logLevel := v.GetString("log.level"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if natsURL := v.GetString("nats.url"); natsURL != "" {
		c.NatsConfig.NatsURL = natsURL
	}

	if credsFile := v.GetString("nats.creds.file"); credsFile != "" {
		c.NatsConfig.CredsFile = credsFile
	}
}

func (c *Configuration) validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Concurrency == 0 {
		c.Concurrency = 1
	}

	if c.MaxEscalations == 0 {
		c.MaxEscalations = 5
	}

	if len(c.SupportedVersions) == 0 {
		c.SupportedVersions = []string{"1.8.0", "2.0.0"}
	}

	if c.Timings == nil {
		c.Timings = DefaultTimings()
	} else {
		c.Timings.fillDefaults()
	}

	return nil
}

func (t *Timings) fillDefaults() {
	def := DefaultTimings()

	if t.RedfishSettle == 0 {
		t.RedfishSettle = def.RedfishSettle
	}

	if t.MediaPollInterval == 0 {
		t.MediaPollInterval = def.MediaPollInterval
	}

	if t.MediaTimeout == 0 {
		t.MediaTimeout = def.MediaTimeout
	}

	if t.LivenessPollInterval == 0 {
		t.LivenessPollInterval = def.LivenessPollInterval
	}

	if t.InstallWait == 0 {
		t.InstallWait = def.InstallWait
	}

	if t.RecheckWait == 0 {
		t.RecheckWait = def.RecheckWait
	}

	if t.EscalationWait == 0 {
		t.EscalationWait = def.EscalationWait
	}

	if t.RebootSettle == 0 {
		t.RebootSettle = def.RebootSettle
	}

	if t.ColdBootSettle == 0 {
		t.ColdBootSettle = def.ColdBootSettle
	}

	if t.DriverReloadPause == 0 {
		t.DriverReloadPause = def.DriverReloadPause
	}

	if t.ConsoleDialTimeout == 0 {
		t.ConsoleDialTimeout = def.ConsoleDialTimeout
	}

	if t.HeadTimeout == 0 {
		t.HeadTimeout = def.HeadTimeout
	}
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (c *Configuration) envBindVars(v *viper.Viper) error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(c, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten configuration")
	}

	for k := range flat {
		if err := v.BindEnv(k); err != nil {
			return errors.Wrap(model.ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}
