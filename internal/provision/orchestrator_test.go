package provision

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testImageURL = "http://192.0.2.10:8080/acc-os.iso"

func testConfig() *config.Configuration {
	return &config.Configuration{
		LogLevel:          "info",
		SupportedVersions: []string{"1.8.0", "2.0.0"},
		MaxEscalations:    5,
		Timings: &config.Timings{
			RedfishSettle:        time.Millisecond,
			MediaPollInterval:    time.Millisecond,
			MediaTimeout:         time.Second,
			LivenessPollInterval: time.Millisecond,
			InstallWait:          time.Second,
			RecheckWait:          time.Second,
			EscalationWait:       time.Second,
			RebootSettle:         time.Millisecond,
			ColdBootSettle:       time.Millisecond,
			DriverReloadPause:    time.Millisecond,
			ConsoleDialTimeout:   time.Millisecond,
			HeadTimeout:          time.Second,
			ConsoleBootWait:      time.Second,
		},
	}
}

func testAsset() *model.Asset {
	return &model.Asset{
		ID:          uuid.New(),
		BmcAddress:  net.ParseIP("192.0.2.1"),
		BmcUsername: "root",
		BmcPassword: "calvincalvincalvin",
		AccAddress:  "192.0.2.20",
		HostAddress: "192.0.2.30",
	}
}

type fakeMedia struct {
	inserted  []string
	restarted int
	err       error
}

func (f *fakeMedia) EnsureInserted(_ context.Context, imageURL string) error {
	if f.err != nil {
		return f.err
	}

	f.inserted = append(f.inserted, imageURL)

	return nil
}

func (f *fakeMedia) RestartRedfish(_ context.Context) error {
	f.restarted++
	return nil
}

type fakeBoot struct {
	ops      []string
	resetErr error
}

func (f *fakeBoot) OnceFromCD(_ context.Context) error {
	f.ops = append(f.ops, "once")
	return nil
}

func (f *fakeBoot) ClearOverride(_ context.Context) error {
	f.ops = append(f.ops, "clear")
	return nil
}

func (f *fakeBoot) HardReset(_ context.Context) error {
	f.ops = append(f.ops, "reset")
	return f.resetErr
}

func (f *fakeBoot) clears() int {
	count := 0
	for _, op := range f.ops {
		if op == "clear" {
			count++
		}
	}

	return count
}

type fakeProbe struct {
	isIPU   bool
	version string
	err     error
}

func (f *fakeProbe) IsIPU(_ context.Context) bool { return f.isIPU }

func (f *fakeProbe) Version(_ context.Context) (string, error) {
	return f.version, f.err
}

type fakeMonitor struct {
	waits int
	err   error
}

func (f *fakeMonitor) Wait(_ context.Context, _ time.Duration) error {
	f.waits++
	return f.err
}

type fakeFlasher struct {
	flashed []string
	err     error
}

func (f *fakeFlasher) Flash(_ context.Context, imcAddress, version string) error {
	if f.err != nil {
		return f.err
	}

	f.flashed = append(f.flashed, imcAddress+" "+version)

	return nil
}

// fakeConsole serves the firmware banner checks and records reboots.
type fakeConsole struct {
	mu     sync.Mutex
	banner string
	cmds   []string
}

func (f *fakeConsole) Run(_ context.Context, cmd string) (remote.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cmds = append(f.cmds, cmd)

	return remote.Result{}, nil
}

func (f *fakeConsole) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if path == consoleBannerPath {
		return []byte(f.banner), nil
	}

	return nil, errors.New("no such file")
}

func (f *fakeConsole) WriteFile(_ context.Context, _ string, _ []byte) error { return nil }
func (f *fakeConsole) Close() error                                          { return nil }

func (f *fakeConsole) ranCommand(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, cmd := range f.cmds {
		if strings.HasPrefix(cmd, prefix) {
			count++
		}
	}

	return count
}

type fixture struct {
	orc     *Orchestrator
	media   *fakeMedia
	boot    *fakeBoot
	probe   *fakeProbe
	monitor *fakeMonitor
	flasher *fakeFlasher
	console *fakeConsole
	dialed  []model.Endpoint
}

func newFixture() *fixture {
	f := &fixture{
		media:   &fakeMedia{},
		boot:    &fakeBoot{},
		probe:   &fakeProbe{isIPU: true, version: "2.0.0"},
		monitor: &fakeMonitor{},
		flasher: &fakeFlasher{},
		console: &fakeConsole{},
	}

	dial := func(_ context.Context, endpoint model.Endpoint) (remote.Host, error) {
		f.dialed = append(f.dialed, endpoint)
		return f.console, nil
	}

	ping := func(_ context.Context, _ string) bool { return true }

	f.orc = &Orchestrator{
		asset:      testAsset(),
		cfg:        testConfig(),
		boot:       f.boot,
		media:      f.media,
		probe:      f.probe,
		dial:       dial,
		ping:       ping,
		flasher:    f.flasher,
		newMonitor: func() ACCMonitor { return f.monitor },
	}

	return f
}

func TestInstallHappyPath(t *testing.T) {
	f := newFixture()

	err := f.orc.Install(context.Background(), testImageURL)
	require.NoError(t, err)

	assert.Equal(t, []string{testImageURL}, f.media.inserted)
	assert.Equal(t, 1, f.media.restarted)
	assert.Equal(t, 1, f.monitor.waits)

	// override set before the reset, cleared exactly once after it
	assert.Equal(t, []string{"once", "reset", "clear"}, f.boot.ops)
}

func TestInstallRefusesUnsupportedFirmware(t *testing.T) {
	f := newFixture()
	f.probe.version = "1.3.0"

	err := f.orc.Install(context.Background(), testImageURL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPrecondition))

	// nothing may touch the device after the precondition fails
	assert.Empty(t, f.media.inserted)
	assert.Empty(t, f.boot.ops)
}

func TestInstallFailsWhenVersionUnknown(t *testing.T) {
	f := newFixture()
	f.probe.err = errors.Wrap(model.ErrVersionUnavailable, "both channels down")

	err := f.orc.Install(context.Background(), testImageURL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrVersionUnavailable))
	assert.Empty(t, f.media.inserted)
}

func TestInstallToleratesResetFailure(t *testing.T) {
	f := newFixture()
	f.boot.resetErr = errors.New("manager reset refused")

	err := f.orc.Install(context.Background(), testImageURL)
	require.NoError(t, err)

	// a failed reset write is logged and the liveness wait decides the
	// outcome, the override still never survives the call
	assert.Equal(t, []string{"once", "reset", "clear"}, f.boot.ops)
	assert.Equal(t, 1, f.monitor.waits)
}

func TestInstallClearsOverrideOnceOnLivenessFailure(t *testing.T) {
	f := newFixture()
	f.monitor.err = errors.New("ACC never came up")

	err := f.orc.Install(context.Background(), testImageURL)
	require.Error(t, err)

	assert.Equal(t, 1, f.boot.clears())
}

func TestUpgradeFirmwareSkipsOnMatchingBanner(t *testing.T) {
	f := newFixture()
	f.console.banner = "IPU IMC MEV-HW-B1-ci.ts.release.2.5.0.117\n"

	err := f.orc.UpgradeFirmware(context.Background(), "2.5.0", false)
	require.NoError(t, err)

	assert.Empty(t, f.flasher.flashed)
	assert.Zero(t, f.console.ranCommand("reboot"))
}

func TestUpgradeFirmwareChecksWithExpandedCredential(t *testing.T) {
	f := newFixture()
	f.orc.asset.BmcPassword = "calvin"
	f.console.banner = "IPU IMC MEV-HW-B1-ci.ts.release.2.5.0.117\n"

	err := f.orc.UpgradeFirmware(context.Background(), "2.5.0", false)
	require.NoError(t, err)

	// the IMC rejects the short legacy password, the banner check must
	// authenticate with the expanded one
	require.NotEmpty(t, f.dialed)
	assert.Equal(t, "calvincalvincalvin", f.dialed[0].Password)
	assert.Equal(t, "root", f.dialed[0].Username)
}

func TestUpgradeFirmwareFlashesAndVerifies(t *testing.T) {
	f := newFixture()

	// banner stays behind the target until the flash lands
	f.console.banner = "IPU IMC MEV-HW-B1-ci.ts.release.1.8.0.9418\n"

	flasher := &bannerFlippingFlasher{console: f.console, banner: "IPU IMC MEV-HW-B1-ci.ts.release.2.5.0.117\n"}
	f.orc.flasher = flasher

	err := f.orc.UpgradeFirmware(context.Background(), "2.5.0", false)
	require.NoError(t, err)

	assert.Equal(t, 1, flasher.flashes)

	// no host BMC configured, the cold boot falls back to the console
	assert.Equal(t, 1, f.console.ranCommand("reboot"))
}

func TestUpgradeFirmwareForceSkipsTheMatchCheck(t *testing.T) {
	f := newFixture()
	f.console.banner = "IPU IMC MEV-HW-B1-ci.ts.release.2.5.0.117\n"

	err := f.orc.UpgradeFirmware(context.Background(), "2.5.0", true)
	require.NoError(t, err)

	require.Len(t, f.flasher.flashed, 1)
	assert.Contains(t, f.flasher.flashed[0], "192.0.2.1 2.5.0")
}

func TestUpgradeFirmwareFailsVerification(t *testing.T) {
	f := newFixture()
	f.console.banner = "IPU IMC MEV-HW-B1-ci.ts.release.1.8.0.9418\n"

	err := f.orc.UpgradeFirmware(context.Background(), "2.5.0", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrVerification))
}

func TestUpgradeFirmwareRefusesNonIPU(t *testing.T) {
	f := newFixture()
	f.probe.isIPU = false

	err := f.orc.UpgradeFirmware(context.Background(), "2.5.0", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPrecondition))
	assert.Empty(t, f.flasher.flashed)
}

func TestPostBootDriverRecovery(t *testing.T) {
	f := newFixture()

	err := f.orc.PostBootDriverRecovery(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.console.ranCommand("sudo rmmod idpf"))
	assert.Equal(t, 1, f.console.ranCommand("sudo modprobe idpf"))
	assert.Equal(t, 1, f.monitor.waits)
}

// bannerFlippingFlasher simulates a successful flash by updating the
// console banner the verification reads.
type bannerFlippingFlasher struct {
	console *fakeConsole
	banner  string
	flashes int
}

func (f *bannerFlippingFlasher) Flash(_ context.Context, _, _ string) error {
	f.flashes++

	f.console.mu.Lock()
	f.console.banner = f.banner
	f.console.mu.Unlock()

	return nil
}
