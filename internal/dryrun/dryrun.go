// Package dryrun simulates one IPU, its redfish endpoint and its console,
// so provisioning flows can run without hardware.
package dryrun

import (
	"context"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/media"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"
)

var (
	errUnknownDevice = errors.New("dryrun couldnt find simulated device")

	mu      sync.Mutex
	devices = make(map[string]*device)
)

func init() {
	// copystructure cannot descend into time.Time
	copystructure.Copiers[reflect.TypeOf(time.Time{})] = func(v interface{}) (interface{}, error) {
		return v.(time.Time), nil
	}
}

// device is the simulated state of one IPU.
// nolint:govet // prefer to keep field ordering as is
type device struct {
	FirmwareVersion string

	BootOverrideEnabled string
	BootOverrideTarget  string

	ImageURL      string
	ImageName     string
	ImageSize     int64
	DownloadStart time.Time
	URLMarker     string

	AccUpAt time.Time

	Files map[string]string
}

// Durations compressed against the real hardware, a simulated install
// completes in under a second.
const (
	downloadDuration = 100 * time.Millisecond
	accBootDuration  = 200 * time.Millisecond
)

func getDevice(id string) *device {
	mu.Lock()
	defer mu.Unlock()

	dev, ok := devices[id]
	if !ok {
		dev = defaultDevice()
		devices[id] = dev
	}

	return dev
}

func defaultDevice() *device {
	return &device{
		FirmwareVersion:     "MEV-HW-B1-ci.2.0.0.9418",
		BootOverrideEnabled: redfish.OverrideDisabled,
		Files: map[string]string{
			"/etc/issue":     "Intel IPU IMC Version: 2.0.0 (dryrun)\n",
			"/etc/issue.net": "IPU IMC MEV-HW-B1-ci.ts.release.2.0.0.9418\n",
			"/mnt/imc/acc_variable/acc-config.json": `{"acc_watchdog_timer": 60}`,

			// the simulated session doubles as the image host
			"/root/.local-container-registry/domain.crt": "dryrun cert\n",
			"/root/.local-container-registry/domain.key": "dryrun key\n",
		},
	}
}

// downloaded returns how many bytes of the image have arrived by now.
func (d *device) downloaded() int64 {
	if d.ImageURL == "" {
		return 0
	}

	elapsed := time.Since(d.DownloadStart)
	if elapsed >= downloadDuration {
		return d.ImageSize
	}

	return d.ImageSize * int64(elapsed) / int64(downloadDuration)
}

func (d *device) accUp() bool {
	return !d.AccUpAt.IsZero() && time.Now().After(d.AccUpAt)
}

// Snapshot returns a deep copy of the simulated state for inspection.
func Snapshot(id string) (interface{}, error) {
	mu.Lock()
	dev, ok := devices[id]
	mu.Unlock()

	if !ok {
		return nil, errUnknownDevice
	}

	return copystructure.Copy(*dev)
}

// API simulates the IMC redfish endpoint.
type API struct {
	id string
}

func NewAPI(asset *model.Asset) *API {
	return &API{id: asset.ID.String()}
}

func (a *API) Get(_ context.Context, resourcePath string) (map[string]any, error) {
	dev := getDevice(a.id)

	mu.Lock()
	defer mu.Unlock()

	switch resourcePath {
	case redfish.ServiceRootPath:
		return map[string]any{"Name": "Intel IPU E2100 (dryrun)"}, nil
	case redfish.SystemPath:
		return map[string]any{
			"Boot": map[string]any{
				"BootSourceOverrideEnabled": dev.BootOverrideEnabled,
				"BootSourceOverrideTarget":  dev.BootOverrideTarget,
			},
		}, nil
	case redfish.ManagerPath:
		return map[string]any{"FirmwareVersion": dev.FirmwareVersion}, nil
	case redfish.VirtualMediaPath:
		return map[string]any{
			"Inserted":  dev.ImageURL != "" && dev.downloaded() == dev.ImageSize,
			"ImageName": dev.ImageName,
		}, nil
	default:
		return nil, &redfish.Error{StatusCode: http.StatusNotFound, Detail: resourcePath}
	}
}

func (a *API) Post(_ context.Context, resourcePath string, body any) error {
	dev := getDevice(a.id)

	mu.Lock()
	defer mu.Unlock()

	switch resourcePath {
	case redfish.InsertMediaPath:
		req, ok := body.(redfish.InsertMediaRequest)
		if !ok {
			return &redfish.Error{StatusCode: http.StatusBadRequest, Detail: "unexpected InsertMedia payload"}
		}

		dev.ImageURL = req.Image
		dev.ImageName = path.Base(req.Image)
		dev.DownloadStart = time.Now()

		return nil
	case redfish.ManagerResetPath:
		// a boot from the install media brings the ACC up after a while
		dev.AccUpAt = time.Now().Add(accBootDuration)
		return nil
	default:
		return &redfish.Error{StatusCode: http.StatusNotFound, Detail: resourcePath}
	}
}

func (a *API) Patch(_ context.Context, resourcePath string, body any) error {
	dev := getDevice(a.id)

	mu.Lock()
	defer mu.Unlock()

	if resourcePath != redfish.SystemPath {
		return &redfish.Error{StatusCode: http.StatusNotFound, Detail: resourcePath}
	}

	req, ok := body.(redfish.BootOverrideRequest)
	if !ok {
		return &redfish.Error{StatusCode: http.StatusBadRequest, Detail: "unexpected boot override payload"}
	}

	dev.BootOverrideEnabled = req.Boot.Enabled
	dev.BootOverrideTarget = req.Boot.Target

	return nil
}

// SetImageSize primes the simulated device with the byte size the next
// insert will converge to.
func (a *API) SetImageSize(size int64) {
	dev := getDevice(a.id)

	mu.Lock()
	defer mu.Unlock()

	dev.ImageSize = size
}

// simulatedImageSize stands in for the Content-Length of a real ISO.
const simulatedImageSize = int64(1 << 30)

// Sizer reports a fixed image size and primes the simulated device so the
// download converges on it.
type Sizer struct {
	api *API
}

func NewSizer(api *API) *Sizer {
	return &Sizer{api: api}
}

func (s *Sizer) Size(_ context.Context, _ string) (int64, error) {
	s.api.SetImageSize(simulatedImageSize)
	return simulatedImageSize, nil
}

// host simulates a shell on the IMC console or the ACC.
type host struct {
	id string
}

// NewDialer returns a remote.Dialer whose sessions land on the simulated
// device regardless of the endpoint address.
func NewDialer(asset *model.Asset) remote.Dialer {
	return func(_ context.Context, _ model.Endpoint) (remote.Host, error) {
		return &host{id: asset.ID.String()}, nil
	}
}

// NewPinger returns a remote.Pinger for the simulated device. The IMC
// always answers, the ACC only after an install boot has had time to land.
func NewPinger(asset *model.Asset) remote.Pinger {
	return func(_ context.Context, address string) bool {
		if address != asset.AccAddress {
			return true
		}

		dev := getDevice(asset.ID.String())

		mu.Lock()
		defer mu.Unlock()

		return dev.accUp()
	}
}

// Flasher flips the simulated device to the target firmware version
// instead of execing the real flashing procedure.
type Flasher struct {
	asset *model.Asset
}

func NewFlasher(asset *model.Asset) *Flasher {
	return &Flasher{asset: asset}
}

func (f *Flasher) Flash(_ context.Context, _, version string) error {
	dev := getDevice(f.asset.ID.String())

	mu.Lock()
	defer mu.Unlock()

	dev.FirmwareVersion = "MEV-HW-B1-ci." + version + ".9418"
	dev.Files["/etc/issue"] = "Intel IPU IMC Version: " + version + " (dryrun)\n"
	dev.Files["/etc/issue.net"] = "IPU IMC MEV-HW-B1-ci.ts.release." + version + ".9418\n"

	return nil
}

func (h *host) Run(_ context.Context, cmd string) (remote.Result, error) {
	dev := getDevice(h.id)

	mu.Lock()
	defer mu.Unlock()

	switch {
	case strings.HasPrefix(cmd, "du -b "):
		downloaded := dev.downloaded()
		if downloaded == 0 {
			return remote.Result{ExitCode: 1, Stderr: "du: no such file\n"}, nil
		}

		return remote.Result{Stdout: strconv.FormatInt(downloaded, 10) + "\t/mnt/imc/acc-os.iso\n"}, nil
	case strings.HasPrefix(cmd, "rm -f "):
		dev.ImageURL = ""
		dev.ImageName = ""
		return remote.Result{}, nil
	case cmd == "uname -a":
		return remote.Result{Stdout: "Linux acc 5.15 aarch64 (dryrun)\n"}, nil
	default:
		// console setup one-liners succeed silently
		return remote.Result{}, nil
	}
}

func (h *host) ReadFile(_ context.Context, filePath string) ([]byte, error) {
	dev := getDevice(h.id)

	mu.Lock()
	defer mu.Unlock()

	if filePath == media.URLMarkerPath {
		if dev.URLMarker == "" {
			return nil, errors.New("no such file")
		}

		return []byte(dev.URLMarker), nil
	}

	contents, ok := dev.Files[filePath]
	if !ok {
		return nil, errors.New("no such file")
	}

	return []byte(contents), nil
}

func (h *host) WriteFile(_ context.Context, filePath string, data []byte) error {
	dev := getDevice(h.id)

	mu.Lock()
	defer mu.Unlock()

	if filePath == media.URLMarkerPath {
		dev.URLMarker = string(data)
		return nil
	}

	dev.Files[filePath] = string(data)

	return nil
}

func (h *host) Close() error {
	return nil
}
