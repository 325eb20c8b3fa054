// Package media idempotently inserts a remote ISO as virtual boot media
// on the IMC. The redfish Inserted flag flips before the transfer
// completes, so completion is inferred from byte-size convergence of the
// downloaded image on the console.
package media

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/metal-toolbox/ipuctl/internal/config"
	"github.com/metal-toolbox/ipuctl/internal/metrics"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/pkg/errors"
)

const (
	// imagePath is where the IMC stores the downloaded install image.
	imagePath = "/mnt/imc/acc-os.iso"

	// URLMarkerPath records the last inserted image URL, it drives the
	// skip-on-match check that avoids re-downloading multi-gigabyte ISOs.
	URLMarkerPath = "/work/url"

	accConfigPath = "/mnt/imc/acc_variable/acc-config.json"

	// progressEvery spaces out download progress logs, one every six
	// poll intervals.
	progressEvery = 6
)

var (
	ErrSizeUnknown   = errors.New("could not determine image byte size")
	ErrInsertTimeout = errors.New("timeout waiting for virtual media insertion")
)

// Installer ensures a given image URL is mounted as virtual media exactly
// once, preparing the IMC console on the way.
type Installer struct {
	api     redfish.API
	dial    remote.Dialer
	bmc     model.Endpoint
	console model.Endpoint
	ping    remote.Pinger
	sizer   Sizer
	timings *config.Timings
}

func NewInstaller(api redfish.API, dial remote.Dialer, bmc, console model.Endpoint, ping remote.Pinger, sizer Sizer, timings *config.Timings) *Installer {
	return &Installer{
		api:     api,
		dial:    dial,
		bmc:     bmc,
		console: console,
		ping:    ping,
		sizer:   sizer,
		timings: timings,
	}
}

// EnsureInserted makes imageURL the mounted virtual media. Safe to repeat:
// when the recorded URL and the downloaded byte size already match, no
// InsertMedia action is issued.
func (i *Installer) EnsureInserted(ctx context.Context, imageURL string) error {
	expectedSize, err := i.sizer.Size(ctx, imageURL)
	if err != nil {
		return err
	}

	if err := i.prepareConsole(ctx, imageURL); err != nil {
		return errors.Wrap(err, "failed to prepare IMC console")
	}

	if err := i.RestartRedfish(ctx); err != nil {
		return errors.Wrap(err, "failed to restart redfish on the IMC")
	}

	console, err := i.dial(ctx, i.console)
	if err != nil {
		return err
	}
	defer console.Close()

	if i.matchingURL(ctx, console, imageURL) && i.sameSize(ctx, console, expectedSize) {
		slog.Info("keeping existing image, url and size unchanged", "image", imageURL)
		metrics.MediaInsertsSkipped.Inc()
	} else {
		slog.Info("cleaning up stale image")

		if _, err := console.Run(ctx, "rm -f "+imagePath); err != nil {
			return errors.Wrap(err, "failed to remove stale image")
		}

		if err := i.insert(ctx, console, imageURL, expectedSize); err != nil {
			return err
		}
	}

	return console.WriteFile(ctx, URLMarkerPath, []byte(imageURL))
}

func (i *Installer) matchingURL(ctx context.Context, console remote.Host, imageURL string) bool {
	contents, err := console.ReadFile(ctx, URLMarkerPath)
	if err != nil {
		return false
	}

	return string(contents) == imageURL
}

func (i *Installer) sameSize(ctx context.Context, console remote.Host, expectedSize int64) bool {
	size, ok := fileSize(ctx, console, imagePath)
	return ok && size == expectedSize
}

// fileSize reads the byte size of a remote file. Returns false when the
// file is missing or unreadable.
func fileSize(ctx context.Context, host remote.Host, path string) (int64, bool) {
	result, err := host.Run(ctx, "du -b "+path)
	if err != nil || !result.Success() {
		return 0, false
	}

	fields := strings.Fields(result.Stdout)
	if len(fields) == 0 {
		return 0, false
	}

	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || size < 0 {
		return 0, false
	}

	return size, true
}

func (i *Installer) insert(ctx context.Context, console remote.Host, imageURL string, expectedSize int64) error {
	slog.Info("inserting virtual media", "image", imageURL, "bytes", expectedSize)

	err := i.api.Post(ctx, redfish.InsertMediaPath, redfish.InsertMediaRequest{
		Image:          imageURL,
		TransferMethod: "Upload",
	})
	if err != nil {
		// the IMC starts transfers it reports errors for, size
		// convergence below is the authority on the outcome
		metrics.MediaInsertsTotal.WithLabelValues("failed").Inc()
		slog.Error("InsertMedia action failed, polling the transfer anyway", "error", err)
	}

	if err := i.waitDownloaded(ctx, console, imageURL, expectedSize); err != nil {
		metrics.MediaInsertsTotal.WithLabelValues("timeout").Inc()
		return err
	}

	metrics.MediaInsertsTotal.WithLabelValues("ok").Inc()

	return nil
}

// waitDownloaded polls the downloaded byte size against the expected size
// until they converge and the BMC reports the media inserted, or the
// transfer budget runs out.
func (i *Installer) waitDownloaded(ctx context.Context, console remote.Host, imageURL string, expectedSize int64) error {
	filename, err := extractFilename(imageURL)
	if err != nil {
		return err
	}

	slog.Info("waiting for image download", "image", imageURL, "bytes", expectedSize)

	deadline := time.Now().Add(i.timings.MediaTimeout)

	for loop := 0; ; loop++ {
		downloaded, _ := fileSize(ctx, console, imagePath)

		if downloaded == expectedSize && i.mediaInserted(ctx, filename) {
			slog.Info("virtual media inserted", "image", imageURL)
			return nil
		}

		if time.Now().After(deadline) {
			return errors.Wrapf(ErrInsertTimeout, "image %s", imageURL)
		}

		if loop%progressEvery == 0 {
			percentage := float64(downloaded) / float64(expectedSize) * 100.0
			slog.Info("download progress",
				"downloaded", downloaded,
				"expected", expectedSize,
				"percent", strconv.FormatFloat(percentage, 'f', 2, 64),
			)
		}

		if err := remote.Sleep(ctx, i.timings.MediaPollInterval); err != nil {
			return err
		}
	}
}

func (i *Installer) mediaInserted(ctx context.Context, filename string) bool {
	resource, err := i.api.Get(ctx, redfish.VirtualMediaPath)
	if err != nil {
		// transient poll failures are retried on the existing cadence
		return false
	}

	state := redfish.VirtualMediaFrom(resource)

	return state.Inserted && state.ImageName == filename
}
