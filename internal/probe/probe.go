// Package probe determines IMC firmware versions and card identity over
// redfish when reachable, falling back to the console banner otherwise.
package probe

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/metal-toolbox/ipuctl/internal/remote"
	"github.com/pkg/errors"
)

const (
	// ipuMarker identifies the card family in the redfish service root.
	ipuMarker = "Intel IPU"

	bannerPath = "/etc/issue"
)

var (
	// MEV firmware versions embed vendor prefixes and a build suffix,
	// only the three-component release is compared.
	redfishVersionPattern = regexp.MustCompile(`^MEV-.*\.([0-9]+\.[0-9]+\.[0-9]+)\.[0-9]+$`)

	bannerVersionPattern = regexp.MustCompile(`Version: (\S+)`)
)

// Channel yields a firmware version over one management channel.
type Channel interface {
	Version(ctx context.Context) (string, error)
}

type redfishChannel struct {
	api redfish.API
}

func (c *redfishChannel) Version(ctx context.Context) (string, error) {
	resource, err := c.api.Get(ctx, redfish.ManagerPath)
	if err != nil {
		return "", err
	}

	raw, ok := resource["FirmwareVersion"].(string)
	if !ok {
		return "", errors.New("manager resource has no FirmwareVersion")
	}

	match := redfishVersionPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if match == nil {
		return "", errors.Errorf("failed to extract version from %q", raw)
	}

	return match[1], nil
}

type consoleChannel struct {
	dial     remote.Dialer
	endpoint model.Endpoint
}

func (c *consoleChannel) Version(ctx context.Context) (string, error) {
	console, err := c.dial(ctx, c.endpoint)
	if err != nil {
		return "", err
	}
	defer console.Close()

	banner, err := console.ReadFile(ctx, bannerPath)
	if err != nil {
		return "", err
	}

	match := bannerVersionPattern.FindSubmatch(banner)
	if match == nil {
		return "", errors.New("no version token in system banner")
	}

	return strings.TrimSpace(string(match[1])), nil
}

// Probe selects the management channel by reachability and answers
// version and identity questions about one device.
type Probe struct {
	api     redfish.API
	redfish Channel
	console Channel
}

// New builds a probe for one device. The console endpoint is the IMC
// shell, dialed with a short timeout since it is only a fallback.
func New(api redfish.API, dial remote.Dialer, console model.Endpoint) *Probe {
	return &Probe{
		api:     api,
		redfish: &redfishChannel{api: api},
		console: &consoleChannel{dial: dial, endpoint: console},
	}
}

// Reachable reports whether the redfish channel answers at all. Any
// failure, TLS, auth or decode, gates channel selection and never raises.
func (p *Probe) Reachable(ctx context.Context) bool {
	_, err := p.api.Get(ctx, redfish.SystemPath)
	return err == nil
}

// IsIPU classifies the card. With redfish up the service root product
// name is authoritative. Without it, a console that yields a version at
// all is taken as identity.
// TODO: drop the console heuristic once the IMC starts redfish at boot.
func (p *Probe) IsIPU(ctx context.Context) bool {
	if p.Reachable(ctx) {
		resource, err := p.api.Get(ctx, redfish.ServiceRootPath)
		if err != nil {
			return false
		}

		name, _ := resource["Name"].(string)

		return strings.Contains(name, ipuMarker)
	}

	_, err := p.console.Version(ctx)

	return err == nil
}

// Version returns the three-component firmware release. Failure of both
// channels is fatal for the caller, the device is in an unrecognized
// state and retrying will not help.
func (p *Probe) Version(ctx context.Context) (string, error) {
	if p.Reachable(ctx) {
		version, err := p.redfish.Version(ctx)
		if err != nil {
			return "", errors.Wrap(model.ErrVersionUnavailable, err.Error())
		}

		return version, nil
	}

	slog.Debug("redfish unreachable, probing version over the console")

	version, err := p.console.Version(ctx)
	if err != nil {
		return "", errors.Wrap(model.ErrVersionUnavailable, err.Error())
	}

	return version, nil
}
