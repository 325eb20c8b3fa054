package model

import (
	"net"

	"github.com/google/uuid"
	rctypes "github.com/metal-toolbox/rivets/v2/condition"
)

const (
	AppName = "ipuctl"

	// ConditionKind is the condition queue this controller subscribes to.
	ConditionKind = rctypes.Kind("ipuControl")
)

// Action names the unit of work requested through a condition or a
// one-shot command.
type Action string

const (
	// InstallOS boots the IPU from a remote ISO and waits for the ACC to
	// come up.
	InstallOS Action = "installOS"

	// FirmwareInstall flashes the IMC to a target firmware version.
	FirmwareInstall Action = "firmwareInstall"

	// DriverRecovery reloads the idpf driver on the IPU host and
	// re-verifies ACC reachability.
	DriverRecovery Action = "driverRecovery"
)

// Power states understood by the host BMC.
const (
	PowerStateOn    = "on"
	PowerStateReset = "reset"
	PowerStateCycle = "cycle"
)

// redfish on the IMC rejects passwords shorter than its minimum, the
// legacy BMC default gets expanded to a usable value.
const (
	legacyBmcPassword   = "calvin"
	expandedBmcPassword = "calvincalvincalvin"
)

// Endpoint identifies one management endpoint (BMC or console shell).
// Immutable after construction.
type Endpoint struct {
	Address  string
	Username string
	Password string
}

// NewBmcEndpoint builds the redfish endpoint of an IPU, normalizing the
// legacy default password.
func NewBmcEndpoint(address, username, password string) Endpoint {
	if password == legacyBmcPassword {
		password = expandedBmcPassword
	}

	return Endpoint{
		Address:  address,
		Username: username,
		Password: password,
	}
}

// nolint:govet // prefer to keep field ordering as is
type Asset struct {
	ID uuid.UUID

	// Device BMC attributes, the IMC redfish endpoint.
	BmcAddress  net.IP
	BmcUsername string
	BmcPassword string

	// AccAddress is the address the provisioned ACC OS comes up on.
	AccAddress string

	// HostAddress is the server the IPU is installed in.
	HostAddress string

	// Host BMC attributes, used to cold boot the IMC along with its host.
	HostBmcAddress  string
	HostBmcUsername string
	HostBmcPassword string

	// Facility this Asset is hosted in.
	FacilityCode string
}

// BmcEndpoint returns the redfish endpoint of the asset's IMC.
func (a *Asset) BmcEndpoint() Endpoint {
	return NewBmcEndpoint(a.BmcAddress.String(), a.BmcUsername, a.BmcPassword)
}

// ConsoleEndpoint returns the IMC shell endpoint. The IMC console accepts
// root with an empty password.
func (a *Asset) ConsoleEndpoint() Endpoint {
	return Endpoint{
		Address:  a.BmcAddress.String(),
		Username: "root",
		Password: "",
	}
}

func (a *Asset) AsLogFields() []any {
	return []any{
		"asset_id", a.ID.String(),
		"bmc", a.BmcAddress.String(),
		"acc", a.AccAddress,
		"host", a.HostAddress,
		"facility", a.FacilityCode,
	}
}

type Args struct {
	LogLevel        string
	ConfigFile      string
	FacilityCode    string
	EnableProfiling bool
}
