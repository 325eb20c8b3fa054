package redfish

// Resource paths this controller consumes. The IMC firmware exposes a
// single system and a single manager.
const (
	ServiceRootPath  = "/redfish/v1/"
	SystemPath       = "/redfish/v1/Systems/1"
	ManagerPath      = "/redfish/v1/Managers/1"
	VirtualMediaPath = "/redfish/v1/Systems/1/VirtualMedia/1"
	InsertMediaPath  = "/redfish/v1/Systems/1/VirtualMedia/1/Actions/VirtualMedia.InsertMedia"
	ManagerResetPath = "/redfish/v1/Managers/1/Actions/Manager.Reset"
)

// Boot source override values.
const (
	OverrideOnce     = "Once"
	OverrideDisabled = "Disabled"
	TargetCd         = "Cd"
)

// VirtualMediaState is the BMC's view of the mounted media. The Inserted
// flag flips before the image transfer completes, so it is never trusted
// alone, completion is inferred from byte-size convergence on the console.
type VirtualMediaState struct {
	Inserted  bool
	ImageName string
}

// VirtualMediaFrom extracts the media state from a VirtualMedia resource.
func VirtualMediaFrom(resource map[string]any) VirtualMediaState {
	state := VirtualMediaState{}

	if inserted, ok := resource["Inserted"].(bool); ok {
		state.Inserted = inserted
	}

	if name, ok := resource["ImageName"].(string); ok {
		state.ImageName = name
	}

	return state
}

// InsertMediaRequest is the InsertMedia action payload. TransferMethod
// Upload makes the BMC download the image onto its local storage.
type InsertMediaRequest struct {
	Image          string `json:"Image"`
	TransferMethod string `json:"TransferMethod"`
}

// BootOverrideRequest is the Systems PATCH payload for one-shot boot
// source overrides.
type BootOverrideRequest struct {
	Boot BootOverride `json:"Boot"`
}

type BootOverride struct {
	Enabled string `json:"BootSourceOverrideEnabled"`
	Target  string `json:"BootSourceOverrideTarget,omitempty"`
}

// ResetRequest is the Manager.Reset action payload.
type ResetRequest struct {
	ResetType string `json:"ResetType"`
}
