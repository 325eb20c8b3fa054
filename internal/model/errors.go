package model

import (
	"github.com/pkg/errors"
)

// Error taxonomy shared across packages. Soft failures trigger the SSH
// fallback channel, everything else terminates the running operation.
var (
	ErrConfig        = errors.New("configuration error")
	ErrInvalidAction = errors.New("invalid action")

	// ErrChannelUnavailable indicates the redfish channel could not be
	// used. Probes treat it as soft and fall back to the console.
	ErrChannelUnavailable = errors.New("redfish channel unavailable")

	// ErrTimeout indicates a bounded wait (media transfer, ACC liveness)
	// ran out of budget.
	ErrTimeout = errors.New("operation timed out")

	// ErrPrecondition indicates the device is not in a state the
	// operation supports. Never retried.
	ErrPrecondition = errors.New("precondition failed")

	// ErrVerification indicates a post-operation check found the device
	// in an unexpected state, for example a firmware version mismatch
	// after flashing.
	ErrVerification = errors.New("verification failed")

	// ErrVersionUnavailable indicates neither redfish nor the console
	// yielded a firmware version. The device is in an unrecognized state.
	ErrVersionUnavailable = errors.New("firmware version unavailable")
)
