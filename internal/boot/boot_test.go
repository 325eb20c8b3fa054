package boot

import (
	"context"
	"testing"

	"github.com/metal-toolbox/ipuctl/internal/redfish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	method string
	path   string
	body   any
}

type fakeAPI struct {
	calls []recordedCall
}

func (f *fakeAPI) Get(_ context.Context, path string) (map[string]any, error) {
	f.calls = append(f.calls, recordedCall{method: "GET", path: path})
	return map[string]any{}, nil
}

func (f *fakeAPI) Post(_ context.Context, path string, body any) error {
	f.calls = append(f.calls, recordedCall{method: "POST", path: path, body: body})
	return nil
}

func (f *fakeAPI) Patch(_ context.Context, path string, body any) error {
	f.calls = append(f.calls, recordedCall{method: "PATCH", path: path, body: body})
	return nil
}

func TestOnceFromCD(t *testing.T) {
	api := &fakeAPI{}

	err := NewController(api).OnceFromCD(context.Background())
	require.NoError(t, err)

	require.Len(t, api.calls, 1)
	assert.Equal(t, "PATCH", api.calls[0].method)
	assert.Equal(t, redfish.SystemPath, api.calls[0].path)

	body, ok := api.calls[0].body.(redfish.BootOverrideRequest)
	require.True(t, ok)
	assert.Equal(t, redfish.OverrideOnce, body.Boot.Enabled)
	assert.Equal(t, redfish.TargetCd, body.Boot.Target)
}

func TestClearOverride(t *testing.T) {
	api := &fakeAPI{}

	err := NewController(api).ClearOverride(context.Background())
	require.NoError(t, err)

	require.Len(t, api.calls, 1)
	assert.Equal(t, "PATCH", api.calls[0].method)

	body, ok := api.calls[0].body.(redfish.BootOverrideRequest)
	require.True(t, ok)
	assert.Equal(t, redfish.OverrideDisabled, body.Boot.Enabled)
	assert.Empty(t, body.Boot.Target)
}

func TestHardReset(t *testing.T) {
	api := &fakeAPI{}

	err := NewController(api).HardReset(context.Background())
	require.NoError(t, err)

	require.Len(t, api.calls, 1)
	assert.Equal(t, "POST", api.calls[0].method)
	assert.Equal(t, redfish.ManagerResetPath, api.calls[0].path)

	body, ok := api.calls[0].body.(redfish.ResetRequest)
	require.True(t, ok)
	assert.Equal(t, "ForceRestart", body.ResetType)
}
