package controller

import (
	"testing"

	"github.com/google/uuid"
	rctypes "github.com/metal-toolbox/rivets/v2/condition"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genericTask(params map[string]any) *rctypes.Task[any, any] {
	return &rctypes.Task[any, any]{
		ID:         uuid.New(),
		Kind:       model.ConditionKind,
		State:      rctypes.Pending,
		Parameters: params,
	}
}

func TestNewTaskParsesParameters(t *testing.T) {
	assetID := uuid.New()

	genTask := genericTask(map[string]any{
		"asset_id":  assetID.String(),
		"action":    string(model.InstallOS),
		"image_url": "http://192.0.2.10:8080/acc-os.iso",
	})

	task, err := newTask(genTask)
	require.NoError(t, err)

	assert.Equal(t, genTask.ID, task.ID)
	assert.Equal(t, assetID, task.Parameters.AssetID)
	assert.Equal(t, model.InstallOS, task.Parameters.Action)
	assert.Equal(t, "http://192.0.2.10:8080/acc-os.iso", task.Parameters.ImageURL)
	assert.False(t, task.Parameters.Force)
}

func TestNewTaskRejectsMissingAssetID(t *testing.T) {
	_, err := newTask(genericTask(map[string]any{
		"action": string(model.FirmwareInstall),
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalidConditionParams)
}

func TestNewTaskRejectsNilParameters(t *testing.T) {
	_, err := newTask(genericTask(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalidConditionParams)
}

func TestToGenericRoundTrip(t *testing.T) {
	assetID := uuid.New()

	task, err := newTask(genericTask(map[string]any{
		"asset_id": assetID.String(),
		"action":   string(model.FirmwareInstall),
		"version":  "2.0.0",
		"force":    true,
	}))
	require.NoError(t, err)

	task.State = rctypes.Active
	task.Status.Append("installing firmware 2.0.0")

	genTask, err := task.toGeneric()
	require.NoError(t, err)

	assert.Equal(t, task.ID, genTask.ID)
	assert.Equal(t, rctypes.Active, genTask.State)

	params, ok := genTask.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, assetID.String(), params["asset_id"])
	assert.Equal(t, "firmwareInstall", params["action"])
	assert.Equal(t, true, params["force"])
}
