package controller

import (
	"encoding/json"

	"github.com/google/uuid"
	rctypes "github.com/metal-toolbox/rivets/v2/condition"
	"github.com/metal-toolbox/ipuctl/internal/model"
	"github.com/pkg/errors"
)

// Parameters are the condition parameters accepted by this controller.
type Parameters struct {
	// AssetID identifies the IPU asset the action runs against.
	AssetID uuid.UUID `json:"asset_id"`

	// Action selects the unit of work.
	Action model.Action `json:"action"`

	// ImageURL is the install image for the installOS action. An empty
	// value falls back to the image configured on the worker.
	ImageURL string `json:"image_url,omitempty"`

	// Version is the firmware release for the firmwareInstall action.
	Version string `json:"version,omitempty"`

	// Force reflashes firmware even when the running release matches.
	Force bool `json:"force,omitempty"`
}

// Task is the typed form of the condition task this controller handles.
type Task rctypes.Task[*Parameters, json.RawMessage]

// newTask ungenerics a task received off the queue.
func newTask(genTask *rctypes.Task[any, any]) (*Task, error) {
	data, err := json.Marshal(genTask)
	if err != nil {
		return nil, errors.Wrap(errTaskConv, err.Error())
	}

	task := &Task{}
	if err := json.Unmarshal(data, task); err != nil {
		return nil, errors.Wrap(errTaskConv, err.Error())
	}

	if task.Parameters == nil || task.Parameters.AssetID == uuid.Nil {
		return nil, errInvalidConditionParams
	}

	return task, nil
}

// toGeneric converts the task back for publishing.
func (t *Task) toGeneric() (*rctypes.Task[any, any], error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(errTaskConv, err.Error())
	}

	genTask := &rctypes.Task[any, any]{}
	if err := json.Unmarshal(data, genTask); err != nil {
		return nil, errors.Wrap(errTaskConv, err.Error())
	}

	return genTask, nil
}
