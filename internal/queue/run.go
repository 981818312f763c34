package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/gpcheck/internal/chain"
	"github.com/nadmax/gpcheck/internal/task"
)

// RunRequest asks a worker to execute one run of a registered chain.
type RunRequest struct {
	RunID       string        `json:"run_id"`
	ChainID     string        `json:"chain_id"`
	Trigger     chain.Trigger `json:"trigger"`
	RequestedAt time.Time     `json:"requested_at"`
}

func NewRunRequest(chainID string, trigger chain.Trigger) *RunRequest {
	return &RunRequest{
		RunID:       uuid.New().String(),
		ChainID:     chainID,
		Trigger:     trigger,
		RequestedAt: time.Now(),
	}
}

func (r *RunRequest) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func RunRequestFromJSON(data string) (*RunRequest, error) {
	var r RunRequest
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}

	return &r, nil
}

// RunStatus is the live view of a run as seen through state transitions.
type RunStatus struct {
	RunID      string                `json:"run_id"`
	ChainID    string                `json:"chain_id"`
	State      chain.State           `json:"state"`
	TaskStates map[string]task.State `json:"task_states"`
}
