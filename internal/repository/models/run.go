// Package models contains data structures used by the run history layer.
package models

import "time"

type RunSummary struct {
	RunID      string    `json:"run_id"`
	ChainID    string    `json:"chain_id"`
	Status     string    `json:"status"`
	FailedTask string    `json:"failed_task,omitempty"`
	WorkerID   string    `json:"worker_id"`
	CreatedAt  time.Time `json:"created_at"`
	DurationMs int64     `json:"duration_ms"`
}

type TaskRun struct {
	RunID      string     `json:"run_id"`
	ChainID    string     `json:"chain_id"`
	TaskID     string     `json:"task_id"`
	Position   int        `json:"position"`
	State      string     `json:"state"`
	Skipped    bool       `json:"skipped"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	ErrorMsg   string     `json:"error_message,omitempty"`
	RowCount   int        `json:"row_count"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
}

type ChainStats struct {
	ChainID       string  `json:"chain_id"`
	Status        string  `json:"status"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int64   `json:"max_duration_ms"`
	MinDurationMs int64   `json:"min_duration_ms"`
}
