package ipc

import (
	"time"

	"cloudsync/internal/history"
	"cloudsync/internal/supervisor"
)

// ServiceName is the RPC receiver name.
const ServiceName = "CloudSync"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// TaskStatus is the per-task status row.
type TaskStatus = supervisor.TaskStatus

// StatusResponse represents daemon and task status.
type StatusResponse struct {
	Running     bool         `json:"running"`
	PID         int          `json:"pid"`
	StartedAt   time.Time    `json:"started_at"`
	TasksFile   string       `json:"tasks_file"`
	LockPath    string       `json:"lock_path"`
	HistoryPath string       `json:"history_path"`
	Tasks       []TaskStatus `json:"tasks"`
}

// ReloadRequest asks the daemon to reload the task file.
type ReloadRequest struct{}

// ReloadResponse reports the reconcile outcome.
type ReloadResponse struct {
	Reloaded bool   `json:"reloaded"`
	Tasks    int    `json:"tasks"`
	Message  string `json:"message"`
}

// StopRequest asks the daemon to shut down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
	PID     int  `json:"pid"`
}

// SyncRequest triggers an immediate sync of one task.
type SyncRequest struct {
	Task string `json:"task"`
}

// SyncResponse acknowledges a queued sync.
type SyncResponse struct {
	Queued bool `json:"queued"`
}

// HistoryRequest lists recent runs. An empty Task selects every task.
type HistoryRequest struct {
	Task  string `json:"task"`
	Limit int    `json:"limit"`
}

// Run is the wire form of a recorded sync run.
type Run struct {
	ID         string        `json:"id"`
	Task       string        `json:"task"`
	Remote     string        `json:"remote"`
	Mode       string        `json:"mode"`
	Trigger    string        `json:"trigger"`
	Resync     bool          `json:"resync"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	ExitCode   int           `json:"exit_code"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
}

// HistoryResponse contains runs, newest first.
type HistoryResponse struct {
	Runs []Run `json:"runs"`
}

// FromHistory converts a stored run to its wire form.
func FromHistory(run history.Run) Run {
	return Run{
		ID:         run.ID,
		Task:       run.Task,
		Remote:     run.Remote,
		Mode:       string(run.Mode),
		Trigger:    string(run.Trigger),
		Resync:     run.Resync,
		StartedAt:  run.StartedAt,
		Duration:   run.Duration(),
		ExitCode:   run.ExitCode,
		Success:    run.Success,
		Error:      run.ErrorMessage,
		OutputTail: run.OutputTail,
	}
}
