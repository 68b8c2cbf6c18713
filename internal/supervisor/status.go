package supervisor

import (
	"sort"
	"time"
)

// TaskStatus is the externally visible state of one registered task.
type TaskStatus struct {
	Name             string        `json:"name"`
	Mode             string        `json:"mode"`
	Remote           string        `json:"remote"`
	LocalPath        string        `json:"local_path"`
	Status           string        `json:"status"`
	Running          bool          `json:"running"`
	StartedAt        time.Time     `json:"started_at,omitzero"`
	Uptime           time.Duration `json:"uptime"`
	LastError        string        `json:"last_error,omitempty"`
	ErrorCount       int           `json:"error_count"`
	RestartCount     int           `json:"restart_count"`
	RestartAttempts  int           `json:"restart_attempts"`
	Failed           bool          `json:"failed"`
	Debouncing       bool          `json:"debouncing"`
	Syncing          bool          `json:"syncing"`
	Pending          bool          `json:"pending"`
	SyncCount        int           `json:"sync_count"`
	LastSync         time.Time     `json:"last_sync,omitzero"`
	LastSyncDuration time.Duration `json:"last_sync_duration"`
	LastSyncOK       bool          `json:"last_sync_ok"`
}

// State summarizes the task for display: paused, failed, syncing, running
// or stopped.
func (s TaskStatus) State() string {
	switch {
	case s.Status == "paused":
		return "paused"
	case s.Failed:
		return "failed"
	case s.Syncing:
		return "syncing"
	case s.Running:
		return "running"
	default:
		return "stopped"
	}
}

// Status returns one entry per registered task, sorted by name.
//
// Status only takes the registry lock, not the reconcile lock, so it never
// waits for a reconcile that is stopping tasks. During such a pass, tasks the
// pass added are already listed but report Running false until their watch
// starts.
func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]TaskStatus, 0, len(s.entries))
	for name, e := range s.entries {
		st := TaskStatus{
			Name:            name,
			Mode:            string(e.cfg.Mode),
			Remote:          e.cfg.Remote,
			LocalPath:       e.cfg.LocalPath,
			Status:          string(e.cfg.Status),
			RestartCount:    e.restarts,
			RestartAttempts: e.attempts,
			Failed:          e.failed,
		}
		if e.task != nil {
			rt := e.task.Snapshot()
			st.Running = rt.Running
			st.LastError = rt.LastError
			st.ErrorCount = rt.ErrorCount
			st.Debouncing = rt.Debouncing
			st.Syncing = rt.Syncing
			st.Pending = rt.Pending
			st.SyncCount = rt.SyncCount
			st.LastSync = rt.LastSync
			st.LastSyncDuration = rt.LastSyncDuration
			st.LastSyncOK = rt.LastSyncOK
			if rt.Running {
				st.StartedAt = rt.StartedAt
				st.Uptime = now.Sub(rt.StartedAt).Round(time.Second)
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tasks.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
