package daemonctl

import (
	"context"
	"time"

	"cloudsync/internal/config"
	"cloudsync/internal/deps"
	"cloudsync/internal/fileutil"
	"cloudsync/internal/history"
	"cloudsync/internal/ipc"
	"cloudsync/internal/tasks"
)

// StatusSnapshot is everything `cloudsync status` renders.
type StatusSnapshot struct {
	Running bool
	Daemon  *ipc.StatusResponse
	// Tasks comes from the daemon when it runs, otherwise from the task file
	// with every task reported as not running.
	Tasks         []ipc.TaskStatus
	TaskFileError string
	LastRuns      map[string]ipc.Run
	Dependencies  []deps.Status
	RcloneVersion string
}

// BuildStatusSnapshot collects daemon status and falls back to on-disk state
// when the daemon is offline.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) StatusSnapshot {
	snap := StatusSnapshot{
		Dependencies: deps.CheckBinaries([]deps.Requirement{deps.RcloneRequirement(cfg.Executor.RcloneBinary)}),
		LastRuns:     map[string]ipc.Run{},
	}
	if snap.Dependencies[0].Available {
		if version, err := deps.RcloneVersion(ctx, cfg.Executor.RcloneBinary); err == nil {
			snap.RcloneVersion = version
		}
	}

	if client, err := ipc.Dial(cfg.SocketPath()); err == nil {
		defer client.Close()
		if status, statusErr := client.Status(); statusErr == nil {
			snap.Running = true
			snap.Daemon = status
			snap.Tasks = status.Tasks
			if resp, histErr := client.History("", 50); histErr == nil {
				for _, run := range resp.Runs {
					if _, seen := snap.LastRuns[run.Task]; !seen {
						snap.LastRuns[run.Task] = run
					}
				}
			}
			return snap
		}
	}

	set, err := tasks.NewStore(cfg.Paths.TasksFile).Load()
	if err != nil {
		snap.TaskFileError = err.Error()
	}
	for _, name := range set.Names() {
		task := set[name]
		snap.Tasks = append(snap.Tasks, ipc.TaskStatus{
			Name:      name,
			Mode:      string(task.Mode),
			Remote:    task.Remote,
			LocalPath: task.LocalPath,
			Status:    string(task.Status),
		})
	}
	if cfg.History.Enabled {
		snap.LastRuns = offlineLastRuns(ctx, cfg, set)
	}
	return snap
}

func offlineLastRuns(ctx context.Context, cfg *config.Config, set tasks.Set) map[string]ipc.Run {
	out := map[string]ipc.Run{}
	if exists, _ := fileutil.Exists(cfg.HistoryDB()); !exists {
		return out
	}
	store, err := history.Open(cfg.HistoryDB())
	if err != nil {
		return out
	}
	defer store.Close()

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, name := range set.Names() {
		runs, err := store.Recent(queryCtx, name, 1)
		if err != nil || len(runs) == 0 {
			continue
		}
		out[name] = ipc.FromHistory(runs[0])
	}
	return out
}
