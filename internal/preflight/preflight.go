package preflight

import (
	"fmt"

	"cloudsync/internal/config"
	"cloudsync/internal/deps"
	"cloudsync/internal/tasks"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks for the daemon settings and every active task.
func RunAll(cfg *config.Config, set tasks.Set) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("State directory", cfg.Paths.StateDir)}
	results = append(results, CheckRclone(cfg.Executor.RcloneBinary))

	for _, name := range set.Names() {
		task := set[name]
		if task.Paused() {
			continue
		}
		results = append(results, CheckDirectoryAccess(fmt.Sprintf("Task %s", name), task.LocalPath))
	}
	return results
}

// CheckRclone verifies that the sync engine binary can be found.
func CheckRclone(binary string) Result {
	status := deps.CheckBinaries([]deps.Requirement{deps.RcloneRequirement(binary)})[0]
	if !status.Available {
		return Result{Name: status.Name, Detail: status.Detail}
	}
	return Result{Name: status.Name, Passed: true, Detail: status.Command}
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
