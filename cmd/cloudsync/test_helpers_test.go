package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cloudsync/internal/config"
	"cloudsync/internal/daemon"
	"cloudsync/internal/ipc"
	"cloudsync/internal/logging"
	"cloudsync/internal/supervisor"
	"cloudsync/internal/tasks"
	"cloudsync/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	fake       *testsupport.FakeExecutor
}

// setupCLITestEnv writes a config file pointing at temp directories with one
// task defined. No daemon is listening until startTestDaemon is called.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedRclone())
	t.Setenv("HOME", testsupport.BaseDir(cfg))
	t.Setenv("CLOUDSYNC_CONFIG", "")

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	testsupport.WriteTasks(t, cfg.Paths.TasksFile, tasks.Set{"vault": testsupport.Task(t, "vault")})

	return &cliTestEnv{cfg: cfg, configPath: configPath, fake: testsupport.NewFakeExecutor()}
}

// startTestDaemon serves IPC from an in-process controller with the task
// file already reconciled.
func (env *cliTestEnv) startTestDaemon(t *testing.T) {
	t.Helper()

	sup := supervisor.New(supervisor.Options{
		Loader:   tasks.NewStore(env.cfg.Paths.TasksFile),
		Executor: env.fake,
	}, logging.NewNop())
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })
	if err := sup.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	ctrl, err := daemon.New(daemon.Options{Config: env.cfg, Supervisor: sup})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv, err := ipc.NewServer(ctx, env.cfg.SocketPath(), ctrl, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI daemon test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q in output:\n%s", needle, haystack)
	}
}
