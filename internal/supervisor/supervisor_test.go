package supervisor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloudsync/internal/health"
	"cloudsync/internal/logging"
	"cloudsync/internal/supervisor"
	"cloudsync/internal/tasks"
	"cloudsync/internal/testsupport"
)

type fixture struct {
	sup   *supervisor.Supervisor
	fake  *testsupport.FakeExecutor
	store *tasks.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeExecutor()
	store := tasks.NewStore(cfg.Paths.TasksFile)
	sup := supervisor.New(supervisor.Options{
		Loader:      store,
		Executor:    fake,
		StopTimeout: time.Second,
	}, logging.NewNop())
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })
	return &fixture{sup: sup, fake: fake, store: store}
}

func (f *fixture) status(t *testing.T, name string) (supervisor.TaskStatus, bool) {
	t.Helper()
	for _, st := range f.sup.Status() {
		if st.Name == name {
			return st, true
		}
	}
	return supervisor.TaskStatus{}, false
}

func (f *fixture) target(t *testing.T, name string) health.Target {
	t.Helper()
	for _, target := range f.sup.Inspect() {
		if target.Name == name {
			return target
		}
	}
	t.Fatalf("no health target for %s", name)
	return health.Target{}
}

func TestReloadStartsDeclaredTasks(t *testing.T) {
	f := newFixture(t)
	vault := testsupport.Task(t, "vault")
	photos := testsupport.Task(t, "photos")
	photos.Status = tasks.StatusPaused
	testsupport.WriteTasks(t, f.store.Path(), tasks.Set{"vault": vault, "photos": photos})

	if err := f.sup.Reload(context.Background()); err != nil {
		t.Fatalf("Reload returned error: %v", err)
	}
	statuses := f.sup.Status()
	if len(statuses) != 2 || statuses[0].Name != "photos" || statuses[1].Name != "vault" {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
	if statuses[0].Running || statuses[0].State() != "paused" {
		t.Fatalf("paused task should be registered but not running: %+v", statuses[0])
	}
	if !statuses[1].Running || statuses[1].Mode != "upload" || statuses[1].Remote != "test:vault" {
		t.Fatalf("vault should be running: %+v", statuses[1])
	}
}

func TestRemovedTaskStopsWatching(t *testing.T) {
	f := newFixture(t)
	vault := testsupport.Task(t, "vault")
	vault.DebounceSeconds = 0.05
	ctx := context.Background()

	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": vault}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := f.sup.Reconcile(ctx, tasks.Set{}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := f.status(t, "vault"); ok {
		t.Fatal("removed task still registered")
	}

	testsupport.Touch(t, filepath.Join(vault.LocalPath, "late.txt"))
	time.Sleep(300 * time.Millisecond)
	if got := f.fake.CallCount(); got != 0 {
		t.Fatalf("removed task still syncing (%d calls)", got)
	}
}

func TestChangedTaskGetsFreshRuntime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vault := testsupport.Task(t, "vault")
	vault.DebounceSeconds = 0.05
	f.fake.FailAll()

	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": vault}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	testsupport.Touch(t, filepath.Join(vault.LocalPath, "a.txt"))
	testsupport.Eventually(t, 2*time.Second, func() bool {
		st, _ := f.status(t, "vault")
		return st.ErrorCount == 1
	}, "expected a recorded sync failure")

	target := f.target(t, "vault")
	if err := f.sup.MarkFailed("vault", target.Generation); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	changed := vault
	changed.Remote = "test:vault-v2"
	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": changed}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	st, _ := f.status(t, "vault")
	if st.ErrorCount != 0 || st.Failed || st.RestartCount != 0 || st.Remote != "test:vault-v2" || !st.Running {
		t.Fatalf("expected fresh runtime for changed task, got %+v", st)
	}
	if next := f.target(t, "vault"); next.Generation == target.Generation {
		t.Fatal("changed task should get a new generation")
	}
	if _, err := f.sup.Restart(ctx, "vault", target.Generation); !errors.Is(err, health.ErrStale) {
		t.Fatalf("restart with old generation should be stale, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vault := testsupport.Task(t, "vault")
	vault.DebounceSeconds = 0.05

	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": vault}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	paused := vault
	paused.Status = tasks.StatusPaused
	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": paused}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	st, ok := f.status(t, "vault")
	if !ok || st.Running || st.Status != "paused" {
		t.Fatalf("expected registered paused task, got %+v (registered=%v)", st, ok)
	}
	if err := f.sup.TriggerSync("vault"); !errors.Is(err, supervisor.ErrTaskPaused) {
		t.Fatalf("expected ErrTaskPaused, got %v", err)
	}
	testsupport.Touch(t, filepath.Join(vault.LocalPath, "while-paused.txt"))
	time.Sleep(200 * time.Millisecond)
	if f.fake.CallCount() != 0 {
		t.Fatal("paused task must not sync")
	}

	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": vault}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if st, _ := f.status(t, "vault"); !st.Running {
		t.Fatalf("expected resumed task to run, got %+v", st)
	}
	testsupport.Touch(t, filepath.Join(vault.LocalPath, "after-resume.txt"))
	testsupport.Eventually(t, 2*time.Second, func() bool { return f.fake.CallCount() == 1 }, "resumed task should sync")
}

func TestInvalidConfigFallsBackToEmptySet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vault := testsupport.Task(t, "vault")
	testsupport.WriteTasks(t, f.store.Path(), tasks.Set{"vault": vault})
	if err := f.sup.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if err := os.WriteFile(f.store.Path(), []byte("[tasks.vault]\nlocal_path = 3\n"), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	err := f.sup.Reload(ctx)
	if !errors.Is(err, tasks.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if f.sup.Len() != 0 {
		t.Fatalf("expected empty registry after invalid config, got %d tasks", f.sup.Len())
	}
}

func TestStartFailureStaysRegisteredAndRestartRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vault := testsupport.Task(t, "vault")
	vault.LocalPath = filepath.Join(t.TempDir(), "not-yet")

	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": vault}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	st, ok := f.status(t, "vault")
	if !ok || st.Running || st.LastError == "" {
		t.Fatalf("expected registered, stopped task with error, got %+v", st)
	}
	target := f.target(t, "vault")
	if !target.Active || target.Alive {
		t.Fatalf("expected active dead target, got %+v", target)
	}

	attempts, err := f.sup.Restart(ctx, "vault", target.Generation)
	if err == nil || attempts != 1 {
		t.Fatalf("expected failed restart attempt 1, got %d (%v)", attempts, err)
	}

	if err := os.Mkdir(vault.LocalPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	attempts, err = f.sup.Restart(ctx, "vault", target.Generation)
	if err != nil || attempts != 0 {
		t.Fatalf("expected successful restart, got %d (%v)", attempts, err)
	}
	st, _ = f.status(t, "vault")
	if !st.Running || st.RestartCount != 1 || st.RestartAttempts != 0 {
		t.Fatalf("unexpected status after restart %+v", st)
	}
}

func TestTriggerSyncAndShutdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vault := testsupport.Task(t, "vault")
	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": vault}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if err := f.sup.TriggerSync("missing"); !errors.Is(err, supervisor.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if err := f.sup.TriggerSync("vault"); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	testsupport.Eventually(t, 2*time.Second, func() bool { return f.fake.CallCount() == 1 }, "manual sync should run")

	if err := f.sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if f.sup.Len() != 0 {
		t.Fatal("expected empty registry after shutdown")
	}
	if err := f.sup.Reconcile(ctx, tasks.Set{"vault": vault}); err == nil {
		t.Fatal("expected reconcile after shutdown to fail")
	}
}

func TestSyncOnStartTriggersInitialSync(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeExecutor()
	sup := supervisor.New(supervisor.Options{
		Loader:      tasks.NewStore(cfg.Paths.TasksFile),
		Executor:    fake,
		SyncOnStart: true,
	}, logging.NewNop())
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })

	if err := sup.Reconcile(context.Background(), tasks.Set{"vault": testsupport.Task(t, "vault")}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	testsupport.Eventually(t, 2*time.Second, func() bool { return fake.CallCount() == 1 }, "expected initial sync")
}

func TestRestartLeavesRunningTaskAlone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fake := testsupport.NewFakeExecutor()
	sup := supervisor.New(supervisor.Options{
		Loader:      tasks.NewStore(cfg.Paths.TasksFile),
		Executor:    fake,
		SyncOnStart: true,
	}, logging.NewNop())
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })

	ctx := context.Background()
	if err := sup.Reconcile(ctx, tasks.Set{"vault": testsupport.Task(t, "vault")}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	testsupport.Eventually(t, 2*time.Second, func() bool { return fake.CallCount() == 1 }, "expected initial sync")

	var target health.Target
	for _, candidate := range sup.Inspect() {
		if candidate.Name == "vault" {
			target = candidate
		}
	}
	if !target.Alive {
		t.Fatalf("expected live target, got %+v", target)
	}

	attempts, err := sup.Restart(ctx, "vault", target.Generation)
	if !errors.Is(err, health.ErrStale) || attempts != 0 {
		t.Fatalf("expected ErrStale for running task, got %d (%v)", attempts, err)
	}
	time.Sleep(200 * time.Millisecond)
	if calls := fake.CallCount(); calls != 1 {
		t.Fatalf("restart of running task triggered %d syncs", calls)
	}
	st := sup.Status()
	if len(st) != 1 || st[0].RestartCount != 0 || st[0].RestartAttempts != 0 || !st[0].Running {
		t.Fatalf("running task counters changed: %+v", st)
	}
}
