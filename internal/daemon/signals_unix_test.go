//go:build !windows

package daemon

import (
	"syscall"
	"testing"

	"cloudsync/internal/config"
	"cloudsync/internal/supervisor"
)

func TestHandleSignalRoutesReloadAndShutdown(t *testing.T) {
	cfg := config.Default()
	ctrl, err := New(Options{Config: &cfg, Supervisor: supervisor.New(supervisor.Options{}, nil)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctrl.handleSignal(syscall.SIGHUP)
	select {
	case <-ctrl.reloadCh:
	default:
		t.Fatal("SIGHUP should request a reload")
	}
	select {
	case <-ctrl.shutdownCh:
		t.Fatal("SIGHUP must not request shutdown")
	default:
	}

	ctrl.handleSignal(syscall.SIGTERM)
	ctrl.handleSignal(syscall.SIGINT)
	select {
	case <-ctrl.shutdownCh:
	default:
		t.Fatal("SIGTERM should request shutdown")
	}
}
