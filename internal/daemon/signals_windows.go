//go:build windows

package daemon

import (
	"os"
	"syscall"
)

// Windows has no SIGHUP; reloads arrive through IPC or the reload marker.
const reloadSignalSupported = false

var handledSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func isReloadSignal(os.Signal) bool {
	return false
}
