//go:build !windows

package daemon

import (
	"os"
	"syscall"
)

const reloadSignalSupported = true

var handledSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

func isReloadSignal(sig os.Signal) bool {
	return sig == syscall.SIGHUP
}
