// Package daemon coordinates the long-running cloudsync process.
//
// The Controller wires the config watcher, the task supervisor and the
// health monitor into one lifecycle and adds the daemon-level loops: signal
// handling, the instance self-check, the reload-marker poller and history
// pruning. All loops run under one errgroup; the first one to fail, a
// shutdown request, or cancellation of the parent context ends the group and
// triggers a graceful stop of every task.
//
// Keep process concerns (logging setup, locking, IPC) in daemonrun; this
// package only orchestrates components that are handed to it.
package daemon
