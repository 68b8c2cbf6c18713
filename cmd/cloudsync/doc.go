// Command cloudsync controls the cloudsync daemon.
//
// User-facing commands (start, stop, restart, reload, status, sync, history)
// talk to a running daemon over its Unix socket and fall back to on-disk state
// where that makes sense. The hidden daemon and watchdog commands are the
// entrypoints that start and restart launch in the background.
package main
