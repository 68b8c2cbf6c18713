// Package logs reads the daemon's log files for `cloudsync logs`.
//
// Last returns the trailing lines of a file with bounded memory. Follow polls
// for appended lines and only emits complete ones, so a line the daemon is
// still writing is never split. When the file shrinks (a new run replaced the
// cloudsync.log pointer) reading restarts from the beginning.
package logs
