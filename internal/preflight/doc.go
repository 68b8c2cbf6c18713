// Package preflight provides readiness checks for the filesystem paths and
// external binaries the daemon depends on.
//
// The daemon runs RunAll once at startup and logs every failure as a warning;
// nothing here blocks startup because a task whose directory is missing is
// retried by the health monitor. The CLI status command renders the same
// results.
package preflight
