// Package synctask watches one local directory tree and turns bursts of
// changes into serialized sync runs.
//
// Each Task runs an event loop goroutine that owns the debounce timer and at
// most one sync goroutine at a time. A debounce expiry that lands while a sync
// is running sets a pending latch instead of starting a second run; when the
// running sync completes the latch is cleared and exactly one follow-up sync
// starts. Losing the watch ends the loop and leaves the task not alive so the
// health monitor can call Start again; Stop is terminal.
package synctask
