// Package notifications alerts a human when cloudsync stops keeping a
// directory in sync without being told to.
//
// Alerts are published to an ntfy topic URL from config.toml. With no topic
// configured NewService returns a no-op, so callers never nil-check. Delivery
// failures are returned to the caller, which logs them; they never affect
// supervision.
package notifications
