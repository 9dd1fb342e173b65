// Package store provides the durable key/value storage abstraction for
// session state.
package store

import "errors"

// ErrNotFound is returned by Get when the key has never been written or
// has been removed.
var ErrNotFound = errors.New("key not found")

// Keys the session subsystem persists. These four values are sufficient
// to reconstruct subsystem state after a cold start.
const (
	KeyAccessToken      = "access_token"
	KeyRefreshToken     = "refresh_token"
	KeyPendingChallenge = "pending_challenge_username"
	KeyPreferredTheme   = "preferred_theme"
)

// Store defines the interface for durable session storage. Writes must be
// durable before Set returns. Clear removes every key ever written through
// the store, not just the enumerated session keys, so no stale state can
// leak into a later session on the same device.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
	Clear() error
}
