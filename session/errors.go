package session

import "errors"

var (
	// ErrNotAuthenticated indicates the operation needs an authenticated
	// session and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAlreadyAuthenticated indicates a login was attempted over a live
	// session; callers must log out first.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	// ErrNoPendingChallenge indicates a verify or cancel was attempted
	// with no two-factor challenge open.
	ErrNoPendingChallenge = errors.New("no pending challenge")
)
