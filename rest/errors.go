package rest

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialsRejected indicates the server refused the identifier/secret pair.
	ErrCredentialsRejected = errors.New("credentials rejected")
	// ErrChallengeRejected indicates the server refused the one-time code.
	ErrChallengeRejected = errors.New("one-time code rejected")
	// ErrRefreshRejected indicates the refresh token is invalid or expired.
	// This is the only error class that tears down an authenticated session.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrUnauthorized indicates a bearer-authenticated request was refused
	// with 401/403 despite a locally valid-looking token.
	ErrUnauthorized = errors.New("unauthorized")
)

// RejectionError is a 4xx refusal: Kind is the sentinel for the rejected
// operation (so errors.Is dispatch keeps working) and Detail carries the
// server's human-readable message verbatim.
type RejectionError struct {
	Op     string
	Kind   error
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

// Detail returns the server-supplied detail message carried by err, or
// err's own text when there is none.
func Detail(err error) string {
	var re *RejectionError
	if errors.As(err, &re) && re.Detail != "" {
		return re.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// TransportError wraps a network-level fault: connectivity loss, timeout,
// or a server-side 5xx. Callers treat these as transient and may retry;
// they never change session state.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
