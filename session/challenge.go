package session

import (
	"context"
	"errors"

	"github.com/mdrys/lanyard/rest"
	"github.com/mdrys/lanyard/store"
)

// PendingChallengeUsername returns the username awaiting two-factor
// verification, or empty when no challenge is open.
func (m *Manager) PendingChallengeUsername() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingUsername
}

// VerifyChallenge submits a one-time code for the pending challenge. A
// rejected code is an outcome, not an error, and leaves the challenge
// open for another attempt.
func (m *Manager) VerifyChallenge(ctx context.Context, code string) (VerifyOutcome, error) {
	code = normalizeCode(code)

	m.mu.Lock()
	if m.state != StatePendingChallenge || m.pendingUsername == "" {
		m.mu.Unlock()
		return VerifyOutcome{}, ErrNoPendingChallenge
	}
	username := m.pendingUsername
	m.mu.Unlock()

	pair, err := m.api.VerifyOTP(ctx, username, code)
	switch {
	case err == nil:
		m.establishSession(*pair)
		return VerifyOutcome{Verified: true}, nil
	case errors.Is(err, rest.ErrChallengeRejected):
		m.log.Debug().Str("username", username).Msg("one-time code rejected")
		return VerifyOutcome{Reason: rest.Detail(err)}, nil
	default:
		return VerifyOutcome{}, err
	}
}

// CancelChallenge abandons the pending two-factor step and returns to
// Anonymous. Purely local: no tokens exist yet, so there is nothing to
// invalidate remotely. No-op when no challenge is open.
func (m *Manager) CancelChallenge() {
	m.mu.Lock()
	if m.state != StatePendingChallenge {
		m.mu.Unlock()
		return
	}
	m.pendingUsername = ""
	m.state = StateAnonymous
	if err := m.store.Remove(store.KeyPendingChallenge); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.log.Error().Err(err).Msg("clearing pending challenge marker")
	}
	m.mu.Unlock()
	m.notify(Event{Kind: EventStateChanged, State: StateAnonymous})
}

// beginChallenge records the challenge durably so a restart resumes at
// the verification step instead of asking for credentials again.
func (m *Manager) beginChallenge(username string) {
	m.mu.Lock()
	m.pendingUsername = username
	m.state = StatePendingChallenge
	if err := m.store.Set(store.KeyPendingChallenge, username); err != nil {
		m.log.Error().Err(err).Msg("persisting pending challenge marker")
	}
	m.mu.Unlock()
	m.log.Info().Str("username", username).Msg("two-factor challenge required")
	m.notify(Event{Kind: EventStateChanged, State: StatePendingChallenge})
}
