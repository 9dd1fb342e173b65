package session

import (
	"context"
	"errors"

	"github.com/mdrys/lanyard/rest"
	"github.com/mdrys/lanyard/store"
)

// Profile is the authenticated account's server-side profile combined
// with its community memberships.
type Profile struct {
	ID          string
	Username    string
	Email       string
	AvatarURL   string
	Preferences rest.Preferences
	Memberships []rest.Membership
}

// Profile returns the loaded profile, or nil while it is still being
// fetched (or after a transient load failure; the scheduler retries).
func (m *Manager) Profile() *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// RefreshProfile re-fetches the profile and memberships on demand.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	gen := m.generation
	m.mu.Unlock()
	return m.loadProfile(ctx, gen)
}

// loadProfile fetches the profile and memberships, reconciles the stored
// theme preference with the server's, and commits the result unless the
// session it belongs to has since been torn down. The fetch goes through
// the just-in-time accessor, so its token was locally valid; a 401 on top
// of that means the server disagrees, and the session is torn down.
// Transient faults keep the session and the scheduler retries.
func (m *Manager) loadProfile(ctx context.Context, gen uint64) error {
	prof, memberships, err := m.fetchProfile(ctx)
	if errors.Is(err, rest.ErrUnauthorized) {
		m.forceLogout(gen, "profile fetch unauthorized")
		return ErrNotAuthenticated
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("profile load failed; will retry")
		return err
	}

	// The server's profile is authoritative for the display theme; the
	// local copy only bridges the gap until the first load completes.
	theme := prof.Preferences.Theme
	if theme == "light" || theme == "dark" {
		if err := m.store.Set(store.KeyPreferredTheme, theme); err != nil {
			m.log.Error().Err(err).Msg("persisting theme preference")
		}
	}

	m.mu.Lock()
	if m.generation != gen || m.state != StateAuthenticated {
		m.mu.Unlock()
		return nil
	}
	m.profile = &Profile{
		ID:          prof.ID,
		Username:    prof.Username,
		Email:       prof.Email,
		AvatarURL:   prof.AvatarURL,
		Preferences: prof.Preferences,
		Memberships: memberships,
	}
	m.mu.Unlock()

	m.log.Debug().Str("username", prof.Username).Int("memberships", len(memberships)).Msg("profile loaded")
	m.notify(Event{Kind: EventProfileLoaded, State: StateAuthenticated})
	return nil
}

func (m *Manager) fetchProfile(ctx context.Context) (*rest.Profile, []rest.Membership, error) {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return nil, nil, err
	}
	prof, err := m.api.Me(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	memberships, err := m.api.Communities(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	return prof, memberships, nil
}
