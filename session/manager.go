// Package session owns the client-side authentication lifecycle: the
// login/challenge/refresh state machine, durable persistence of session
// state across restarts, proactive token renewal, and the read/subscribe
// surface the rest of the application consumes.
//
// Consumers never touch the durable store or decode tokens themselves;
// every read goes through the Manager and every authenticated request
// obtains its bearer token from the just-in-time AccessToken accessor.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/mdrys/lanyard/rest"
	"github.com/mdrys/lanyard/store"
)

// State is the session state machine's current state. Authenticating is
// transient: it is entered for the duration of a login exchange and
// resolves to one of the other states before Login returns.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StatePendingChallenge
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StatePendingChallenge:
		return "pending_challenge"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LoginStatus tags the outcome of a login attempt.
type LoginStatus int

const (
	// LoginAuthenticated: credentials accepted, tokens issued and persisted.
	LoginAuthenticated LoginStatus = iota
	// LoginChallengeRequired: credentials accepted, a one-time code is
	// required before tokens are issued.
	LoginChallengeRequired
	// LoginRejected: the server refused the credentials.
	LoginRejected
)

// LoginOutcome is the tagged result of Login. Expected authentication
// failures are outcomes, not errors; only transport faults surface as a
// returned error.
type LoginOutcome struct {
	Status   LoginStatus
	Username string // set when Status is LoginChallengeRequired
	Reason   string // set when Status is LoginRejected
}

// RefreshOutcome is the result of a refresh attempt. Renewed false with a
// nil error means the refresh token was rejected and the session has been
// torn down; Renewed false with an error means a transient fault left the
// session unchanged.
type RefreshOutcome struct {
	Renewed     bool
	AccessToken string
}

// VerifyOutcome is the tagged result of VerifyChallenge. A rejected code
// leaves the challenge open for retry.
type VerifyOutcome struct {
	Verified bool
	Reason   string
}

const (
	defaultRefreshInterval = 3 * time.Hour
	defaultExpirySkew      = 30 * time.Second
	defaultNetworkTimeout  = 15 * time.Second
)

// Manager owns the in-memory session state machine. All mutation goes
// through its methods; the durable store is the single source of truth on
// cold start and is never read or written by consumers directly.
type Manager struct {
	api   *rest.Client
	store store.Store
	log   zerolog.Logger

	now             func() time.Time
	skew            time.Duration
	refreshInterval time.Duration
	netTimeout      time.Duration

	mu              sync.Mutex
	state           State
	accessToken     string
	accessExpiry    time.Time
	refreshEnclave  *memguard.Enclave
	pendingUsername string
	profile         *Profile
	// generation is bumped on every teardown to Anonymous; in-flight
	// refresh and profile results carrying a stale generation are discarded.
	generation uint64

	group singleflight.Group

	subMu     sync.Mutex
	subs      map[uint64]chan Event
	nextSubID uint64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithClock sets the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithExpirySkew sets how close to its expiry a token is already treated
// as expired.
func WithExpirySkew(d time.Duration) Option {
	return func(m *Manager) {
		m.skew = d
	}
}

// WithRefreshInterval sets the proactive refresh cadence.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshInterval = d
	}
}

// WithNetworkTimeout bounds the background network calls the Manager
// issues on its own behalf (scheduled refresh, profile load, cold-start
// validation).
func WithNetworkTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.netTimeout = d
	}
}

// NewManager creates a Manager over the given API client and store. Call
// Start to rehydrate persisted state and launch the refresh scheduler.
func NewManager(api *rest.Client, st store.Store, opts ...Option) *Manager {
	m := &Manager{
		api:             api,
		store:           st,
		log:             zerolog.Nop(),
		now:             time.Now,
		skew:            defaultExpirySkew,
		refreshInterval: defaultRefreshInterval,
		netTimeout:      defaultNetworkTimeout,
		state:           StateAnonymous,
		subs:            make(map[uint64]chan Event),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start rehydrates session state from the durable store and launches the
// background refresh scheduler. If both tokens are present the session is
// adopted optimistically and validated against the server in the
// background; a pending challenge marker with no tokens resumes the
// two-factor step. Only a failing store is an error.
func (m *Manager) Start(ctx context.Context) error {
	access, err := m.getStored(store.KeyAccessToken)
	if err != nil {
		return fmt.Errorf("reading stored access token: %w", err)
	}
	refresh, err := m.getStored(store.KeyRefreshToken)
	if err != nil {
		return fmt.Errorf("reading stored refresh token: %w", err)
	}
	pending, err := m.getStored(store.KeyPendingChallenge)
	if err != nil {
		return fmt.Errorf("reading pending challenge marker: %w", err)
	}

	switch {
	case access != "" && refresh != "":
		m.mu.Lock()
		m.adoptSessionLocked(rest.TokenPair{AccessToken: access, RefreshToken: refresh})
		m.state = StateAuthenticated
		gen := m.generation
		m.mu.Unlock()
		m.log.Info().Msg("rehydrated session from store")
		m.notify(Event{Kind: EventStateChanged, State: StateAuthenticated})
		go m.validateRehydrated(gen)
	case pending != "":
		if access != "" || refresh != "" {
			// A challenge marker means no session was ever issued;
			// whatever token half is there is stale.
			if err := m.store.Remove(store.KeyAccessToken); err != nil {
				return fmt.Errorf("clearing stale access token: %w", err)
			}
			if err := m.store.Remove(store.KeyRefreshToken); err != nil {
				return fmt.Errorf("clearing stale refresh token: %w", err)
			}
		}
		m.mu.Lock()
		m.pendingUsername = pending
		m.state = StatePendingChallenge
		m.mu.Unlock()
		m.log.Info().Str("username", pending).Msg("resuming pending two-factor challenge")
		m.notify(Event{Kind: EventStateChanged, State: StatePendingChallenge})
	case access != "" || refresh != "":
		// Half a pair cannot authorize anything and must not linger
		// into a later session on this device.
		m.log.Warn().Msg("discarding partial token pair from store")
		if err := m.store.Clear(); err != nil {
			return fmt.Errorf("clearing partial session state: %w", err)
		}
	}

	go m.refreshLoop()
	return nil
}

// Close stops the background scheduler. It does not log out.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Login performs the credential exchange. Expected rejections are
// reported in the outcome; a non-nil error always means a transport fault
// and leaves state as it was.
func (m *Manager) Login(ctx context.Context, identifier, secret string) (LoginOutcome, error) {
	identifier = normalizeInput(identifier)

	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.mu.Unlock()
		return LoginOutcome{}, ErrAlreadyAuthenticated
	}
	prev := m.state
	m.state = StateAuthenticating
	m.mu.Unlock()
	m.notify(Event{Kind: EventStateChanged, State: StateAuthenticating})

	result, err := m.api.Login(ctx, identifier, secret)
	switch {
	case err == nil && result.Tokens != nil:
		m.establishSession(*result.Tokens)
		return LoginOutcome{Status: LoginAuthenticated}, nil
	case err == nil && result.Challenge != nil:
		m.beginChallenge(result.Challenge.Username)
		return LoginOutcome{Status: LoginChallengeRequired, Username: result.Challenge.Username}, nil
	case errors.Is(err, rest.ErrCredentialsRejected):
		// Back to where the attempt started: a rejected login over an
		// open challenge must not strand the persisted marker in a
		// state the store cannot reproduce.
		m.setState(prev)
		m.log.Debug().Str("identifier", identifier).Msg("credentials rejected")
		return LoginOutcome{Status: LoginRejected, Reason: rest.Detail(err)}, nil
	default:
		m.setState(prev)
		return LoginOutcome{}, err
	}
}

// Refresh rotates the token pair. Concurrent calls are coalesced into a
// single network exchange whose result every caller observes: refresh
// protocols invalidate the old refresh token on use, so parallel rotations
// against the same token would sign each other out.
func (m *Manager) Refresh(ctx context.Context) (RefreshOutcome, error) {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return RefreshOutcome{}, ErrNotAuthenticated
	}
	gen := m.generation
	m.mu.Unlock()

	v, err, _ := m.group.Do("refresh", func() (any, error) {
		out, err := m.doRefresh(ctx, gen)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return RefreshOutcome{}, err
	}
	return v.(RefreshOutcome), nil
}

func (m *Manager) doRefresh(ctx context.Context, gen uint64) (RefreshOutcome, error) {
	m.mu.Lock()
	if m.generation != gen || m.state != StateAuthenticated || m.refreshEnclave == nil {
		m.mu.Unlock()
		return RefreshOutcome{}, ErrNotAuthenticated
	}
	enclave := m.refreshEnclave
	m.mu.Unlock()

	buf, err := enclave.Open()
	if err != nil {
		return RefreshOutcome{}, fmt.Errorf("opening refresh token enclave: %w", err)
	}
	refreshToken := string(buf.Bytes())
	buf.Destroy()

	pair, err := m.api.Refresh(ctx, refreshToken)
	switch {
	case err == nil:
	case errors.Is(err, rest.ErrRefreshRejected):
		// The only fatal error class: the server no longer honors the
		// refresh token, so the whole session is torn down.
		m.forceLogout(gen, "refresh token rejected")
		return RefreshOutcome{}, nil
	default:
		m.log.Warn().Err(err).Msg("refresh failed transiently; session unchanged")
		return RefreshOutcome{}, err
	}

	m.mu.Lock()
	if m.generation != gen || m.state != StateAuthenticated {
		// Logged out while the rotation was in flight; discard the result.
		m.mu.Unlock()
		return RefreshOutcome{}, nil
	}
	if err := m.persistPairLocked(*pair); err != nil {
		m.log.Error().Err(err).Msg("persisting rotated tokens")
	}
	m.adoptSessionLocked(*pair)
	m.mu.Unlock()
	m.log.Debug().Msg("token pair rotated")
	return RefreshOutcome{Renewed: true, AccessToken: pair.AccessToken}, nil
}

// Logout clears local session state synchronously and asks the server to
// invalidate the refresh token in the background; a failing remote call
// never blocks or fails the local logout. Safe to call repeatedly.
func (m *Manager) Logout() {
	m.mu.Lock()
	wasAnonymous := m.state == StateAnonymous
	var refreshToken string
	if m.refreshEnclave != nil {
		if buf, err := m.refreshEnclave.Open(); err == nil {
			refreshToken = string(buf.Bytes())
			buf.Destroy()
		}
	}
	m.clearLocked()
	m.mu.Unlock()

	if !wasAnonymous {
		m.log.Info().Msg("logged out")
		m.notify(Event{Kind: EventStateChanged, State: StateAnonymous})
	}
	if refreshToken != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.netTimeout)
			defer cancel()
			if err := m.api.Logout(ctx, refreshToken); err != nil {
				m.log.Debug().Err(err).Msg("remote token invalidation failed")
			}
		}()
	}
}

// AccessToken returns a currently valid access token, refreshing a stale
// one first. This is the only sanctioned way for consumers to obtain a
// bearer token.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	token := m.accessToken
	expired := m.isAccessExpiredLocked()
	m.mu.Unlock()

	if !expired {
		return token, nil
	}
	out, err := m.Refresh(ctx)
	if err != nil {
		return "", err
	}
	if !out.Renewed {
		return "", ErrNotAuthenticated
	}
	return out.AccessToken, nil
}

// PreferredTheme returns the locally reconciled display theme, or empty
// when none has been stored yet.
func (m *Manager) PreferredTheme() string {
	theme, err := m.store.Get(store.KeyPreferredTheme)
	if err != nil {
		return ""
	}
	return theme
}

// validateRehydrated confirms an optimistically adopted cold-start session
// against the server. Unauthorized means the access token is stale: try a
// refresh, whose own failure modes decide the session's fate. Transport
// faults keep the optimistic session; the scheduler retries later.
func (m *Manager) validateRehydrated(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.netTimeout)
	defer cancel()

	m.mu.Lock()
	if m.generation != gen || m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	token := m.accessToken
	m.mu.Unlock()

	err := m.api.ValidateToken(ctx, token)
	switch {
	case err == nil:
		_ = m.loadProfile(ctx, gen)
	case errors.Is(err, rest.ErrUnauthorized):
		out, rerr := m.Refresh(ctx)
		if rerr == nil && out.Renewed {
			_ = m.loadProfile(ctx, gen)
		}
	default:
		m.log.Warn().Err(err).Msg("cold-start validation failed transiently; keeping optimistic session")
	}
}

func (m *Manager) refreshLoop() {
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick renews the token pair proactively so access tokens are rotated
// before natural expiry, and retries the profile load if a transient
// failure left it empty.
func (m *Manager) tick() {
	m.mu.Lock()
	authenticated := m.state == StateAuthenticated
	needProfile := authenticated && m.profile == nil
	gen := m.generation
	m.mu.Unlock()
	if !authenticated {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.netTimeout)
	defer cancel()
	if _, err := m.Refresh(ctx); err != nil {
		m.log.Warn().Err(err).Msg("scheduled refresh failed; will retry next tick")
		return
	}
	if needProfile {
		_ = m.loadProfile(ctx, gen)
	}
}

// establishSession persists the pair, clears any pending challenge, and
// flips to Authenticated. Shared by direct login, challenge verification,
// and nothing else.
func (m *Manager) establishSession(pair rest.TokenPair) {
	m.mu.Lock()
	if err := m.persistPairLocked(pair); err != nil {
		m.log.Error().Err(err).Msg("persisting session tokens")
	}
	if err := m.store.Remove(store.KeyPendingChallenge); err != nil {
		m.log.Error().Err(err).Msg("clearing pending challenge marker")
	}
	m.pendingUsername = ""
	m.adoptSessionLocked(pair)
	m.state = StateAuthenticated
	gen := m.generation
	m.mu.Unlock()

	m.log.Info().Msg("session established")
	m.notify(Event{Kind: EventStateChanged, State: StateAuthenticated})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.netTimeout)
		defer cancel()
		_ = m.loadProfile(ctx, gen)
	}()
}

// adoptSessionLocked installs the pair as the in-memory session. The
// refresh token is sealed in an enclave between uses; the access token's
// expiry claim is decoded once here.
func (m *Manager) adoptSessionLocked(pair rest.TokenPair) {
	m.accessToken = pair.AccessToken
	expiry, err := TokenExpiry(pair.AccessToken)
	if err != nil {
		// Malformed tokens count as already expired; the first use will
		// trigger a refresh.
		m.log.Warn().Err(err).Msg("access token has no readable expiry claim")
		expiry = time.Time{}
	}
	m.accessExpiry = expiry
	m.refreshEnclave = memguard.NewEnclave([]byte(pair.RefreshToken))
}

// persistPairLocked writes both tokens; the pair is only ever read back
// as a unit on cold start, and a partially written pair degrades to the
// Anonymous cold-start path.
func (m *Manager) persistPairLocked(pair rest.TokenPair) error {
	if err := m.store.Set(store.KeyAccessToken, pair.AccessToken); err != nil {
		return err
	}
	return m.store.Set(store.KeyRefreshToken, pair.RefreshToken)
}

// forceLogout tears down the session in response to a fatal server-side
// rejection. Stale generations are ignored: the session the failure
// belonged to is already gone.
func (m *Manager) forceLogout(gen uint64, reason string) {
	m.mu.Lock()
	if m.generation != gen || m.state == StateAnonymous {
		m.mu.Unlock()
		return
	}
	m.clearLocked()
	m.mu.Unlock()
	m.log.Warn().Str("reason", reason).Msg("forced logout")
	m.notify(Event{Kind: EventStateChanged, State: StateAnonymous})
}

// clearLocked wipes all in-memory and persisted session state and bumps
// the generation so in-flight results are discarded.
func (m *Manager) clearLocked() {
	m.generation++
	m.state = StateAnonymous
	m.accessToken = ""
	m.accessExpiry = time.Time{}
	m.refreshEnclave = nil
	m.pendingUsername = ""
	m.profile = nil
	if err := m.store.Clear(); err != nil {
		m.log.Error().Err(err).Msg("clearing session store")
	}
}

func (m *Manager) isAccessExpiredLocked() bool {
	if m.accessExpiry.IsZero() {
		return true
	}
	return !m.now().Add(m.skew).Before(m.accessExpiry)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.notify(Event{Kind: EventStateChanged, State: s})
	}
}

func (m *Manager) getStored(key string) (string, error) {
	value, err := m.store.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return value, err
}

// normalizeInput trims and NFKC-normalizes user-supplied identifiers so
// visually identical input compares equal on the server.
func normalizeInput(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

// normalizeCode additionally strips interior spaces, which authenticator
// apps display for readability.
func normalizeCode(s string) string {
	return strings.ReplaceAll(normalizeInput(s), " ", "")
}
