// Package devserver implements an in-process stub of the authentication
// API for development and tests. It issues real HS256 JWTs with embedded
// expiry claims and rotates refresh tokens on every use, so client-side
// lifecycle behavior (expiry checks, coalesced refresh, forced logout on
// a stale refresh token) is observable against it.
//
// It is a test double, not a product: accounts live in memory and are
// registered programmatically.
package devserver

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mdrys/lanyard/rest"
)

const defaultAccessTTL = 15 * time.Minute

// Account is a registered user of the stub server. A non-empty TOTPSecret
// makes the account require a one-time code after primary credentials.
type Account struct {
	Username    string
	Email       string
	AvatarURL   string
	Theme       string
	NotifyReply bool
	TOTPSecret  string
	Memberships []rest.Membership

	passwordHash []byte
}

type refreshRecord struct {
	username string
	issuedAt time.Time
}

// Server is the stub authentication server.
type Server struct {
	mu            sync.Mutex
	accounts      map[string]*Account
	refreshTokens map[string]refreshRecord
	counters      map[string]int

	signingKey []byte
	accessTTL  time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithAccessTTL sets the access-token lifetime. Tests use a negative TTL
// to mint already-expired tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = d
	}
}

// WithSigningKey sets the HS256 signing key.
func WithSigningKey(key []byte) Option {
	return func(s *Server) {
		s.signingKey = key
	}
}

// WithLogger sets the structured logger for request logging.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithNow sets the time source (for tests).
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a Server. Without options it signs with a random key and
// issues 15-minute access tokens.
func New(opts ...Option) *Server {
	s := &Server{
		accounts:      make(map[string]*Account),
		refreshTokens: make(map[string]refreshRecord),
		counters:      make(map[string]int),
		accessTTL:     defaultAccessTTL,
		now:           time.Now,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.signingKey == nil {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("devserver: generating signing key: " + err.Error())
		}
		s.signingKey = key
	}
	return s
}

// AddAccount registers an account with the given secret.
func (s *Server) AddAccount(acct Account, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return err
	}
	acct.passwordHash = hash
	if acct.Theme == "" {
		acct.Theme = "light"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.Username] = &acct
	return nil
}

// RemoveAccount deletes an account, leaving any tokens it holds orphaned.
// Bearer requests for the removed user then fail with 401, which is how
// tests exercise out-of-band session revocation.
func (s *Server) RemoveAccount(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, username)
}

// Requests returns how many requests the given route has served.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[route]
}

// CurrentOTP returns the account's valid one-time code for the current
// time step. Tests and the demo CLI use it in place of an authenticator app.
func (s *Server) CurrentOTP(username string) (string, bool) {
	s.mu.Lock()
	acct, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok || acct.TOTPSecret == "" {
		return "", false
	}
	code, err := totpCodeAt(acct.TOTPSecret, s.now())
	if err != nil {
		return "", false
	}
	return code, true
}

func (s *Server) account(username string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	return acct, ok
}

func (s *Server) countRequest(route string) {
	s.mu.Lock()
	s.counters[route]++
	s.mu.Unlock()
}
