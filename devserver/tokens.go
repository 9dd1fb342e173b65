package devserver

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mdrys/lanyard/rest"
)

// issuePair mints a fresh access/refresh pair for the user. The refresh
// token is opaque and single-use: each call records the new token, and
// rotation (via rotatePair) deletes the one it replaces.
func (s *Server) issuePair(username string) (rest.TokenPair, error) {
	access, err := s.mintAccessToken(username)
	if err != nil {
		return rest.TokenPair{}, err
	}
	refresh := "rt-" + uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[refresh] = refreshRecord{username: username, issuedAt: s.now()}
	s.mu.Unlock()
	return rest.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// rotatePair redeems a refresh token for a new pair, invalidating the old
// token. A token that was never issued, was already redeemed, or belongs
// to a removed account fails.
func (s *Server) rotatePair(refreshToken string) (rest.TokenPair, error) {
	s.mu.Lock()
	rec, ok := s.refreshTokens[refreshToken]
	if ok {
		delete(s.refreshTokens, refreshToken)
		_, ok = s.accounts[rec.username]
	}
	s.mu.Unlock()
	if !ok {
		return rest.TokenPair{}, fmt.Errorf("unknown or already-rotated refresh token")
	}
	return s.issuePair(rec.username)
}

func (s *Server) invalidateRefreshToken(refreshToken string) {
	s.mu.Lock()
	delete(s.refreshTokens, refreshToken)
	s.mu.Unlock()
}

func (s *Server) mintAccessToken(username string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"jti": uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// verifyAccessToken checks signature and expiry and returns the subject.
func (s *Server) verifyAccessToken(raw string) (string, error) {
	token, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	).Parse(raw, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}
