package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry extracts the embedded expiry claim from an access token.
// The signature is not verified: the client holds no verification key,
// and local expiry gating is an optimization only — the server remains
// the authority on token validity.
func TokenExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, jwt.ErrTokenRequiredClaimMissing
	}
	return exp.Time, nil
}

// IsExpired reports whether the access token should no longer be used to
// authorize requests at now. A token within skew of its expiry counts as
// expired so that a request does not leave with a token about to lapse
// in flight. Malformed tokens and tokens without an expiry claim are
// treated as expired (fail safe).
func IsExpired(token string, now time.Time, skew time.Duration) bool {
	expiry, err := TokenExpiry(token)
	if err != nil {
		return true
	}
	return !now.Add(skew).Before(expiry)
}
