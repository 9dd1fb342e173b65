package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "ada", "exp": exp.Unix()}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := TokenExpiry(signedToken(t, exp))
	require.NoError(t, err)
	assert.True(t, got.Equal(exp), "got %v want %v", got, exp)
}

func TestTokenExpiry_NoClaim(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ada"}).
		SignedString([]byte("test-key"))
	require.NoError(t, err)

	_, err = TokenExpiry(raw)
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
}

func TestTokenExpiry_Malformed(t *testing.T) {
	_, err := TokenExpiry("not-a-jwt")
	assert.Error(t, err)
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	skew := 30 * time.Second

	tests := []struct {
		name    string
		exp     time.Time
		expired bool
	}{
		{"fresh", now.Add(time.Hour), false},
		{"long past", now.Add(-time.Hour), true},
		{"just past", now.Add(-time.Second), true},
		{"inside skew window", now.Add(10 * time.Second), true},
		{"just outside skew window", now.Add(45 * time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signedToken(t, tt.exp)
			assert.Equal(t, tt.expired, IsExpired(token, now, skew))
		})
	}
}

func TestIsExpired_Malformed(t *testing.T) {
	assert.True(t, IsExpired("garbage", time.Now(), 0))
	assert.True(t, IsExpired("", time.Now(), 0))
}

func TestNormalizeInput(t *testing.T) {
	assert.Equal(t, "ada", normalizeInput("  ada "))
	// Fullwidth compatibility characters fold to their ASCII forms.
	assert.Equal(t, "ada", normalizeInput("ａｄａ"))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "123456", normalizeCode(" 123 456 "))
	// Fullwidth digits, as pasted from some mobile keyboards.
	assert.Equal(t, "123456", normalizeCode("１２３４５６"))
}
