package devserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdrys/lanyard/rest"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(opts...)
	require.NoError(t, srv.AddAccount(Account{
		Username:  "ada",
		Email:     "ada@example.com",
		AvatarURL: "https://example.com/ada.png",
		Theme:     "dark",
		Memberships: []rest.Membership{
			{ID: 1, Slug: "gophers", Title: "Gophers", Description: "Go talk"},
		},
	}, "hunter2"))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, ts *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func get(t *testing.T, ts *httptest.Server, path, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func loginPair(t *testing.T, ts *httptest.Server) (access, refresh string) {
	t.Helper()
	resp, body := post(t, ts, "/auth/login", map[string]string{
		"identifier": "ada", "secret": "hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["access_token"].(string), body["refresh_token"].(string)
}

func TestLogin(t *testing.T) {
	_, ts := newTestServer(t)

	access, refresh := loginPair(t, ts)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
}

func TestLogin_BadCredentials(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := post(t, ts, "/auth/login", map[string]string{
		"identifier": "ada", "secret": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", body["detail"])

	resp, body = post(t, ts, "/auth/login", map[string]string{
		"identifier": "nobody", "secret": "hunter2",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials", body["detail"])
}

func TestLogin_TwoFactorAccount(t *testing.T) {
	srv, ts := newTestServer(t)
	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)
	require.NoError(t, srv.AddAccount(Account{Username: "grace", TOTPSecret: secret}, "hunter2"))

	resp, body := post(t, ts, "/auth/login", map[string]string{
		"identifier": "grace", "secret": "hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["two_factor_required"])
	assert.Equal(t, "grace", body["username"])
	// No tokens until the code is verified.
	assert.NotContains(t, body, "access_token")
}

func TestVerifyOTP(t *testing.T) {
	srv, ts := newTestServer(t)
	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)
	require.NoError(t, srv.AddAccount(Account{Username: "grace", TOTPSecret: secret}, "hunter2"))

	code, ok := srv.CurrentOTP("grace")
	require.True(t, ok)

	resp, body := post(t, ts, "/auth/verify-otp", map[string]string{
		"username": "grace", "code": code,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
}

func TestVerifyOTP_Failures(t *testing.T) {
	srv, ts := newTestServer(t)
	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)
	require.NoError(t, srv.AddAccount(Account{Username: "grace", TOTPSecret: secret}, "hunter2"))

	tests := []struct {
		name   string
		body   map[string]string
		status int
		detail string
	}{
		{"missing code", map[string]string{"username": "grace"}, http.StatusBadRequest, "OTP code missing"},
		{"unknown user", map[string]string{"username": "nobody", "code": "123456"}, http.StatusNotFound, "User not found"},
		{"wrong code", map[string]string{"username": "grace", "code": "000000"}, http.StatusUnauthorized, "Invalid one-time code"},
		{"non-otp account", map[string]string{"username": "ada", "code": "123456"}, http.StatusUnauthorized, "Invalid one-time code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, ts, "/auth/verify-otp", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.detail, body["detail"])
		})
	}
}

func TestRefresh_RotatesAndInvalidates(t *testing.T) {
	_, ts := newTestServer(t)
	_, refresh := loginPair(t, ts)

	resp, body := post(t, ts, "/auth/token/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEqual(t, refresh, body["refresh_token"])

	// Single use: the redeemed token no longer works.
	resp, body = post(t, ts, "/auth/token/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Token is invalid or expired", body["detail"])
}

func TestRefresh_RemovedAccount(t *testing.T) {
	srv, ts := newTestServer(t)
	_, refresh := loginPair(t, ts)

	srv.RemoveAccount("ada")
	resp, _ := post(t, ts, "/auth/token/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout_InvalidatesRefreshToken(t *testing.T) {
	_, ts := newTestServer(t)
	_, refresh := loginPair(t, ts)

	resp, _ := post(t, ts, "/auth/logout", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = post(t, ts, "/auth/token/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMe(t *testing.T) {
	_, ts := newTestServer(t)
	access, _ := loginPair(t, ts)

	resp, body := get(t, ts, "/auth/me", access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ada", body["username"])
	assert.Equal(t, "ada@example.com", body["email"])
	prefs, ok := body["preferences"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "dark", prefs["theme"])
}

func TestMe_Unauthorized(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := get(t, ts, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, ts, "/auth/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMe_ExpiredToken(t *testing.T) {
	_, ts := newTestServer(t, WithAccessTTL(-time.Minute))
	access, _ := loginPair(t, ts)

	resp, body := get(t, ts, "/auth/me", access)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Token is invalid or expired", body["detail"])
}

func TestCommunities(t *testing.T) {
	_, ts := newTestServer(t)
	access, _ := loginPair(t, ts)

	resp, body := get(t, ts, "/communities", access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "gophers", first["slug"])
}

func TestValidateToken(t *testing.T) {
	_, ts := newTestServer(t)
	access, _ := loginPair(t, ts)

	resp, _ := get(t, ts, "/auth/validate-token", access)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts, "/auth/validate-token", "stale")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestCounters(t *testing.T) {
	srv, ts := newTestServer(t)
	loginPair(t, ts)
	loginPair(t, ts)

	assert.Equal(t, 2, srv.Requests("/auth/login"))
	assert.Zero(t, srv.Requests("/auth/token/refresh"))
}

func TestAccessTokenCarriesExpiry(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	_, ts := newTestServer(t, WithNow(func() time.Time { return now }), WithAccessTTL(15*time.Minute))
	access, _ := loginPair(t, ts)

	// The client reads the expiry claim without the signing key; make
	// sure it is present and matches TTL.
	parts := bytes.Split([]byte(access), []byte("."))
	require.Len(t, parts, 3)

	var claims struct {
		Exp int64  `json:"exp"`
		Sub string `json:"sub"`
	}
	payload, err := base64.RawURLEncoding.DecodeString(string(parts[1]))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, "ada", claims.Sub)
	assert.Equal(t, now.Add(15*time.Minute).Unix(), claims.Exp)
}

func TestTOTPWindow(t *testing.T) {
	secret, err := GenerateTOTPSecret()
	require.NoError(t, err)
	now := time.Now()

	code, err := totpCodeAt(secret, now)
	require.NoError(t, err)

	// Codes from the adjacent steps are accepted, two steps out is not.
	prev, err := totpCodeAt(secret, now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, verifyTOTPCode(secret, code, now))
	assert.True(t, verifyTOTPCode(secret, prev, now))

	old, err := totpCodeAt(secret, now.Add(-90*time.Second))
	require.NoError(t, err)
	assert.False(t, verifyTOTPCode(secret, old, now))
}
