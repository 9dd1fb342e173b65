// Package rest is the wire layer for the authentication API. It speaks
// the five auth endpoints plus the community-membership listing and maps
// HTTP failures onto the session error taxonomy: expected rejections
// become sentinel errors, network faults and 5xx become TransportError.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 15 * time.Second

// Client is an HTTP client for the authentication API.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpc = hc
	}
}

// WithTimeout sets the per-request timeout on the underlying http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpc.Timeout = d
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a Client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges primary credentials for either a token pair or a
// two-factor challenge. Rejected credentials return ErrCredentialsRejected.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	var resp loginResponse
	err := c.postJSON(ctx, "/auth/login", loginRequest{Identifier: identifier, Secret: secret}, &resp, ErrCredentialsRejected)
	if err != nil {
		return nil, err
	}
	if resp.TwoFactorRequired {
		c.log.Debug().Str("username", resp.Username).Msg("login requires second factor")
		return &LoginResult{Challenge: &Challenge{Username: resp.Username}}, nil
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, &TransportError{Op: "login", Err: fmt.Errorf("server returned neither tokens nor a challenge")}
	}
	return &LoginResult{Tokens: &TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}}, nil
}

// VerifyOTP resolves a pending two-factor challenge into a token pair.
// A bad or expired code returns ErrChallengeRejected.
func (c *Client) VerifyOTP(ctx context.Context, username, code string) (*TokenPair, error) {
	var pair TokenPair
	err := c.postJSON(ctx, "/auth/verify-otp", verifyOTPRequest{Username: username, Code: code}, &pair, ErrChallengeRejected)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// Refresh exchanges a refresh token for a rotated pair. A token the server
// no longer accepts returns ErrRefreshRejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair TokenPair
	err := c.postJSON(ctx, "/auth/token/refresh", refreshRequest{RefreshToken: refreshToken}, &pair, ErrRefreshRejected)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// Logout asks the server to invalidate the refresh token. Best effort:
// local logout never depends on this call succeeding.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.postJSON(ctx, "/auth/logout", logoutRequest{RefreshToken: refreshToken}, nil, ErrUnauthorized)
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context, accessToken string) (*Profile, error) {
	var profile Profile
	if err := c.getJSON(ctx, "/auth/me", accessToken, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Communities lists the user's community memberships.
func (c *Client) Communities(ctx context.Context, accessToken string) ([]Membership, error) {
	var resp communitiesResponse
	if err := c.getJSON(ctx, "/communities", accessToken, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ValidateToken confirms the server still accepts the access token.
func (c *Client) ValidateToken(ctx context.Context, accessToken string) error {
	return c.getJSON(ctx, "/auth/validate-token", accessToken, nil)
}

// postJSON posts body to path and decodes the response into out (when
// non-nil). A 4xx maps onto rejection wrapped around the detail message;
// anything network-level or 5xx maps onto TransportError.
func (c *Client) postJSON(ctx context.Context, path string, body, out any, rejection error) error {
	op := strings.TrimPrefix(path, "/")
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out, rejection)
}

// getJSON performs a bearer-authenticated GET. 401/403 map onto
// ErrUnauthorized, other 4xx onto the detail message.
func (c *Client) getJSON(ctx context.Context, path, accessToken string, out any) error {
	op := strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req, op, out, ErrUnauthorized)
}

func (c *Client) do(req *http.Request, op string, out any, rejection error) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		detail := readDetail(resp.Body)
		c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Str("detail", detail).Msg("request rejected")
		return &RejectionError{Op: op, Kind: rejection, Detail: detail}
	default:
		return &TransportError{Op: op, Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}
}

func readDetail(r io.Reader) string {
	var e errorResponse
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return ""
	}
	return e.Detail
}
