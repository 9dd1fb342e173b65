package session

import "net/http"

// AuthTransport is an http.RoundTripper that attaches a just-in-time
// bearer token from the Manager to every outgoing request. Wrap it around
// any client that talks to authenticated endpoints; stale tokens are
// refreshed transparently before the request leaves.
type AuthTransport struct {
	Manager *Manager
	// Base is the underlying transport; nil falls back to
	// http.DefaultTransport.
	Base http.RoundTripper
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Manager.AccessToken(req.Context())
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}
