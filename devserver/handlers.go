package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/mdrys/lanyard/rest"

	_ "embed"
)

//go:embed openapi.yaml
var openapiSpec []byte

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type verifyOTPRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Router returns a chi.Router serving the authentication API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/verify-otp", s.handleVerifyOTP)
	r.Post("/auth/token/refresh", s.handleRefresh)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/auth/me", s.handleMe)
	r.Get("/auth/validate-token", s.handleValidateToken)
	r.Get("/communities", s.handleCommunities)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.countRequest(r.URL.Path)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, ok := s.account(req.Identifier)
	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.Secret)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if acct.TOTPSecret != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"two_factor_required": true,
			"username":            acct.Username,
		})
		return
	}
	pair, err := s.issuePair(acct.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "OTP code missing")
		return
	}
	acct, ok := s.account(req.Username)
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if acct.TOTPSecret == "" || !verifyTOTPCode(acct.TOTPSecret, req.Code, s.now()) {
		writeError(w, http.StatusUnauthorized, "Invalid one-time code")
		return
	}
	pair, err := s.issuePair(acct.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.rotatePair(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.invalidateRefreshToken(req.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Successfully logged out."})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         acct.Username,
		"username":   acct.Username,
		"email":      acct.Email,
		"avatar_url": acct.AvatarURL,
		"preferences": map[string]any{
			"theme":           acct.Theme,
			"notify_on_reply": acct.NotifyReply,
		},
	})
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Token is valid"})
}

func (s *Server) handleCommunities(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	memberships := acct.Memberships
	if memberships == nil {
		memberships = []rest.Membership{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": memberships})
}

// authenticate verifies the bearer token and resolves its account.
// A valid token whose account no longer exists fails too: that is the
// out-of-band revocation case clients must treat as fatal.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*Account, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		writeError(w, http.StatusUnauthorized, "Authorization header missing")
		return nil, false
	}
	username, err := s.verifyAccessToken(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Token is invalid or expired")
		return nil, false
	}
	acct, ok := s.account(username)
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not found")
		return nil, false
	}
	return acct, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Detail: msg})
}
