package rest

// TokenPair is the access/refresh pair issued by login, verify-otp, and
// refresh. The refresh token is rotated on every use.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Challenge marks a login that passed primary credentials but requires a
// one-time code before tokens are issued.
type Challenge struct {
	Username string `json:"username"`
}

// LoginResult is the tagged outcome of POST /auth/login: exactly one of
// Tokens or Challenge is non-nil.
type LoginResult struct {
	Tokens    *TokenPair
	Challenge *Challenge
}

// Preferences holds the user-editable settings carried on the profile.
type Preferences struct {
	Theme         string `json:"theme"`
	NotifyOnReply bool   `json:"notify_on_reply"`
}

// Profile is the authenticated user's profile as returned by GET /auth/me.
type Profile struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	AvatarURL   string      `json:"avatar_url"`
	Preferences Preferences `json:"preferences"`
}

// Membership is one community the user belongs to.
type Membership struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// loginRequest is the JSON body for POST /auth/login.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// loginResponse carries either a token pair or a two-factor marker.
type loginResponse struct {
	AccessToken       string `json:"access_token"`
	RefreshToken      string `json:"refresh_token"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	Username          string `json:"username"`
}

// verifyOTPRequest is the JSON body for POST /auth/verify-otp.
type verifyOTPRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

// refreshRequest is the JSON body for POST /auth/token/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// logoutRequest is the JSON body for POST /auth/logout.
type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// communitiesResponse is the paginated envelope returned by GET /communities.
type communitiesResponse struct {
	Results []Membership `json:"results"`
}

// errorResponse is the detail body sent with 4xx statuses.
type errorResponse struct {
	Detail string `json:"detail"`
}
