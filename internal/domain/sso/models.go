package sso

import (
	"encoding/json"
	"net/http"
	"time"
)

// ProviderConfig merges the persisted client credentials with the configured endpoints.
type ProviderConfig struct {
	ProviderID   int64
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURI  string
	Scopes       []string
}

// StateRecord ties a state token to the external page that started the login.
type StateRecord struct {
	State         string    `json:"state"`
	Provider      string    `json:"provider"`
	RefererOrigin string    `json:"referer_origin"`
	RefererURL    string    `json:"referer_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// Expired reports whether the record is older than ttl. A zero ttl never expires.
func (r StateRecord) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || r.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(r.CreatedAt) > ttl
}

// TokenResult is the outcome of a code exchange. Status and Body mirror the provider response.
type TokenResult struct {
	Status       int
	Body         []byte
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// OK reports a 200 response from the token endpoint.
func (r TokenResult) OK() bool { return r.Status == http.StatusOK }

// Profile is the userinfo document. Raw keeps the full provider payload for persistence.
type Profile struct {
	ID            string          `json:"id"`
	Email         string          `json:"email,omitempty"`
	VerifiedEmail bool            `json:"verified_email,omitempty"`
	Name          string          `json:"name,omitempty"`
	GivenName     string          `json:"given_name,omitempty"`
	FamilyName    string          `json:"family_name,omitempty"`
	Picture       string          `json:"picture,omitempty"`
	Locale        string          `json:"locale,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// ProfileResult is the outcome of a userinfo request.
type ProfileResult struct {
	Status  int
	Body    []byte
	Profile Profile
}

// OK reports a 200 response from the userinfo endpoint.
func (r ProfileResult) OK() bool { return r.Status == http.StatusOK }
