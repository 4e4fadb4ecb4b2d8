package domain

import "time"

// AccessToken is the provider-issued token pair for an SsoUserAccount.
// There is one live row per account.
type AccessToken struct {
	SsoUserAccountID int64
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LoginToken is the bearer credential handed to one external referer origin.
type LoginToken struct {
	Token            string
	SsoUserAccountID int64
	RefererOrigin    string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Valid reports whether the token is still usable at now. Expiry is exclusive.
func (t LoginToken) Valid(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && t.ExpiresAt.After(now)
}
