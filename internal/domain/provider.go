package domain

import "time"

// SsoProvider holds the OAuth client credentials registered with an external provider.
type SsoProvider struct {
	ID           int64
	Name         string
	ClientID     string
	ClientSecret string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
