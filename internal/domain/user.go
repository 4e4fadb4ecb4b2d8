package domain

import (
	"encoding/json"
	"time"
)

// DefaultPreferences is stored for every user account created on first login.
var DefaultPreferences = json.RawMessage(`{"textSize":1.2,"lineSpace":1.2}`)

// UserAccount is the local user. Preferences is an opaque JSON document.
type UserAccount struct {
	ID          int64
	Preferences json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SsoUserAccount links a provider subject to exactly one UserAccount.
type SsoUserAccount struct {
	ID                 int64
	UserIDFromProvider string
	ProviderID         int64
	UserAccountID      int64
	UserInfo           json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
