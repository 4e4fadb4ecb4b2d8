package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fluid-project/personal-data-server/internal/domain"
	"github.com/fluid-project/personal-data-server/internal/domain/sso"
)

// ProviderRepository exposes the sso_provider table.
type ProviderRepository interface {
	GetByName(ctx context.Context, name string) (domain.SsoProvider, error)
	Upsert(ctx context.Context, provider domain.SsoProvider) (domain.SsoProvider, error)
}

// StateTracker maps a state token to the referer that started the login.
// Consume reads and deletes in one step; a missing record yields nil, nil.
type StateTracker interface {
	Track(ctx context.Context, record sso.StateRecord, ttl time.Duration) error
	Consume(ctx context.Context, state string) (*sso.StateRecord, error)
}

// AccountRepository persists user accounts, SSO identities and provider tokens.
// Lookups wrap pgx.ErrNoRows when no row exists.
type AccountRepository interface {
	InTx(ctx context.Context, fn func(AccountRepository) error) error
	GetSsoUserAccount(ctx context.Context, providerID int64, userIDFromProvider string) (domain.SsoUserAccount, error)
	CreateUserAccount(ctx context.Context, user domain.UserAccount) (domain.UserAccount, error)
	CreateSsoUserAccount(ctx context.Context, account domain.SsoUserAccount) (domain.SsoUserAccount, error)
	UpdateSsoUserInfo(ctx context.Context, ssoUserAccountID int64, userInfo json.RawMessage) (domain.SsoUserAccount, error)
	CreateAccessToken(ctx context.Context, token domain.AccessToken) (domain.AccessToken, error)
	UpdateAccessToken(ctx context.Context, token domain.AccessToken) (domain.AccessToken, error)
}

// LoginTokenRepository persists login tokens, one per (sso user account, referer origin).
// Get wraps pgx.ErrNoRows when the pair has no token.
type LoginTokenRepository interface {
	Get(ctx context.Context, ssoUserAccountID int64, refererOrigin string) (domain.LoginToken, error)
	Create(ctx context.Context, token domain.LoginToken) (domain.LoginToken, error)
	Update(ctx context.Context, token domain.LoginToken) (domain.LoginToken, error)
}

// PreferencesRepository reads and writes preferences through a login token that is valid at now.
type PreferencesRepository interface {
	GetByLoginToken(ctx context.Context, loginToken string, now time.Time) (json.RawMessage, error)
	SaveByLoginToken(ctx context.Context, loginToken string, prefs json.RawMessage, now time.Time) (bool, error)
}
