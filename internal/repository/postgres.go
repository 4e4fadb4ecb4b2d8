package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fluid-project/personal-data-server/internal/domain"
)

// Compile-time interface assertions.
var (
	_ ProviderRepository    = (*PostgresProviderRepo)(nil)
	_ AccountRepository     = (*PostgresAccountRepo)(nil)
	_ LoginTokenRepository  = (*PostgresLoginTokenRepo)(nil)
	_ PreferencesRepository = (*PostgresPreferencesRepo)(nil)
)

// PostgresProviderRepo implements ProviderRepository.
type PostgresProviderRepo struct {
	db DBTX
}

func NewPostgresProviderRepo(gw *Gateway) *PostgresProviderRepo {
	return &PostgresProviderRepo{db: gw.DB()}
}

const getProviderSQL = `SELECT provider_id, provider, client_id, client_secret, created_at, updated_at
FROM sso_provider
WHERE provider = $1`

func (r *PostgresProviderRepo) GetByName(ctx context.Context, name string) (domain.SsoProvider, error) {
	var p domain.SsoProvider
	err := r.db.QueryRow(ctx, getProviderSQL, name).Scan(
		&p.ID, &p.Name, &p.ClientID, &p.ClientSecret, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.SsoProvider{}, fmt.Errorf("get provider %s: %w", name, err)
	}
	return p, nil
}

const upsertProviderSQL = `INSERT INTO sso_provider (provider_id, provider, client_id, client_secret)
VALUES ($1, $2, $3, $4)
ON CONFLICT (provider) DO UPDATE SET
	client_id = EXCLUDED.client_id,
	client_secret = EXCLUDED.client_secret,
	updated_at = NOW()
RETURNING provider_id, provider, client_id, client_secret, created_at, updated_at`

func (r *PostgresProviderRepo) Upsert(ctx context.Context, provider domain.SsoProvider) (domain.SsoProvider, error) {
	var p domain.SsoProvider
	err := r.db.QueryRow(ctx, upsertProviderSQL,
		provider.ID,
		provider.Name,
		provider.ClientID,
		provider.ClientSecret,
	).Scan(&p.ID, &p.Name, &p.ClientID, &p.ClientSecret, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.SsoProvider{}, fmt.Errorf("upsert provider %s: %w", provider.Name, err)
	}
	return p, nil
}

// PostgresAccountRepo implements AccountRepository. db is the pool or the enclosing transaction.
type PostgresAccountRepo struct {
	gw *Gateway
	db DBTX
}

func NewPostgresAccountRepo(gw *Gateway) *PostgresAccountRepo {
	return &PostgresAccountRepo{gw: gw, db: gw.DB()}
}

// InTx runs fn against a repository bound to a single transaction.
func (r *PostgresAccountRepo) InTx(ctx context.Context, fn func(AccountRepository) error) error {
	return r.gw.WithTx(ctx, func(tx DBTX) error {
		return fn(&PostgresAccountRepo{gw: r.gw, db: tx})
	})
}

const getSsoUserAccountSQL = `SELECT sso_user_account_id, user_id_from_provider, provider_id, user_account_id, user_info, created_at, updated_at
FROM sso_user_account
WHERE provider_id = $1 AND user_id_from_provider = $2`

func (r *PostgresAccountRepo) GetSsoUserAccount(ctx context.Context, providerID int64, userIDFromProvider string) (domain.SsoUserAccount, error) {
	row := r.db.QueryRow(ctx, getSsoUserAccountSQL, providerID, userIDFromProvider)
	account, err := scanSsoUserAccount(row)
	if err != nil {
		return domain.SsoUserAccount{}, fmt.Errorf("get sso user account: %w", err)
	}
	return account, nil
}

const insertUserAccountSQL = `INSERT INTO user_account (user_account_id, preferences)
VALUES ($1, $2)
RETURNING user_account_id, preferences, created_at, updated_at`

func (r *PostgresAccountRepo) CreateUserAccount(ctx context.Context, user domain.UserAccount) (domain.UserAccount, error) {
	var created domain.UserAccount
	err := r.db.QueryRow(ctx, insertUserAccountSQL, user.ID, user.Preferences).Scan(
		&created.ID, &created.Preferences, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("create user account: %w", err)
	}
	return created, nil
}

const insertSsoUserAccountSQL = `INSERT INTO sso_user_account (sso_user_account_id, user_id_from_provider, provider_id, user_account_id, user_info)
VALUES ($1, $2, $3, $4, $5)
RETURNING sso_user_account_id, user_id_from_provider, provider_id, user_account_id, user_info, created_at, updated_at`

func (r *PostgresAccountRepo) CreateSsoUserAccount(ctx context.Context, account domain.SsoUserAccount) (domain.SsoUserAccount, error) {
	row := r.db.QueryRow(ctx, insertSsoUserAccountSQL,
		account.ID,
		account.UserIDFromProvider,
		account.ProviderID,
		account.UserAccountID,
		account.UserInfo,
	)
	created, err := scanSsoUserAccount(row)
	if err != nil {
		return domain.SsoUserAccount{}, fmt.Errorf("create sso user account: %w", err)
	}
	return created, nil
}

const updateSsoUserInfoSQL = `UPDATE sso_user_account
SET user_info = $2, updated_at = NOW()
WHERE sso_user_account_id = $1
RETURNING sso_user_account_id, user_id_from_provider, provider_id, user_account_id, user_info, created_at, updated_at`

func (r *PostgresAccountRepo) UpdateSsoUserInfo(ctx context.Context, ssoUserAccountID int64, userInfo json.RawMessage) (domain.SsoUserAccount, error) {
	updated, err := scanSsoUserAccount(r.db.QueryRow(ctx, updateSsoUserInfoSQL, ssoUserAccountID, userInfo))
	if err != nil {
		return domain.SsoUserAccount{}, fmt.Errorf("update sso user account: %w", err)
	}
	return updated, nil
}

const insertAccessTokenSQL = `INSERT INTO access_token (sso_user_account_id, access_token, refresh_token, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING sso_user_account_id, access_token, refresh_token, expires_at, created_at, updated_at`

func (r *PostgresAccountRepo) CreateAccessToken(ctx context.Context, token domain.AccessToken) (domain.AccessToken, error) {
	row := r.db.QueryRow(ctx, insertAccessTokenSQL,
		token.SsoUserAccountID,
		token.AccessToken,
		nullString(token.RefreshToken),
		nullTime(token.ExpiresAt),
	)
	created, err := scanAccessToken(row)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("create access token: %w", err)
	}
	return created, nil
}

// The refresh token is kept when the provider omits it, which Google does after the first consent.
const updateAccessTokenSQL = `UPDATE access_token
SET access_token = $2,
	refresh_token = COALESCE($3, refresh_token),
	expires_at = $4,
	updated_at = NOW()
WHERE sso_user_account_id = $1
RETURNING sso_user_account_id, access_token, refresh_token, expires_at, created_at, updated_at`

func (r *PostgresAccountRepo) UpdateAccessToken(ctx context.Context, token domain.AccessToken) (domain.AccessToken, error) {
	row := r.db.QueryRow(ctx, updateAccessTokenSQL,
		token.SsoUserAccountID,
		token.AccessToken,
		nullString(token.RefreshToken),
		nullTime(token.ExpiresAt),
	)
	updated, err := scanAccessToken(row)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("update access token: %w", err)
	}
	return updated, nil
}

// PostgresLoginTokenRepo implements LoginTokenRepository.
type PostgresLoginTokenRepo struct {
	db DBTX
}

func NewPostgresLoginTokenRepo(gw *Gateway) *PostgresLoginTokenRepo {
	return &PostgresLoginTokenRepo{db: gw.DB()}
}

const getLoginTokenSQL = `SELECT login_token, sso_user_account_id, referer_origin, expires_at, created_at, updated_at
FROM login_token
WHERE sso_user_account_id = $1 AND referer_origin = $2`

func (r *PostgresLoginTokenRepo) Get(ctx context.Context, ssoUserAccountID int64, refererOrigin string) (domain.LoginToken, error) {
	token, err := scanLoginToken(r.db.QueryRow(ctx, getLoginTokenSQL, ssoUserAccountID, refererOrigin))
	if err != nil {
		return domain.LoginToken{}, fmt.Errorf("get login token: %w", err)
	}
	return token, nil
}

const insertLoginTokenSQL = `INSERT INTO login_token (login_token, sso_user_account_id, referer_origin, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING login_token, sso_user_account_id, referer_origin, expires_at, created_at, updated_at`

func (r *PostgresLoginTokenRepo) Create(ctx context.Context, token domain.LoginToken) (domain.LoginToken, error) {
	row := r.db.QueryRow(ctx, insertLoginTokenSQL,
		token.Token,
		token.SsoUserAccountID,
		token.RefererOrigin,
		token.ExpiresAt,
	)
	created, err := scanLoginToken(row)
	if err != nil {
		return domain.LoginToken{}, fmt.Errorf("create login token: %w", err)
	}
	return created, nil
}

const updateLoginTokenSQL = `UPDATE login_token
SET login_token = $3, expires_at = $4, updated_at = NOW()
WHERE sso_user_account_id = $1 AND referer_origin = $2
RETURNING login_token, sso_user_account_id, referer_origin, expires_at, created_at, updated_at`

func (r *PostgresLoginTokenRepo) Update(ctx context.Context, token domain.LoginToken) (domain.LoginToken, error) {
	row := r.db.QueryRow(ctx, updateLoginTokenSQL,
		token.SsoUserAccountID,
		token.RefererOrigin,
		token.Token,
		token.ExpiresAt,
	)
	updated, err := scanLoginToken(row)
	if err != nil {
		return domain.LoginToken{}, fmt.Errorf("update login token: %w", err)
	}
	return updated, nil
}

// PostgresPreferencesRepo implements PreferencesRepository.
type PostgresPreferencesRepo struct {
	db DBTX
}

func NewPostgresPreferencesRepo(gw *Gateway) *PostgresPreferencesRepo {
	return &PostgresPreferencesRepo{db: gw.DB()}
}

const getPrefsByLoginTokenSQL = `SELECT ua.preferences
FROM login_token lt
JOIN sso_user_account sua ON sua.sso_user_account_id = lt.sso_user_account_id
JOIN user_account ua ON ua.user_account_id = sua.user_account_id
WHERE lt.login_token = $1
	AND lt.expires_at IS NOT NULL
	AND lt.expires_at > $2`

func (r *PostgresPreferencesRepo) GetByLoginToken(ctx context.Context, loginToken string, now time.Time) (json.RawMessage, error) {
	var prefs json.RawMessage
	if err := r.db.QueryRow(ctx, getPrefsByLoginTokenSQL, loginToken, now).Scan(&prefs); err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return prefs, nil
}

// The validity join and the write are one statement, so an expired token can never write.
const savePrefsByLoginTokenSQL = `UPDATE user_account ua
SET preferences = $2, updated_at = NOW()
FROM login_token lt
JOIN sso_user_account sua ON sua.sso_user_account_id = lt.sso_user_account_id
WHERE lt.login_token = $1
	AND lt.expires_at IS NOT NULL
	AND lt.expires_at > $3
	AND ua.user_account_id = sua.user_account_id`

func (r *PostgresPreferencesRepo) SaveByLoginToken(ctx context.Context, loginToken string, prefs json.RawMessage, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, savePrefsByLoginTokenSQL, loginToken, prefs, now)
	if err != nil {
		return false, fmt.Errorf("save preferences: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanSsoUserAccount(row pgx.Row) (domain.SsoUserAccount, error) {
	var a domain.SsoUserAccount
	err := row.Scan(
		&a.ID,
		&a.UserIDFromProvider,
		&a.ProviderID,
		&a.UserAccountID,
		&a.UserInfo,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func scanAccessToken(row pgx.Row) (domain.AccessToken, error) {
	var (
		t       domain.AccessToken
		refresh sql.NullString
		expires sql.NullTime
	)
	if err := row.Scan(&t.SsoUserAccountID, &t.AccessToken, &refresh, &expires, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.AccessToken{}, err
	}
	t.RefreshToken = refresh.String
	if expires.Valid {
		t.ExpiresAt = expires.Time
	}
	return t, nil
}

func scanLoginToken(row pgx.Row) (domain.LoginToken, error) {
	var t domain.LoginToken
	err := row.Scan(&t.Token, &t.SsoUserAccountID, &t.RefererOrigin, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
