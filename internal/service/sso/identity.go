package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/fluid-project/personal-data-server/internal/domain"
	domainsso "github.com/fluid-project/personal-data-server/internal/domain/sso"
	"github.com/fluid-project/personal-data-server/internal/repository"
)

// IdentityService links provider profiles to local accounts and stores provider tokens.
type IdentityService struct {
	accounts repository.AccountRepository
	node     *snowflake.Node
	logger   *zap.Logger
	now      func() time.Time
}

// NewIdentityService wires the identity resolver.
func NewIdentityService(accounts repository.AccountRepository, node *snowflake.Node, logger *zap.Logger) *IdentityService {
	return &IdentityService{accounts: accounts, node: node, logger: logger, now: time.Now}
}

// ResolveAndStore creates or refreshes the account records for profile and returns the
// stored access token. The existence of the SSO user account is looked up once and decides
// between the create and update paths.
func (s *IdentityService) ResolveAndStore(ctx context.Context, profile domainsso.Profile, token domainsso.TokenResult, provider domainsso.ProviderConfig, defaultPreferences json.RawMessage) (domain.AccessToken, error) {
	if profile.ID == "" {
		return domain.AccessToken{}, fmt.Errorf("resolve identity: profile id missing")
	}
	userInfo, err := profileJSON(profile)
	if err != nil {
		return domain.AccessToken{}, err
	}
	if len(defaultPreferences) == 0 {
		defaultPreferences = domain.DefaultPreferences
	}

	record := domain.AccessToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if token.ExpiresIn > 0 {
		record.ExpiresAt = s.now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	var stored domain.AccessToken
	err = s.accounts.InTx(ctx, func(tx repository.AccountRepository) error {
		account, err := tx.GetSsoUserAccount(ctx, provider.ProviderID, profile.ID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			stored, err = s.createAccount(ctx, tx, profile.ID, userInfo, provider, record, defaultPreferences)
			return err
		case err != nil:
			return fmt.Errorf("lookup sso user account: %w", err)
		}

		if _, err := tx.UpdateSsoUserInfo(ctx, account.ID, userInfo); err != nil {
			return err
		}
		record.SsoUserAccountID = account.ID
		stored, err = tx.UpdateAccessToken(ctx, record)
		if errors.Is(err, pgx.ErrNoRows) {
			stored, err = tx.CreateAccessToken(ctx, record)
		}
		return err
	})
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("resolve identity: %w", err)
	}
	return stored, nil
}

func (s *IdentityService) createAccount(ctx context.Context, tx repository.AccountRepository, subject string, userInfo json.RawMessage, provider domainsso.ProviderConfig, record domain.AccessToken, prefs json.RawMessage) (domain.AccessToken, error) {
	user, err := tx.CreateUserAccount(ctx, domain.UserAccount{
		ID:          s.node.Generate().Int64(),
		Preferences: prefs,
	})
	if err != nil {
		return domain.AccessToken{}, err
	}
	account, err := tx.CreateSsoUserAccount(ctx, domain.SsoUserAccount{
		ID:                 s.node.Generate().Int64(),
		UserIDFromProvider: subject,
		ProviderID:         provider.ProviderID,
		UserAccountID:      user.ID,
		UserInfo:           userInfo,
	})
	if err != nil {
		return domain.AccessToken{}, err
	}
	record.SsoUserAccountID = account.ID
	created, err := tx.CreateAccessToken(ctx, record)
	if err != nil {
		return domain.AccessToken{}, err
	}
	s.log().Info("user account created",
		zap.String("provider", provider.Name),
		zap.Int64("user_account_id", user.ID),
		zap.Int64("sso_user_account_id", account.ID),
	)
	return created, nil
}

func (s *IdentityService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func profileJSON(profile domainsso.Profile) (json.RawMessage, error) {
	if len(profile.Raw) > 0 && json.Valid(profile.Raw) {
		return profile.Raw, nil
	}
	encoded, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return encoded, nil
}
