//go:build integration

package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluid-project/personal-data-server/internal/domain"
	"github.com/fluid-project/personal-data-server/internal/domain/sso"
	"github.com/fluid-project/personal-data-server/internal/repository"
)

func setupGateway(t *testing.T) *repository.Gateway {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatal("DATABASE_URL must be set for integration tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	gw := repository.NewGateway(pool)
	require.NoError(t, gw.ApplySchema(ctx))
	require.NoError(t, gw.ApplySchema(ctx), "schema must be idempotent")
	return gw
}

func seedAccount(t *testing.T, gw *repository.Gateway, node *snowflake.Node) (domain.SsoProvider, domain.SsoUserAccount) {
	t.Helper()
	ctx := context.Background()

	provider, err := repository.NewPostgresProviderRepo(gw).Upsert(ctx, domain.SsoProvider{
		ID:           node.Generate().Int64(),
		Name:         fmt.Sprintf("google-%d", node.Generate().Int64()),
		ClientID:     "client",
		ClientSecret: "secret",
	})
	require.NoError(t, err)

	accounts := repository.NewPostgresAccountRepo(gw)
	user, err := accounts.CreateUserAccount(ctx, domain.UserAccount{ID: node.Generate().Int64(), Preferences: domain.DefaultPreferences})
	require.NoError(t, err)
	account, err := accounts.CreateSsoUserAccount(ctx, domain.SsoUserAccount{
		ID:                 node.Generate().Int64(),
		UserIDFromProvider: fmt.Sprintf("subject-%d", node.Generate().Int64()),
		ProviderID:         provider.ID,
		UserAccountID:      user.ID,
		UserInfo:           json.RawMessage(`{"id":"PatId"}`),
	})
	require.NoError(t, err)
	return provider, account
}

func TestGatewayReady(t *testing.T) {
	gw := setupGateway(t)
	ready, err := gw.Ready(context.Background())
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestProviderRepo_UpsertKeepsID(t *testing.T) {
	gw := setupGateway(t)
	node, _ := snowflake.NewNode(2)
	repo := repository.NewPostgresProviderRepo(gw)
	ctx := context.Background()

	name := fmt.Sprintf("google-%d", node.Generate().Int64())
	first, err := repo.Upsert(ctx, domain.SsoProvider{ID: node.Generate().Int64(), Name: name, ClientID: "a", ClientSecret: "b"})
	require.NoError(t, err)
	second, err := repo.Upsert(ctx, domain.SsoProvider{ID: node.Generate().Int64(), Name: name, ClientID: "c", ClientSecret: "d"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := repo.GetByName(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "c", got.ClientID)

	_, err = repo.GetByName(ctx, "missing-provider")
	assert.True(t, errors.Is(err, pgx.ErrNoRows))
}

func TestAccountRepo_TransactionRollsBack(t *testing.T) {
	gw := setupGateway(t)
	node, _ := snowflake.NewNode(3)
	repo := repository.NewPostgresAccountRepo(gw)
	ctx := context.Background()
	userID := node.Generate().Int64()

	err := repo.InTx(ctx, func(tx repository.AccountRepository) error {
		if _, err := tx.CreateUserAccount(ctx, domain.UserAccount{ID: userID, Preferences: domain.DefaultPreferences}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, gw.DB().QueryRow(ctx, `SELECT COUNT(*) FROM user_account WHERE user_account_id = $1`, userID).Scan(&count))
	assert.Zero(t, count)
}

func TestAccountRepo_AccessTokenLifecycle(t *testing.T) {
	gw := setupGateway(t)
	node, _ := snowflake.NewNode(4)
	_, account := seedAccount(t, gw, node)
	repo := repository.NewPostgresAccountRepo(gw)
	ctx := context.Background()

	_, err := repo.UpdateAccessToken(ctx, domain.AccessToken{SsoUserAccountID: account.ID, AccessToken: "x"})
	assert.True(t, errors.Is(err, pgx.ErrNoRows))

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	_, err = repo.CreateAccessToken(ctx, domain.AccessToken{SsoUserAccountID: account.ID, AccessToken: "first", RefreshToken: "refresh", ExpiresAt: expires})
	require.NoError(t, err)

	updated, err := repo.UpdateAccessToken(ctx, domain.AccessToken{SsoUserAccountID: account.ID, AccessToken: "second", ExpiresAt: expires})
	require.NoError(t, err)
	assert.Equal(t, "second", updated.AccessToken)
	assert.Equal(t, "refresh", updated.RefreshToken)
	assert.True(t, expires.Equal(updated.ExpiresAt))
}

func TestLoginTokenAndPreferences(t *testing.T) {
	gw := setupGateway(t)
	node, _ := snowflake.NewNode(5)
	_, account := seedAccount(t, gw, node)
	tokens := repository.NewPostgresLoginTokenRepo(gw)
	prefs := repository.NewPostgresPreferencesRepo(gw)
	ctx := context.Background()
	origin := "https://external.site.com"
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)

	_, err := tokens.Get(ctx, account.ID, origin)
	assert.True(t, errors.Is(err, pgx.ErrNoRows))

	_, err = tokens.Create(ctx, domain.LoginToken{Token: fmt.Sprintf("token-a-%d", account.ID), SsoUserAccountID: account.ID, RefererOrigin: origin, ExpiresAt: expires})
	require.NoError(t, err)
	_, err = tokens.Create(ctx, domain.LoginToken{Token: fmt.Sprintf("token-dup-%d", account.ID), SsoUserAccountID: account.ID, RefererOrigin: origin, ExpiresAt: expires})
	require.Error(t, err, "one token per account and origin")

	renewed, err := tokens.Update(ctx, domain.LoginToken{Token: fmt.Sprintf("token-b-%d", account.ID), SsoUserAccountID: account.ID, RefererOrigin: origin, ExpiresAt: expires})
	require.NoError(t, err)

	_, err = prefs.GetByLoginToken(ctx, fmt.Sprintf("token-a-%d", account.ID), time.Now())
	assert.True(t, errors.Is(err, pgx.ErrNoRows), "rotated token must stop working")

	got, err := prefs.GetByLoginToken(ctx, renewed.Token, time.Now())
	require.NoError(t, err)
	assert.JSONEq(t, string(domain.DefaultPreferences), string(got))

	_, err = prefs.GetByLoginToken(ctx, renewed.Token, expires)
	assert.True(t, errors.Is(err, pgx.ErrNoRows), "expiry is exclusive")

	saved, err := prefs.SaveByLoginToken(ctx, renewed.Token, json.RawMessage(`{"contrast":"bw"}`), expires)
	require.NoError(t, err)
	assert.False(t, saved)

	saved, err = prefs.SaveByLoginToken(ctx, renewed.Token, json.RawMessage(`{"contrast":"bw"}`), time.Now())
	require.NoError(t, err)
	assert.True(t, saved)

	got, err = prefs.GetByLoginToken(ctx, renewed.Token, time.Now())
	require.NoError(t, err)
	assert.JSONEq(t, `{"contrast":"bw"}`, string(got))
}

func TestStateTracker_ConsumeOnce(t *testing.T) {
	gw := setupGateway(t)
	tracker := repository.NewPostgresStateTracker(gw)
	ctx := context.Background()
	state := fmt.Sprintf("state-%d", time.Now().UnixNano())

	require.NoError(t, tracker.Track(ctx, sso.StateRecord{
		State:         state,
		Provider:      "google",
		RefererOrigin: "https://external.site.com",
		RefererURL:    "https://external.site.com/page.html",
	}, time.Minute))

	record, err := tracker.Consume(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "https://external.site.com/page.html", record.RefererURL)

	record, err = tracker.Consume(ctx, state)
	require.NoError(t, err)
	assert.Nil(t, record)

	old := fmt.Sprintf("old-%d", time.Now().UnixNano())
	require.NoError(t, tracker.Track(ctx, sso.StateRecord{
		State:         old,
		Provider:      "google",
		RefererOrigin: "https://external.site.com",
		RefererURL:    "https://external.site.com/",
		CreatedAt:     time.Now().Add(-time.Hour),
	}, time.Minute))
	purged, err := tracker.PurgeBefore(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, int64(1))
}
