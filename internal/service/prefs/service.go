package prefs

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fluid-project/personal-data-server/internal/config"
	"github.com/fluid-project/personal-data-server/internal/domain"
	domainsso "github.com/fluid-project/personal-data-server/internal/domain/sso"
	"github.com/fluid-project/personal-data-server/internal/repository"
	"github.com/fluid-project/personal-data-server/internal/telemetry"
)

const loginTokenSize = 64

// Service manages login tokens and the preferences they grant access to.
type Service interface {
	IssueOrRenew(ctx context.Context, ssoUserAccountID int64, refererOrigin string) (domain.LoginToken, error)
	GetPreferences(ctx context.Context, loginToken string) (json.RawMessage, error)
	SavePreferences(ctx context.Context, loginToken string, prefs json.RawMessage) error
}

type service struct {
	tokens  repository.LoginTokenRepository
	prefs   repository.PreferencesRepository
	ttl     time.Duration
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
}

// NewService wires the preferences service.
func NewService(
	tokens repository.LoginTokenRepository,
	prefs repository.PreferencesRepository,
	cfg config.Config,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) Service {
	return &service{
		tokens:  tokens,
		prefs:   prefs,
		ttl:     cfg.LoginTokenTTL,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/fluid-project/personal-data-server/internal/service/prefs"),
		logger:  logger,
		now:     time.Now,
	}
}

// IssueOrRenew gives the (account, origin) pair a fresh token value and expiry.
// The pair keeps a single row; renewal rotates the value in place.
func (s *service) IssueOrRenew(ctx context.Context, ssoUserAccountID int64, refererOrigin string) (domain.LoginToken, error) {
	ctx, span := s.startSpan(ctx, "PrefsService.IssueOrRenew")
	defer span.End()

	value, err := secureRandomString(loginTokenSize)
	if err != nil {
		return domain.LoginToken{}, fmt.Errorf("generate login token: %w", err)
	}
	token := domain.LoginToken{
		Token:            value,
		SsoUserAccountID: ssoUserAccountID,
		RefererOrigin:    refererOrigin,
		ExpiresAt:        s.now().UTC().Add(s.ttl),
	}

	_, err = s.tokens.Get(ctx, ssoUserAccountID, refererOrigin)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		created, err := s.tokens.Create(ctx, token)
		if err != nil {
			span.RecordError(err)
			return domain.LoginToken{}, err
		}
		s.metrics.LoginTokenIssued(false)
		s.audit("login_token.issued", "sso_user_account_id", ssoUserAccountID, "referer_origin", refererOrigin, "renewed", false)
		return created, nil
	case err != nil:
		span.RecordError(err)
		return domain.LoginToken{}, err
	}

	updated, err := s.tokens.Update(ctx, token)
	if err != nil {
		span.RecordError(err)
		return domain.LoginToken{}, err
	}
	s.metrics.LoginTokenIssued(true)
	s.audit("login_token.issued", "sso_user_account_id", ssoUserAccountID, "referer_origin", refererOrigin, "renewed", true)
	return updated, nil
}

func (s *service) GetPreferences(ctx context.Context, loginToken string) (json.RawMessage, error) {
	ctx, span := s.startSpan(ctx, "PrefsService.GetPreferences")
	defer span.End()

	if strings.TrimSpace(loginToken) == "" {
		s.metrics.PreferencesOp("get", "login_required")
		return nil, domainsso.ErrLoginRequired
	}
	prefs, err := s.prefs.GetByLoginToken(ctx, loginToken, s.now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.metrics.PreferencesOp("get", "invalid_token")
			return nil, domainsso.ErrInvalidLoginToken
		}
		span.RecordError(err)
		s.metrics.PreferencesOp("get", "error")
		return nil, err
	}
	s.metrics.PreferencesOp("get", "ok")
	return prefs, nil
}

func (s *service) SavePreferences(ctx context.Context, loginToken string, prefs json.RawMessage) error {
	ctx, span := s.startSpan(ctx, "PrefsService.SavePreferences")
	defer span.End()

	if strings.TrimSpace(loginToken) == "" {
		s.metrics.PreferencesOp("save", "login_required")
		return domainsso.ErrLoginRequired
	}
	if len(bytes.TrimSpace(prefs)) == 0 {
		prefs = json.RawMessage(`{}`)
	}
	if !isJSONObject(prefs) {
		s.metrics.PreferencesOp("save", "invalid_body")
		return domainsso.ErrInvalidPreferences
	}

	saved, err := s.prefs.SaveByLoginToken(ctx, loginToken, prefs, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		s.metrics.PreferencesOp("save", "error")
		return err
	}
	if !saved {
		s.metrics.PreferencesOp("save", "invalid_token")
		return domainsso.ErrInvalidLoginToken
	}
	s.metrics.PreferencesOp("save", "ok")
	s.audit("preferences.saved", "bytes", len(prefs))
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

func (s *service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *service) audit(event string, attrs ...any) {
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", s.now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	s.log().Info("audit", fields...)
}

func (s *service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func secureRandomString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
