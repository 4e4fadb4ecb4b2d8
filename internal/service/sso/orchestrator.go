package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	oauthadapter "github.com/fluid-project/personal-data-server/internal/adapter/oauth"
	"github.com/fluid-project/personal-data-server/internal/config"
	"github.com/fluid-project/personal-data-server/internal/domain"
	domainsso "github.com/fluid-project/personal-data-server/internal/domain/sso"
	"github.com/fluid-project/personal-data-server/internal/repository"
	"github.com/fluid-project/personal-data-server/internal/telemetry"
)

const stateSize = 24

// Service drives the single sign-on flow for a provider.
type Service interface {
	Initiate(ctx context.Context, provider, referer string) (*InitiateOutput, error)
	HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error)
}

// LoginTokenIssuer issues the referer-scoped login token after a successful login.
type LoginTokenIssuer interface {
	IssueOrRenew(ctx context.Context, ssoUserAccountID int64, refererOrigin string) (domain.LoginToken, error)
}

// InitiateOutput carries the provider redirect.
type InitiateOutput struct {
	AuthorizationURL string
	State            string
	// Tracked is true when the login was started from an external site.
	Tracked bool
}

// CallbackInput captures the provider callback query.
type CallbackInput struct {
	Provider string
	Code     string
	State    string
	Error    string
}

// CallbackResult is either a redirect carrying a login token or the provider access token.
type CallbackResult struct {
	AccessToken string
	RedirectURL string
	LoginToken  *domain.LoginToken
}

// Redirect reports whether the caller should be sent back to the external site.
func (r *CallbackResult) Redirect() bool {
	return r != nil && r.RedirectURL != ""
}

type service struct {
	registry   *Registry
	tracker    repository.StateTracker
	client     oauthadapter.ProviderClient
	identities *IdentityService
	issuer     LoginTokenIssuer
	cfg        config.Config
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wires the SSO orchestrator.
func NewService(
	registry *Registry,
	tracker repository.StateTracker,
	client oauthadapter.ProviderClient,
	identities *IdentityService,
	issuer LoginTokenIssuer,
	cfg config.Config,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) Service {
	return &service{
		registry:   registry,
		tracker:    tracker,
		client:     client,
		identities: identities,
		issuer:     issuer,
		cfg:        cfg,
		metrics:    metrics,
		tracer:     otel.Tracer("github.com/fluid-project/personal-data-server/internal/service/sso"),
		logger:     logger,
		now:        time.Now,
	}
}

func (s *service) Initiate(ctx context.Context, provider, referer string) (*InitiateOutput, error) {
	ctx, span := s.startSpan(ctx, "SSOService.Initiate")
	defer span.End()

	cfg, err := s.registry.Lookup(ctx, provider)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	state, err := secureRandomString(stateSize)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	out := &InitiateOutput{
		AuthorizationURL: s.client.AuthCodeURL(cfg, state),
		State:            state,
	}

	origin, refererURL, external := s.externalReferer(referer)
	if external {
		record := domainsso.StateRecord{
			State:         state,
			Provider:      cfg.Name,
			RefererOrigin: origin,
			RefererURL:    refererURL,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.tracker.Track(ctx, record, s.cfg.StateTTL); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("track state: %w", err)
		}
		out.Tracked = true
	}
	span.SetAttributes(attribute.String("sso.provider", cfg.Name), attribute.Bool("sso.tracked", out.Tracked))
	s.audit("sso.initiated", "provider", cfg.Name, "tracked", out.Tracked)
	return out, nil
}

func (s *service) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	ctx, span := s.startSpan(ctx, "SSOService.HandleCallback")
	defer span.End()

	result, err := s.handleCallback(ctx, in)
	if err != nil {
		span.RecordError(err)
		s.metrics.SSOLogin(in.Provider, outcomeOf(err))
		return nil, err
	}
	outcome := "self"
	if result.Redirect() {
		outcome = "login_token"
	}
	s.metrics.SSOLogin(in.Provider, outcome)
	return result, nil
}

func (s *service) handleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	if detail := strings.TrimSpace(in.Error); detail != "" {
		return nil, &domainsso.ProviderError{Kind: domainsso.ErrProviderDenied, Detail: detail}
	}
	if strings.TrimSpace(in.Code) == "" {
		return nil, domainsso.ErrMissingAuthorizationCode
	}
	if strings.TrimSpace(in.State) == "" {
		return nil, domainsso.ErrMissingState
	}

	cfg, err := s.registry.Lookup(ctx, in.Provider)
	if err != nil {
		return nil, err
	}

	record, err := s.consumeState(ctx, cfg.Name, in.State)
	if err != nil {
		return nil, err
	}

	token, err := s.client.ExchangeCode(ctx, cfg, in.Code)
	if err != nil {
		return nil, &domainsso.ProviderError{Kind: domainsso.ErrProviderUnreachable, Detail: "exchange code: " + err.Error()}
	}
	if !token.OK() {
		return nil, &domainsso.ProviderError{
			Kind:   domainsso.ErrProviderExchangeFailed,
			Status: token.Status,
			Body:   string(token.Body),
		}
	}

	profile, err := s.client.FetchProfile(ctx, cfg, token.AccessToken)
	if err != nil {
		return nil, &domainsso.ProviderError{Kind: domainsso.ErrProviderUnreachable, Detail: "fetch profile: " + err.Error()}
	}
	if !profile.OK() {
		return nil, &domainsso.ProviderError{
			Kind:   domainsso.ErrProviderProfileFailed,
			Status: profile.Status,
			Body:   string(profile.Body),
		}
	}

	stored, err := s.identities.ResolveAndStore(ctx, profile.Profile, token, cfg, domain.DefaultPreferences)
	if err != nil {
		return nil, err
	}

	if record == nil {
		s.audit("sso.login.completed", "provider", cfg.Name, "sso_user_account_id", stored.SsoUserAccountID, "tracked", false)
		return &CallbackResult{AccessToken: stored.AccessToken}, nil
	}

	loginToken, err := s.issuer.IssueOrRenew(ctx, stored.SsoUserAccountID, record.RefererOrigin)
	if err != nil {
		return nil, fmt.Errorf("issue login token: %w", err)
	}
	redirect, err := s.loginRedirectURL(record, loginToken)
	if err != nil {
		return nil, err
	}
	s.audit("sso.login.completed",
		"provider", cfg.Name,
		"sso_user_account_id", stored.SsoUserAccountID,
		"tracked", true,
		"referer_origin", record.RefererOrigin,
	)
	return &CallbackResult{
		AccessToken: stored.AccessToken,
		RedirectURL: redirect,
		LoginToken:  &loginToken,
	}, nil
}

// consumeState removes the tracker record before any provider call is made.
// A missing record means the login was self-initiated.
func (s *service) consumeState(ctx context.Context, provider, state string) (*domainsso.StateRecord, error) {
	record, err := s.tracker.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("consume state: %w", err)
	}
	if record == nil {
		return nil, nil
	}
	if !strings.EqualFold(record.Provider, provider) {
		s.log().Warn("anti-forgery check failed",
			zap.String("expected_provider", record.Provider),
			zap.String("actual_provider", provider),
		)
		return nil, domainsso.ErrStateMismatch
	}
	now := s.now().UTC()
	if record.Expired(now, s.cfg.StateTTL) {
		s.log().Warn("anti-forgery check failed",
			zap.Time("state_created_at", record.CreatedAt),
			zap.Duration("state_ttl", s.cfg.StateTTL),
			zap.Time("now", now),
		)
		return nil, domainsso.ErrStateMismatch
	}
	return record, nil
}

func (s *service) loginRedirectURL(record *domainsso.StateRecord, token domain.LoginToken) (string, error) {
	target := strings.TrimSpace(s.cfg.LoginRedirectURL)
	if target == "" {
		target = strings.TrimRight(record.RefererOrigin, "/") + s.cfg.LoginRedirectPath
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse login redirect: %w", err)
	}
	q := u.Query()
	q.Set("loginToken", token.Token)
	q.Set("maxAge", strconv.FormatInt(s.cfg.LoginTokenTTL.Milliseconds(), 10))
	q.Set("refererUrl", record.RefererURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// externalReferer returns the origin and full URL of referer when it is an absolute
// URL on another origin than the server itself.
func (s *service) externalReferer(referer string) (string, string, bool) {
	origin, ok := originOf(referer)
	if !ok {
		return "", "", false
	}
	self, _ := originOf(s.cfg.SelfDomain)
	if strings.EqualFold(origin, self) {
		return "", "", false
	}
	return origin, strings.TrimSpace(referer), true
}

func originOf(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domainsso.ErrProviderDenied):
		return "denied"
	case errors.Is(err, domainsso.ErrStateMismatch):
		return "anti_forgery"
	case errors.Is(err, domainsso.ErrMissingAuthorizationCode), errors.Is(err, domainsso.ErrMissingState):
		return "bad_request"
	case errors.Is(err, domainsso.ErrProviderExchangeFailed), errors.Is(err, domainsso.ErrProviderProfileFailed):
		return "provider_error"
	case errors.Is(err, domainsso.ErrProviderUnreachable):
		return "provider_unreachable"
	case errors.Is(err, domainsso.ErrProviderNotFound):
		return "unknown_provider"
	default:
		return "error"
	}
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
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

