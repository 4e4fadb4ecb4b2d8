package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/fluid-project/personal-data-server/internal/domain/sso"
)

// ProviderClient encapsulates outbound HTTP calls to external SSO providers.
// Exchange and profile calls report provider failures through the result status,
// and return an error only when the provider could not be reached.
type ProviderClient interface {
	AuthCodeURL(provider sso.ProviderConfig, state string) string
	ExchangeCode(ctx context.Context, provider sso.ProviderConfig, code string) (sso.TokenResult, error)
	FetchProfile(ctx context.Context, provider sso.ProviderConfig, accessToken string) (sso.ProfileResult, error)
}

// HTTPProviderClient is the default HTTP implementation.
type HTTPProviderClient struct {
	httpClient *http.Client
}

var _ ProviderClient = (*HTTPProviderClient)(nil)

// NewHTTPProviderClient constructs the default ProviderClient.
func NewHTTPProviderClient(client *http.Client) *HTTPProviderClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProviderClient{httpClient: client}
}

func oauthConfig(provider sso.ProviderConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: provider.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   provider.AuthURL,
			TokenURL:  provider.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: provider.RedirectURI,
		Scopes:      provider.Scopes,
	}
}

// AuthCodeURL builds the authorize redirect with offline access so a refresh token is issued.
func (c *HTTPProviderClient) AuthCodeURL(provider sso.ProviderConfig, state string) string {
	return oauthConfig(provider).AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode performs the authorization_code grant with redirect_uri pinned to the callback.
func (c *HTTPProviderClient) ExchangeCode(ctx context.Context, provider sso.ProviderConfig, code string) (sso.TokenResult, error) {
	if strings.TrimSpace(provider.TokenURL) == "" {
		return sso.TokenResult{}, fmt.Errorf("token url missing")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := oauthConfig(provider).Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return sso.TokenResult{
				Status: retrieveErr.Response.StatusCode,
				Body:   retrieveErr.Body,
			}, nil
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return sso.TokenResult{}, fmt.Errorf("token exchange request: %w", err)
		}
		// The provider answered 200 with a body x/oauth2 could not use.
		return sso.TokenResult{
			Status: http.StatusBadGateway,
			Body:   []byte(err.Error()),
		}, nil
	}

	result := sso.TokenResult{
		Status:       http.StatusOK,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresIn:    int64Value(tok.Extra("expires_in")),
	}
	if result.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		result.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	body, err := json.Marshal(map[string]any{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"token_type":    result.TokenType,
		"expires_in":    result.ExpiresIn,
	})
	if err != nil {
		return sso.TokenResult{}, fmt.Errorf("encode token response: %w", err)
	}
	result.Body = body
	return result, nil
}

// FetchProfile loads the userinfo endpoint profile.
func (c *HTTPProviderClient) FetchProfile(ctx context.Context, provider sso.ProviderConfig, accessToken string) (sso.ProfileResult, error) {
	if strings.TrimSpace(provider.UserInfoURL) == "" {
		return sso.ProfileResult{}, fmt.Errorf("userinfo url missing")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return sso.ProfileResult{}, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sso.ProfileResult{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return sso.ProfileResult{}, fmt.Errorf("read userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return sso.ProfileResult{Status: resp.StatusCode, Body: body}, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return sso.ProfileResult{}, fmt.Errorf("decode userinfo: %w", err)
	}

	return sso.ProfileResult{
		Status: resp.StatusCode,
		Body:   body,
		Profile: sso.Profile{
			ID:            stringValue(coalesce(raw["id"], raw["sub"])),
			Email:         stringValue(raw["email"]),
			VerifiedEmail: boolValue(coalesce(raw["verified_email"], raw["email_verified"])),
			Name:          stringValue(coalesce(raw["name"], raw["displayName"])),
			GivenName:     stringValue(raw["given_name"]),
			FamilyName:    stringValue(raw["family_name"]),
			Picture:       stringValue(coalesce(raw["picture"], raw["avatar_url"])),
			Locale:        stringValue(raw["locale"]),
			Raw:           json.RawMessage(body),
		},
	}, nil
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func boolValue(input any) bool {
	switch v := input.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func coalesce(values ...any) any {
	for _, v := range values {
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				return v
			}
		case nil:
			continue
		default:
			return v
		}
	}
	return nil
}
