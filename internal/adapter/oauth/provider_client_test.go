package oauth

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/fluid-project/personal-data-server/internal/domain/sso"
)

func testProvider() sso.ProviderConfig {
	return sso.ProviderConfig{
		Name:         "google",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://accounts.example.com/o/oauth2/auth",
		TokenURL:     "https://accounts.example.com/o/oauth2/token",
		UserInfoURL:  "https://api.example.com/oauth2/v2/userinfo",
		RedirectURI:  "http://localhost:3000/sso/google/login/callback",
		Scopes:       []string{"openid", "profile", "email"},
	}
}

func newMockedClient(t *testing.T) *HTTPProviderClient {
	t.Helper()
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewHTTPProviderClient(httpClient)
}

func TestAuthCodeURL(t *testing.T) {
	client := NewHTTPProviderClient(nil)
	raw := client.AuthCodeURL(testProvider(), "state-123")

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "accounts.example.com", parsed.Host)
	q := parsed.Query()
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "http://localhost:3000/sso/google/login/callback", q.Get("redirect_uri"))
	require.Equal(t, "openid profile email", q.Get("scope"))
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "code", q.Get("response_type"))
}

func TestExchangeCode_Success(t *testing.T) {
	client := newMockedClient(t)
	provider := testProvider()

	httpmock.RegisterResponder(http.MethodPost, provider.TokenURL,
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			require.Equal(t, "authorization_code", req.PostForm.Get("grant_type"))
			require.Equal(t, "mock-auth-code", req.PostForm.Get("code"))
			require.Equal(t, provider.RedirectURI, req.PostForm.Get("redirect_uri"))
			require.Equal(t, "client-id", req.PostForm.Get("client_id"))
			require.Equal(t, "client-secret", req.PostForm.Get("client_secret"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"access_token":  "PatAccessToken.someRandomeString",
				"expires_in":    3600,
				"refresh_token": "anotherRandomString",
				"token_type":    "Bearer",
			})
		})

	result, err := client.ExchangeCode(context.Background(), provider, "mock-auth-code")
	require.NoError(t, err)
	require.True(t, result.OK())
	require.Equal(t, "PatAccessToken.someRandomeString", result.AccessToken)
	require.Equal(t, "anotherRandomString", result.RefreshToken)
	require.Equal(t, int64(3600), result.ExpiresIn)
	require.Contains(t, string(result.Body), "PatAccessToken.someRandomeString")
	require.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestExchangeCode_ProviderErrorIsNotAnError(t *testing.T) {
	client := newMockedClient(t)
	provider := testProvider()

	httpmock.RegisterResponder(http.MethodPost, provider.TokenURL,
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":"invalid_grant"}`))

	result, err := client.ExchangeCode(context.Background(), provider, "stale-code")
	require.NoError(t, err)
	require.False(t, result.OK())
	require.Equal(t, http.StatusBadRequest, result.Status)
	require.JSONEq(t, `{"error":"invalid_grant"}`, string(result.Body))
}

func TestExchangeCode_MissingAccessToken(t *testing.T) {
	client := newMockedClient(t)
	provider := testProvider()

	httpmock.RegisterResponder(http.MethodPost, provider.TokenURL,
		httpmock.NewStringResponder(http.StatusOK, `{"token_type":"Bearer"}`).
			HeaderSet(http.Header{"Content-Type": []string{"application/json"}}))

	result, err := client.ExchangeCode(context.Background(), provider, "code")
	require.NoError(t, err)
	require.False(t, result.OK())
	require.Equal(t, http.StatusBadGateway, result.Status)
	require.Contains(t, string(result.Body), "access_token")
}

func TestExchangeCode_TransportFailure(t *testing.T) {
	client := newMockedClient(t)
	provider := testProvider()

	// No responder registered: httpmock fails the round trip.
	_, err := client.ExchangeCode(context.Background(), provider, "code")
	require.Error(t, err)
}

func TestFetchProfile(t *testing.T) {
	client := newMockedClient(t)
	provider := testProvider()

	httpmock.RegisterResponder(http.MethodGet, provider.UserInfoURL,
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "Bearer PatAccessToken.someRandomeString", req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"id":             "PatId",
				"email":          "pat@example.com",
				"verified_email": true,
				"name":           "Pat Smith",
				"given_name":     "Pat",
				"family_name":    "Smith",
				"picture":        "https://example.com/pat.png",
				"locale":         "en",
			})
		})

	result, err := client.FetchProfile(context.Background(), provider, "PatAccessToken.someRandomeString")
	require.NoError(t, err)
	require.True(t, result.OK())
	require.Equal(t, "PatId", result.Profile.ID)
	require.Equal(t, "pat@example.com", result.Profile.Email)
	require.True(t, result.Profile.VerifiedEmail)
	require.Equal(t, "Pat", result.Profile.GivenName)
	require.JSONEq(t, string(result.Body), string(result.Profile.Raw))
}

func TestFetchProfile_NonOK(t *testing.T) {
	client := newMockedClient(t)
	provider := testProvider()

	httpmock.RegisterResponder(http.MethodGet, provider.UserInfoURL,
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"invalid_token"}`))

	result, err := client.FetchProfile(context.Background(), provider, "expired")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, result.Status)
	require.Empty(t, result.Profile.ID)
}
