package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fluid-project/personal-data-server/internal/config"
	"github.com/fluid-project/personal-data-server/internal/domain"
	domainsso "github.com/fluid-project/personal-data-server/internal/domain/sso"
	httptransport "github.com/fluid-project/personal-data-server/internal/http"
	"github.com/fluid-project/personal-data-server/internal/http/handler"
	"github.com/fluid-project/personal-data-server/internal/middleware"
	ssosvc "github.com/fluid-project/personal-data-server/internal/service/sso"
	"github.com/fluid-project/personal-data-server/internal/telemetry"
)

func newTestRouter(prefs *memoryPrefs) *gin.Engine {
	return newLimitedRouter(prefs, middleware.NewRateLimiter(nil))
}

func newLimitedRouter(prefs *memoryPrefs, limiter *middleware.RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		ServiceName:        "pds-test",
		AllowedPrefsSize:   64,
		CORSAllowedOrigins: []string{"https://external.site.com"},
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Authorization", "Content-Type"},
	}
	handlers := httptransport.Handlers{
		SSO:    handler.NewSSOHandler(stubSSO{}),
		Prefs:  handler.NewPrefsHandler(prefs),
		Health: handler.NewHealthHandler(readyDB{}),
	}
	return httptransport.NewRouter(cfg, handlers, limiter, telemetry.NewMetrics(), zap.NewNop())
}

func TestRouter_SaveOversizedBody(t *testing.T) {
	prefs := &memoryPrefs{docs: map[string]json.RawMessage{"token": json.RawMessage(`{"textSize":1.2}`)}}
	r := newTestRouter(prefs)

	large := `{"blob":"` + strings.Repeat("x", 128) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/save_prefs", strings.NewReader(large))
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Contains(t, w.Body.String(), "request entity too large")
	require.JSONEq(t, `{"textSize":1.2}`, string(prefs.docs["token"]))

	// Unknown length bodies are cut off while reading.
	req = httptest.NewRequest(http.MethodPost, "/save_prefs", strings.NewReader(large))
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.JSONEq(t, `{"textSize":1.2}`, string(prefs.docs["token"]))
}

func TestRouter_PrefsRoundTrip(t *testing.T) {
	prefs := &memoryPrefs{docs: map[string]json.RawMessage{"token": json.RawMessage(`{"textSize":1.2}`)}}
	r := newTestRouter(prefs)

	req := httptest.NewRequest(http.MethodPost, "/save_prefs", strings.NewReader(`{"textSize":1.8}`))
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/get_prefs", nil)
	req.Header.Set("Authorization", "Bearer token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"textSize":1.8}`, w.Body.String())
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter(&memoryPrefs{docs: map[string]json.RawMessage{}})

	req := httptest.NewRequest(http.MethodOptions, "/get_prefs", nil)
	req.Header.Set("Origin", "https://external.site.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://external.site.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	req = httptest.NewRequest(http.MethodGet, "/get_prefs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_RateLimitsPerScope(t *testing.T) {
	prefs := &memoryPrefs{docs: map[string]json.RawMessage{
		"site-a": json.RawMessage(`{}`),
		"site-b": json.RawMessage(`{}`),
	}}
	limiter := middleware.NewRateLimiter(map[string]int{
		middleware.ScopeSSO:   10,
		middleware.ScopePrefs: 10,
	})
	r := newLimitedRouter(prefs, limiter)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusFound, get("/sso/google", "").Code)
	w := get("/sso/google", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "Too many login attempts")
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	// The exhausted login budget does not touch the preferences API, and each
	// login token has its own bucket even from the same address.
	require.Equal(t, http.StatusOK, get("/get_prefs", "site-a").Code)
	w = get("/get_prefs", "site-a")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "Too many preference requests")
	require.Equal(t, http.StatusOK, get("/get_prefs", "site-b").Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := newTestRouter(&memoryPrefs{docs: map[string]json.RawMessage{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "pds_http_requests_total")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

type stubSSO struct{}

func (stubSSO) Initiate(context.Context, string, string) (*ssosvc.InitiateOutput, error) {
	return &ssosvc.InitiateOutput{AuthorizationURL: "https://accounts.example.com/auth"}, nil
}

func (stubSSO) HandleCallback(context.Context, ssosvc.CallbackInput) (*ssosvc.CallbackResult, error) {
	return &ssosvc.CallbackResult{AccessToken: "token"}, nil
}

type readyDB struct{}

func (readyDB) Ready(context.Context) (bool, error) { return true, nil }

type memoryPrefs struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage
}

func (m *memoryPrefs) IssueOrRenew(context.Context, int64, string) (domain.LoginToken, error) {
	return domain.LoginToken{}, nil
}

func (m *memoryPrefs) GetPreferences(_ context.Context, token string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" {
		return nil, domainsso.ErrLoginRequired
	}
	doc, ok := m.docs[token]
	if !ok {
		return nil, domainsso.ErrInvalidLoginToken
	}
	return doc, nil
}

func (m *memoryPrefs) SavePreferences(_ context.Context, token string, prefs json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[token]; !ok {
		return domainsso.ErrInvalidLoginToken
	}
	m.docs[token] = append(json.RawMessage{}, prefs...)
	return nil
}
