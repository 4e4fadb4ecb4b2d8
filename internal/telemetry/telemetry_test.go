package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNew_DisabledWithoutEndpoint(t *testing.T) {
	provider, err := New(context.Background(), Options{ServiceName: "pds-test"}, nil)
	require.NoError(t, err)
	require.NoError(t, provider.Shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.SSOLogin("google", "self")
	m.LoginTokenIssued(true)
	m.PreferencesOp("get", "ok")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics_ExposesServiceCounters(t *testing.T) {
	m := NewMetrics()
	m.SSOLogin("google", "login_token")
	m.LoginTokenIssued(false)
	m.PreferencesOp("save", "ok")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, `pds_sso_logins_total{outcome="login_token",provider="google"} 1`)
	require.Contains(t, body, `pds_login_tokens_issued_total{kind="new"} 1`)
	require.Contains(t, body, `pds_preferences_operations_total{operation="save",outcome="ok"} 1`)
}
