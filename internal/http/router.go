package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/fluid-project/personal-data-server/internal/config"
	"github.com/fluid-project/personal-data-server/internal/http/handler"
	httpmiddleware "github.com/fluid-project/personal-data-server/internal/http/middleware"
	"github.com/fluid-project/personal-data-server/internal/middleware"
	"github.com/fluid-project/personal-data-server/internal/telemetry"
)

// Handlers groups the route handlers for injection.
type Handlers struct {
	SSO    *handler.SSOHandler
	Prefs  *handler.PrefsHandler
	Health *handler.HealthHandler
}

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, handlers Handlers, rateLimiter *middleware.RateLimiter, metrics *telemetry.Metrics, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(metrics.HTTPMiddleware())
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/health", handlers.Health.Health)
	r.GET("/ready", handlers.Health.Ready)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	sso := r.Group("/sso", rateLimiter.Limit(middleware.ScopeSSO, middleware.ClientIPKey))
	{
		sso.GET("/:provider", handlers.SSO.Login)
		sso.GET("/:provider/login/callback", handlers.SSO.Callback)
	}

	prefs := r.Group("/", middleware.CORS(cfg), httpmiddleware.BearerLoginToken)
	{
		prefs.OPTIONS("/get_prefs", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		prefs.OPTIONS("/save_prefs", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		limit := rateLimiter.Limit(middleware.ScopePrefs, prefsRateKey)
		prefs.GET("/get_prefs", limit, handlers.Prefs.GetPrefs)
		prefs.POST("/save_prefs", limit, middleware.BodyLimit(cfg.AllowedPrefsSize), handlers.Prefs.SavePrefs)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"isError": true, "message": "Not found"})
	})

	return r
}

// prefsRateKey charges preference calls to the login token. Sites relay these calls
// from one server, so the address alone would pool all of their users.
func prefsRateKey(c *gin.Context) string {
	if token := httpmiddleware.LoginToken(c); token != "" {
		return "token:" + token
	}
	return middleware.ClientIPKey(c)
}
