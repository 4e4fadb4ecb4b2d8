package edgeproxy

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	httpmiddleware "github.com/fluid-project/personal-data-server/internal/http/middleware"
)

// NewRouter mounts the edge proxy routes under /api.
func NewRouter(serviceName string, h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(otelgin.Middleware(serviceName))

	api := r.Group("/api")
	{
		api.GET("/redirect", h.Redirect)
		api.GET("/prefs", h.GetPrefs)
		api.PUT("/prefs", h.SavePrefs)
	}
	return r
}
