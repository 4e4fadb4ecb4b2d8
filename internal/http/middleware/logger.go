package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger writes one line per request. Login routes also log the referring
// origin; preference routes log a redacted login token so a site's calls can be
// correlated without exposing the credential.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		fields := append(pdsFields(c),
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if ce := logger.Check(levelFor(status), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func pdsFields(c *gin.Context) []zap.Field {
	route := c.FullPath()
	fields := []zap.Field{zap.String("route", route)}
	switch {
	case strings.HasPrefix(route, "/sso/"):
		fields = append(fields, zap.String("provider", c.Param("provider")))
		if origin := refererOrigin(c.GetHeader("Referer")); origin != "" {
			fields = append(fields, zap.String("referer_origin", origin))
		}
	case route == "/get_prefs" || route == "/save_prefs":
		fields = append(fields, zap.String("login_token", redact(LoginToken(c))))
	}
	return fields
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func refererOrigin(referer string) string {
	u, err := url.Parse(strings.TrimSpace(referer))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// redact keeps a short prefix of the token.
func redact(token string) string {
	switch {
	case token == "":
		return ""
	case len(token) <= 8:
		return "***"
	default:
		return token[:6] + "***"
	}
}
