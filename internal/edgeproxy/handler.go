package edgeproxy

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	loginTokenCookie = "PDS_loginToken"
	freshLogonParam  = "PDS_freshLogon"
)

// Handler serves the routes an external site mounts under /api.
type Handler struct {
	pds    *PDSClient
	logger *zap.Logger
}

// NewHandler creates the edge proxy handler.
func NewHandler(pds *PDSClient, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{pds: pds, logger: logger}
}

// Redirect receives the login token at the end of a login, stores it in a cookie and
// sends the browser back to the page that started the login.
func (h *Handler) Redirect(c *gin.Context) {
	loginToken := c.Query("loginToken")
	maxAge := c.Query("maxAge")
	refererURL := c.Query("refererUrl")
	if loginToken == "" || maxAge == "" || refererURL == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Missing required parameters"})
		return
	}

	target, err := url.Parse(refererURL)
	if err != nil || !target.IsAbs() {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid refererUrl"})
		return
	}
	q := target.Query()
	q.Add(freshLogonParam, "true")
	target.RawQuery = q.Encode()

	// maxAge arrives in milliseconds.
	maxAgeMillis, err := strconv.ParseInt(maxAge, 10, 64)
	if err != nil || maxAgeMillis <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid maxAge"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     loginTokenCookie,
		Value:    loginToken,
		Path:     "/",
		MaxAge:   int(maxAgeMillis / 1000),
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, target.String())
}

// GetPrefs relays the preference read with the cookie as the bearer token.
func (h *Handler) GetPrefs(c *gin.Context) {
	token, ok := h.loginToken(c)
	if !ok {
		return
	}
	resp, err := h.pds.GetPrefs(c.Request.Context(), token)
	if err != nil {
		h.relayFailed(c, err)
		return
	}
	relay(c, resp)
}

// SavePrefs relays the preference write and echoes the saved document on success.
func (h *Handler) SavePrefs(c *gin.Context) {
	token, ok := h.loginToken(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"isError": true, "message": "Cannot read the request body."})
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	resp, err := h.pds.SavePrefs(c.Request.Context(), token, body)
	if err != nil {
		h.relayFailed(c, err)
		return
	}
	if resp.Status != http.StatusOK {
		relay(c, resp)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *Handler) loginToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(loginTokenCookie)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"isError": true,
			"message": "Unauthorized. Missing 'PDS_loginToken' cookie value.",
		})
		return "", false
	}
	return token, true
}

func (h *Handler) relayFailed(c *gin.Context, err error) {
	h.logger.Error("pds relay failed", zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"isError": true, "message": "Personal Data Server is unavailable."})
}

func relay(c *gin.Context, resp Response) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(resp.Status, contentType, resp.Body)
}
