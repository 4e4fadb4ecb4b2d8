package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ssosvc "github.com/fluid-project/personal-data-server/internal/service/sso"
)

// SSOHandler serves the single sign-on entry point and the provider callback.
type SSOHandler struct {
	SSO ssosvc.Service
}

// NewSSOHandler creates the SSO handler.
func NewSSOHandler(sso ssosvc.Service) *SSOHandler {
	return &SSOHandler{SSO: sso}
}

// Login redirects the browser to the provider's consent page.
func (h *SSOHandler) Login(c *gin.Context) {
	out, err := h.SSO.Initiate(c.Request.Context(), c.Param("provider"), c.GetHeader("Referer"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, out.AuthorizationURL)
}

// Callback completes the login. Externally started logins are redirected back with a
// login token; self-started ones receive the provider access token.
func (h *SSOHandler) Callback(c *gin.Context) {
	result, err := h.SSO.HandleCallback(c.Request.Context(), ssosvc.CallbackInput{
		Provider: c.Param("provider"),
		Code:     c.Query("code"),
		State:    c.Query("state"),
		Error:    c.Query("error"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Redirect() {
		c.Redirect(http.StatusFound, result.RedirectURL)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": result.AccessToken})
}
