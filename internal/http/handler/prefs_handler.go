package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluid-project/personal-data-server/internal/http/middleware"
	prefssvc "github.com/fluid-project/personal-data-server/internal/service/prefs"
)

// PrefsHandler reads and writes preferences on behalf of a login token.
type PrefsHandler struct {
	Prefs prefssvc.Service
}

// NewPrefsHandler creates the preferences handler.
func NewPrefsHandler(prefs prefssvc.Service) *PrefsHandler {
	return &PrefsHandler{Prefs: prefs}
}

// GetPrefs returns the stored preferences document.
func (h *PrefsHandler) GetPrefs(c *gin.Context) {
	prefs, err := h.Prefs.GetPreferences(c.Request.Context(), middleware.LoginToken(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", prefs)
}

// SavePrefs replaces the preferences document with the request body.
func (h *PrefsHandler) SavePrefs(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.Prefs.SavePreferences(c.Request.Context(), middleware.LoginToken(c), json.RawMessage(body)); err != nil {
		respondError(c, err)
		return
	}
	c.String(http.StatusOK, "Saved successfully.")
}
