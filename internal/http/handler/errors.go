package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainsso "github.com/fluid-project/personal-data-server/internal/domain/sso"
)

const (
	msgLoginRequired     = "Please login first."
	msgInvalidLoginToken = "Invalid login token. Please login."
	msgMissingCode       = "Request missing authorization code"
	msgMissingState      = "Request missing state"
	msgStateMismatch     = "Mismatched anti-forgery parameter"
	msgInvalidPrefs      = "Cannot save the incoming preferences."
	msgTooLarge          = "request entity too large"
	msgInternal          = "Internal server error."
)

// maxProviderDetail caps how much of a provider response is echoed to the client.
const maxProviderDetail = 256

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"isError": true, "message": message})
}

// respondError maps service errors to the JSON error body.
func respondError(c *gin.Context, err error) {
	logger := zap.L()
	var providerErr *domainsso.ProviderError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		logger.Warn("request body too large", zap.Int64("limit", maxBytesErr.Limit))
		respondMessage(c, http.StatusRequestEntityTooLarge, msgTooLarge)
	case errors.Is(err, domainsso.ErrLoginRequired):
		respondMessage(c, http.StatusForbidden, msgLoginRequired)
	case errors.Is(err, domainsso.ErrInvalidLoginToken):
		respondMessage(c, http.StatusForbidden, msgInvalidLoginToken)
	case errors.Is(err, domainsso.ErrInvalidPreferences):
		respondMessage(c, http.StatusForbidden, msgInvalidPrefs)
	case errors.Is(err, domainsso.ErrMissingAuthorizationCode):
		respondMessage(c, http.StatusForbidden, msgMissingCode)
	case errors.Is(err, domainsso.ErrMissingState):
		respondMessage(c, http.StatusForbidden, msgMissingState)
	case errors.Is(err, domainsso.ErrStateMismatch):
		respondMessage(c, http.StatusForbidden, msgStateMismatch)
	case errors.Is(err, domainsso.ErrProviderNotFound):
		logger.Warn("sso provider not configured", zap.Error(err))
		respondMessage(c, http.StatusForbidden, "Unknown or unconfigured SSO provider.")
	case errors.As(err, &providerErr):
		logger.Warn("sso provider failure", zap.Error(err))
		respondMessage(c, http.StatusForbidden, providerMessage(providerErr))
	default:
		logger.Error("request failed", zap.Error(err))
		respondMessage(c, http.StatusInternalServerError, msgInternal)
	}
}

func providerMessage(err *domainsso.ProviderError) string {
	switch {
	case errors.Is(err, domainsso.ErrProviderDenied):
		return err.Error()
	case errors.Is(err, domainsso.ErrProviderExchangeFailed):
		return withProviderDetail("Error at exchanging the authorization code for an access token", err)
	case errors.Is(err, domainsso.ErrProviderProfileFailed):
		return withProviderDetail("Error at fetching the user profile", err)
	case errors.Is(err, domainsso.ErrProviderUnreachable):
		return "Cannot reach the SSO provider. Please try again later."
	default:
		return "SSO provider error."
	}
}

func withProviderDetail(prefix string, err *domainsso.ProviderError) string {
	body := err.Body
	if len(body) > maxProviderDetail {
		body = body[:maxProviderDetail] + "..."
	}
	return fmt.Sprintf("%s. Status: %d. Message: %s", prefix, err.Status, body)
}
