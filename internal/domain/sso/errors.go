package sso

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderNotFound signals a provider without credentials or endpoints.
	ErrProviderNotFound = errors.New("sso: provider not found")
	// ErrProviderDenied is returned when the provider redirects back with an error.
	ErrProviderDenied = errors.New("sso: provider denied the request")
	// ErrMissingAuthorizationCode indicates a callback without code.
	ErrMissingAuthorizationCode = errors.New("sso: missing authorization code")
	// ErrMissingState indicates a callback without state.
	ErrMissingState = errors.New("sso: missing state")
	// ErrStateMismatch is the anti-forgery failure.
	ErrStateMismatch = errors.New("sso: mismatched anti-forgery parameter")
	// ErrProviderExchangeFailed indicates a non-200 token endpoint response.
	ErrProviderExchangeFailed = errors.New("sso: token exchange failed")
	// ErrProviderProfileFailed indicates a non-200 userinfo response.
	ErrProviderProfileFailed = errors.New("sso: profile fetch failed")
	// ErrProviderUnreachable indicates the provider could not be reached or answered unreadably.
	ErrProviderUnreachable = errors.New("sso: provider unreachable")
	// ErrLoginRequired indicates a preferences request without a bearer token.
	ErrLoginRequired = errors.New("prefs: login required")
	// ErrInvalidLoginToken indicates an unknown or expired login token.
	ErrInvalidLoginToken = errors.New("prefs: invalid login token")
	// ErrInvalidPreferences indicates a save body that is not a JSON object.
	ErrInvalidPreferences = errors.New("prefs: preferences must be a JSON object")
)

// ProviderError carries the provider's own status and message back to the caller.
type ProviderError struct {
	Kind   error
	Status int
	Body   string
	Detail string
}

func (e *ProviderError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrProviderDenied):
		return "The user does not approve the request. Error: " + e.Detail
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

func (e *ProviderError) Unwrap() error { return e.Kind }
