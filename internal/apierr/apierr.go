// Package apierr defines the error taxonomy shared by the dispatcher, the
// account store, and the request pipeline, along with the HTTP rendering of
// those errors in Anthropic's error envelope shape.
package apierr

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is the "type" field of the Anthropic-style error envelope.
type Kind string

const (
	KindAuthentication  Kind = "authentication_error"
	KindRateLimit       Kind = "rate_limit_error"
	KindOverloaded      Kind = "overloaded_error"
	KindInvalidRequest  Kind = "invalid_request_error"
	KindAPIError        Kind = "api_error"
	KindNotImplemented  Kind = "not_implemented_error"
	KindRequestTooLarge Kind = "invalid_request_error"
	KindTimeout         Kind = "timeout_error"
)

// suggester is implemented by errors that carry a user-facing suggestion.
type suggester interface {
	Suggestion() string
}

// TokenExpiredError means the upstream rejected our access token with 401.
type TokenExpiredError struct{}

func (TokenExpiredError) Error() string        { return "access token expired" }
func (TokenExpiredError) Suggestion() string   { return "Run 'ccrouter login' to re-authenticate" }
func (TokenExpiredError) Kind() Kind           { return KindAuthentication }
func (TokenExpiredError) HTTPStatus() int      { return http.StatusUnauthorized }

// InvalidAPIKeyError means the client's authorization/x-api-key header did
// not match the server's configured key.
type InvalidAPIKeyError struct{}

func (InvalidAPIKeyError) Error() string      { return "invalid or missing API key" }
func (InvalidAPIKeyError) Suggestion() string { return "Check the authorization or x-api-key header" }
func (InvalidAPIKeyError) Kind() Kind         { return KindAuthentication }
func (InvalidAPIKeyError) HTTPStatus() int    { return http.StatusUnauthorized }

// RefreshFailedError means the OAuth token endpoint rejected the refresh
// token. Fatal for the account: the account store should mark it invalid.
type RefreshFailedError struct{ Msg string }

func (e RefreshFailedError) Error() string      { return fmt.Sprintf("token refresh failed: %s", e.Msg) }
func (RefreshFailedError) Suggestion() string   { return "Run 'ccrouter login' to re-authenticate" }
func (RefreshFailedError) Kind() Kind           { return KindAuthentication }
func (RefreshFailedError) HTTPStatus() int      { return http.StatusUnauthorized }

// OAuthFailedError means the interactive browser/PKCE flow failed. The flow
// itself is out of scope for the core; this type exists so other components
// can classify a failure reported by that external collaborator.
type OAuthFailedError struct{ Msg string }

func (e OAuthFailedError) Error() string    { return fmt.Sprintf("OAuth flow failed: %s", e.Msg) }
func (OAuthFailedError) Suggestion() string { return "Check your internet connection and try again" }
func (OAuthFailedError) Kind() Kind         { return KindAuthentication }
func (OAuthFailedError) HTTPStatus() int    { return http.StatusUnauthorized }

// RateLimitedError is a transport-level 429 without a parsable model-specific
// reset hint.
type RateLimitedError struct{ RetryAfter time.Duration }

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited - retry after %s", e.RetryAfter)
}
func (RateLimitedError) Suggestion() string { return "Too many requests, slow down" }
func (RateLimitedError) Kind() Kind         { return KindRateLimit }
func (RateLimitedError) HTTPStatus() int    { return http.StatusTooManyRequests }

// QuotaExhaustedError means the server told us we're out of quota for a
// specific model, with a human-readable reset time.
type QuotaExhaustedError struct {
	Model     string
	ResetTime string
}

func (e QuotaExhaustedError) Error() string {
	return fmt.Sprintf("You have exhausted your capacity on %s. Quota will reset after %s.", e.Model, e.ResetTime)
}
func (QuotaExhaustedError) Suggestion() string {
	return "Wait for quota to reset or try a different model"
}
func (QuotaExhaustedError) Kind() Kind      { return KindRateLimit }
func (QuotaExhaustedError) HTTPStatus() int { return http.StatusTooManyRequests }

// CapacityExhaustedError means the model is overloaded server-side (503).
type CapacityExhaustedError struct{}

func (CapacityExhaustedError) Error() string      { return "model capacity exhausted - try again later" }
func (CapacityExhaustedError) Suggestion() string { return "Model is overloaded, try again in a few minutes" }
func (CapacityExhaustedError) Kind() Kind         { return KindOverloaded }
func (CapacityExhaustedError) HTTPStatus() int    { return http.StatusServiceUnavailable }

// InvalidRequestError is a non-retryable 400 from upstream or a local
// validation failure.
type InvalidRequestError struct{ Message string }

func (e InvalidRequestError) Error() string { return fmt.Sprintf("invalid request: %s", e.Message) }
func (InvalidRequestError) Kind() Kind      { return KindInvalidRequest }
func (InvalidRequestError) HTTPStatus() int { return http.StatusBadRequest }

// ServerError is a 5xx from upstream, retried by the dispatcher and only
// surfaced once every endpoint has failed.
type ServerError struct {
	Status  int
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}
func (ServerError) Kind() Kind      { return KindAPIError }
func (ServerError) HTTPStatus() int { return http.StatusBadGateway }

// RequestTooLargeError is the pre-flight content-length check.
type RequestTooLargeError struct{ Size, Max int64 }

func (e RequestTooLargeError) Error() string {
	return fmt.Sprintf("request body too large: %d bytes (max: %d bytes)", e.Size, e.Max)
}
func (RequestTooLargeError) Kind() Kind      { return KindRequestTooLarge }
func (RequestTooLargeError) HTTPStatus() int { return http.StatusRequestEntityTooLarge }

// TimeoutError covers both per-HTTP-call and per-request timeouts.
type TimeoutError struct{ Duration time.Duration }

func (e TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Duration)
}
func (TimeoutError) Suggestion() string { return "Check your internet connection or try again" }
func (TimeoutError) Kind() Kind         { return KindTimeout }
func (TimeoutError) HTTPStatus() int    { return http.StatusGatewayTimeout }

// HTTPError is a generic transport failure that doesn't fit the taxonomy
// above.
type HTTPError struct{ Msg string }

func (e HTTPError) Error() string   { return fmt.Sprintf("http error: %s", e.Msg) }
func (HTTPError) Kind() Kind        { return KindAPIError }
func (HTTPError) HTTPStatus() int   { return http.StatusBadGateway }

// NotImplementedError backs routes the spec says must always 501.
type NotImplementedError struct{ Message string }

func (e NotImplementedError) Error() string { return e.Message }
func (NotImplementedError) Kind() Kind      { return KindNotImplemented }
func (NotImplementedError) HTTPStatus() int { return http.StatusNotImplemented }

type kinder interface{ Kind() Kind }
type statuser interface{ HTTPStatus() int }

// Suggestion returns the user-facing suggestion attached to selected error
// kinds, or "" if none applies. Mirrors original_source's Error::suggestion.
func Suggestion(err error) string {
	if s, ok := err.(suggester); ok {
		return s.Suggestion()
	}
	return ""
}

// HTTPStatus maps an error to the status code the request pipeline should
// write. Unrecognized errors (Io/Json/etc, per spec.md's error taxonomy)
// map to 500.
func HTTPStatus(err error) int {
	if s, ok := err.(statuser); ok {
		return s.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// KindOf maps an error to its Anthropic-style "type" string.
func KindOf(err error) Kind {
	if k, ok := err.(kinder); ok {
		return k.Kind()
	}
	return KindAPIError
}
