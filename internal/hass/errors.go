package hass

import "fmt"

// TransportError wraps a network-level failure before any HTTP status was
// received.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError represents an unexpected HTTP status, carrying the raw body.
type HTTPError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error: %s (status: %d, endpoint: %s)", e.Body, e.StatusCode, e.Endpoint)
}

// DecodeError represents a response body that could not be decoded into the
// expected payload type. Distinct from HTTPError: the status was correct.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response from %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AuthReason classifies authentication failures.
type AuthReason string

const (
	ReasonInvalidState   AuthReason = "invalid_state"
	ReasonProviderError  AuthReason = "provider_error"
	ReasonNoRefreshToken AuthReason = "no_refresh_token"
	ReasonRefreshFailed  AuthReason = "refresh_failed"
	ReasonMaxRetries     AuthReason = "max_retries"
)

// AuthError represents an authentication failure: a bad OAuth callback, a
// missing refresh token, or a failed token refresh.
type AuthError struct {
	Reason  AuthReason
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication error (%s): %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("authentication error (%s): %s", e.Reason, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }
