// Package apperrors defines the error taxonomy shared by the TradeLocker client.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Standardized broker errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrPositionNotFound      = errors.New("position not found")
	ErrInstrumentNotFound    = errors.New("instrument not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrSessionExpired        = errors.New("session expired")
)

// APIError is returned for any non-2xx broker response, and for 200 responses
// whose envelope status is "error". ErrMsg carries the broker's message when
// one was present in the body.
type APIError struct {
	Status int
	ErrMsg string
	Body   []byte
}

func (e *APIError) Error() string {
	if e.ErrMsg != "" {
		return fmt.Sprintf("api error: status=%d errmsg=%q", e.Status, e.ErrMsg)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.Status, truncate(e.Body, 512))
}

// Is maps broker responses onto the sentinel errors above so callers can use
// errors.Is without string matching.
func (e *APIError) Is(target error) bool {
	msg := strings.ToLower(e.ErrMsg)
	switch target {
	case ErrAuthenticationFailed:
		return e.Status == 401 || e.Status == 403
	case ErrRateLimitExceeded:
		return e.Status == 429
	case ErrInsufficientFunds:
		return strings.Contains(msg, "insufficient")
	case ErrOrderNotFound:
		return e.Status == 404 && strings.Contains(msg, "order")
	case ErrPositionNotFound:
		return e.Status == 404 && strings.Contains(msg, "position")
	}
	return false
}

// AuthError is returned when authentication cannot be established or
// recovered: bad credentials, an expired refresh token with no credentials to
// fall back on, or a failed token refresh.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// OrderError is returned when the broker accepts the HTTP request but rejects
// the order itself (for example insufficient margin). ErrMsg holds the
// rejection reason reported by the broker.
type OrderError struct {
	ErrMsg   string
	Response []byte
}

func (e *OrderError) Error() string {
	if e.ErrMsg != "" {
		return "order rejected: " + e.ErrMsg
	}
	return fmt.Sprintf("order rejected: %s", truncate(e.Response, 512))
}

func (e *OrderError) Is(target error) bool {
	if target == ErrOrderRejected {
		return true
	}
	return target == ErrInsufficientFunds &&
		strings.Contains(strings.ToLower(e.ErrMsg), "insufficient")
}

// ShapeError is returned by the response mapper when a payload omits a field
// or column the broker's own configuration says should be there.
type ShapeError struct {
	Key     string
	Context string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("response shape: missing %q in %s", e.Key, e.Context)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
