package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Is(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		target   error
		expected bool
	}{
		{"401 is auth failure", &APIError{Status: 401}, ErrAuthenticationFailed, true},
		{"403 is auth failure", &APIError{Status: 403}, ErrAuthenticationFailed, true},
		{"429 is rate limit", &APIError{Status: 429}, ErrRateLimitExceeded, true},
		{"500 is not rate limit", &APIError{Status: 500}, ErrRateLimitExceeded, false},
		{"insufficient margin message", &APIError{Status: 400, ErrMsg: "Insufficient margin"}, ErrInsufficientFunds, true},
		{"404 order", &APIError{Status: 404, ErrMsg: "Order not found"}, ErrOrderNotFound, true},
		{"404 position", &APIError{Status: 404, ErrMsg: "Position not found"}, ErrPositionNotFound, true},
		{"404 position is not order", &APIError{Status: 404, ErrMsg: "Position not found"}, ErrOrderNotFound, false},
		{"400 order message is not 404", &APIError{Status: 400, ErrMsg: "order invalid"}, ErrOrderNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errors.Is(tt.err, tt.target))
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	e := &APIError{Status: 400, ErrMsg: "bad route"}
	assert.Contains(t, e.Error(), "400")
	assert.Contains(t, e.Error(), "bad route")

	long := make([]byte, 1024)
	for i := range long {
		long[i] = 'x'
	}
	e = &APIError{Status: 500, Body: long}
	assert.Less(t, len(e.Error()), 600)
}

func TestAuthError(t *testing.T) {
	inner := errors.New("bad credentials")
	e := &AuthError{Op: "login", Err: inner}

	assert.True(t, errors.Is(e, ErrAuthenticationFailed))
	assert.ErrorIs(t, e, inner)
	assert.Contains(t, e.Error(), "login")
}

func TestOrderError_Is(t *testing.T) {
	e := &OrderError{ErrMsg: "Insufficient funds for this trade"}
	assert.True(t, errors.Is(e, ErrOrderRejected))
	assert.True(t, errors.Is(e, ErrInsufficientFunds))

	e = &OrderError{ErrMsg: "Market closed"}
	assert.True(t, errors.Is(e, ErrOrderRejected))
	assert.False(t, errors.Is(e, ErrInsufficientFunds))
}

func TestShapeError(t *testing.T) {
	e := &ShapeError{Key: "qty", Context: "orders"}
	assert.Contains(t, e.Error(), "qty")
	assert.Contains(t, e.Error(), "orders")
}
