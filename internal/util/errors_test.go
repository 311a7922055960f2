package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode_Taxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"route not found", NewRouteNotFoundError("GET", "/x"), ErrNotFound, http.StatusNotFound},
		{"service unavailable", NewServiceUnavailableError("users", "no healthy instance", nil), ErrServiceUnavailable, http.StatusServiceUnavailable},
		{"circuit open", NewCircuitOpenError("users", "open"), ErrCircuitOpen, http.StatusServiceUnavailable},
		{"transformation", NewTransformationError("json", errors.New("bad")), ErrTransformation, http.StatusInternalServerError},
		{"aggregation", NewAggregationError("dash", "timed out", nil), ErrAggregation, http.StatusInternalServerError},
		{"auth required", NewAuthenticationRequiredError("r1"), ErrAuthRequired, http.StatusUnauthorized},
		{"rate limited", NewRateLimitError(10, time.Second), ErrRateLimited, http.StatusTooManyRequests},
		{"config", NewConfigError("routes[0]", "duplicate"), ErrConfigInvalid, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wrapped := fmt.Errorf("handling request: %w", tt.err)
			assert.Equal(t, tt.status, StatusCode(wrapped))
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestStatusCode_Unknown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("boom")))
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(fmt.Errorf("call: %w", ErrTimeout)))
}

func TestServiceUnavailableError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewServiceUnavailableError("users", "backend failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotContains(t, err.PublicMessage(), "connection refused")
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("dial tcp 10.0.0.1:5432: secret detail"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get(HeaderContentType))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body.Error)
	assert.NotContains(t, body.Message, "secret")
}

func TestWriteError_RateLimitSetsRetryAfter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, NewRateLimitError(5, 1500*time.Millisecond))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderRetryAfter))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body.Error)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(NewServerError(502)))
	assert.True(t, IsRetryable(fmt.Errorf("x: %w", ErrTimeout)))
	assert.False(t, IsRetryable(NewRouteNotFoundError("GET", "/")))
}

func TestStatusCapturingResponseWriter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewStatusCapturingResponseWriter(rec)

	w.WriteHeader(http.StatusAccepted)
	w.WriteHeader(http.StatusTeapot)
	n, err := w.Write([]byte("ok"))
	require.NoError(t, err)
	w.Flush()

	assert.Equal(t, 2, n)
	assert.Equal(t, http.StatusAccepted, w.StatusCode)
	assert.Equal(t, 2, w.BytesWritten)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
