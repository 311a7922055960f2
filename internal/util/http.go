package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Content types and headers shared by the gateway.
const (
	HeaderContentType   = "Content-Type"
	HeaderRetryAfter    = "Retry-After"
	ContentTypeJSON     = "application/json"
	ContentTypeXML      = "application/xml"
	internalErrorKind   = "internal server error"
	internalErrorDetail = "an unexpected error occurred"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ServerError signals that a backend answered with a retryable status
// (5xx or 429). It is used for retry and circuit breaker accounting.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: status %d", e.StatusCode)
}

func (e *ServerError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// NewServerError creates a new ServerError with the given status code.
func NewServerError(statusCode int) *ServerError {
	return &ServerError{StatusCode: statusCode}
}

// ErrorResponse converts err into the status code and body written to the
// client. Errors outside the taxonomy never leak their text.
func ErrorResponse(err error) (int, ErrorBody) {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), ErrorBody{Error: he.Kind(), Message: he.PublicMessage()}
	}
	if errors.Is(err, ErrTimeout) {
		return http.StatusGatewayTimeout, ErrorBody{Error: "timeout", Message: "upstream timed out"}
	}
	return http.StatusInternalServerError, ErrorBody{Error: internalErrorKind, Message: internalErrorDetail}
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, err error) {
	status, body := ErrorResponse(err)
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		secs := int(rl.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(secs))
	}
	WriteJSON(w, status, body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusCapturingResponseWriter wraps http.ResponseWriter to track the
// status code written by downstream handlers.
type StatusCapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode    int
	BytesWritten  int
	HeaderWritten bool
}

// NewStatusCapturingResponseWriter creates a writer with a default status of 200.
func NewStatusCapturingResponseWriter(w http.ResponseWriter) *StatusCapturingResponseWriter {
	return &StatusCapturingResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

func (w *StatusCapturingResponseWriter) WriteHeader(code int) {
	if w.HeaderWritten {
		return
	}
	w.StatusCode = code
	w.HeaderWritten = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusCapturingResponseWriter) Write(b []byte) (int, error) {
	w.HeaderWritten = true
	n, err := w.ResponseWriter.Write(b)
	w.BytesWritten += n
	return n, err
}

func (w *StatusCapturingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var _ http.Flusher = (*StatusCapturingResponseWriter)(nil)
