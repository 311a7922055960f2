package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/vyrodovalexey/svcgw/internal/util"
)

// IsRetryableStatus reports whether a backend status warrants another
// attempt: 429 and every 5xx.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// IsRetryable reports whether err is worth another attempt. Retryable
// backend statuses, timeouts and network failures qualify; cancellation
// by the caller never does.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var se *util.ServerError
	if errors.As(err, &se) {
		return IsRetryableStatus(se.StatusCode)
	}
	return util.IsRetryable(err) || IsNetworkError(err)
}

// IsNetworkError reports whether err comes from the transport rather than
// from a backend response.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
