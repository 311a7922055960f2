package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/svcgw/internal/util"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestConfig_Attempts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      *Config
		expected int
	}{
		{"nil config", nil, DefaultMaxAttempts},
		{"zero means one attempt", &Config{}, 1},
		{"negative means one attempt", &Config{MaxAttempts: -2}, 1},
		{"custom value", &Config{MaxAttempts: 5}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.cfg.Attempts())
		})
	}
}

func TestDo(t *testing.T) {
	t.Parallel()

	retryable := util.NewServerError(503)
	permanent := errors.New("bad request")

	tests := []struct {
		name         string
		maxAttempts  int
		results      []error
		wantErr      error
		wantAttempts int
		wantRetries  int
	}{
		{name: "first attempt succeeds", maxAttempts: 3, results: []error{nil}, wantAttempts: 1},
		{name: "succeeds after retries", maxAttempts: 3, results: []error{retryable, retryable, nil}, wantAttempts: 3, wantRetries: 2},
		{name: "attempts exhausted", maxAttempts: 3, results: []error{retryable, retryable, retryable}, wantErr: retryable, wantAttempts: 3, wantRetries: 2},
		{name: "non-retryable stops", maxAttempts: 3, results: []error{permanent}, wantErr: permanent, wantAttempts: 1},
		{name: "single attempt", maxAttempts: 0, results: []error{retryable}, wantErr: retryable, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			var retries []int
			err := Do(context.Background(), &Config{MaxAttempts: tt.maxAttempts}, func(_ context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				return tt.results[attempt-1]
			}, &Options{
				Operation: "test",
				Sleep:     noSleep,
				OnRetry: func(attempt int, _ error, _ time.Duration) {
					retries = append(retries, attempt)
				},
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, calls)
			assert.Len(t, retries, tt.wantRetries)
		})
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, &Config{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return util.NewServerError(502)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, util.ErrServiceUnavailable)
}

func TestDo_ContextAlreadyDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, nil, func(context.Context, int) error {
		t.Fatal("must not be called")
		return nil
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	initial := 100 * time.Millisecond
	for retry := 0; retry < 4; retry++ {
		base := initial * time.Duration(1<<retry)
		got := CalculateBackoff(retry, initial, time.Minute, 0.25)
		assert.GreaterOrEqual(t, got, base)
		assert.LessOrEqual(t, got, base+base/4)
	}

	assert.Equal(t, time.Second, CalculateBackoff(20, initial, time.Second, 0.5))
	assert.Equal(t, initial, CalculateBackoff(-1, initial, time.Second, 0))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"429", util.NewServerError(429), true},
		{"500", util.NewServerError(500), true},
		{"wrapped 503", fmt.Errorf("call: %w", util.NewServerError(503)), true},
		{"404 is final", util.NewServerError(404), false},
		{"timeout", util.ErrTimeout, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{429, 500, 502, 503, 504, 599} {
		require.True(t, IsRetryableStatus(code), code)
	}
	for _, code := range []int{200, 301, 400, 404, 600} {
		require.False(t, IsRetryableStatus(code), code)
	}
}
