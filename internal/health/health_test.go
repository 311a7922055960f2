package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func ok(context.Context) error { return nil }

func fail(context.Context) error { return errors.New("boom") }

func TestHandler_Run(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		checks []*Check
		want   string
	}{
		{name: "no checks", want: StatusOK},
		{name: "all ok", checks: []*Check{NewCheck("a", ok), NewCheck("b", ok)}, want: StatusOK},
		{
			name:   "non-critical failure degrades",
			checks: []*Check{NewCheck("a", ok), NewCheck("b", fail, WithCritical(false))},
			want:   StatusDegraded,
		},
		{
			name:   "critical failure errors",
			checks: []*Check{NewCheck("a", fail), NewCheck("b", fail, WithCritical(false))},
			want:   StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHandler("1.0.0")
			for _, c := range tt.checks {
				h.AddCheck(c)
			}
			report := h.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.checks))
			assert.Equal(t, "1.0.0", report.Version)
		})
	}
}

func TestHandler_RunTimeout(t *testing.T) {
	t.Parallel()

	h := NewHandler("v", WithCheckTimeout(20*time.Millisecond))
	h.AddCheck(NewCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	report := h.Run(context.Background())
	assert.Equal(t, StatusError, report.Status)
	require.Contains(t, report.Checks, "slow")
	assert.Contains(t, report.Checks["slow"].Error, "deadline")
}

func TestHandler_Endpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		check    *Check
		draining bool
		wantCode int
		want     string
	}{
		{name: "live ignores checks", path: "/live", check: NewCheck("db", fail), wantCode: http.StatusOK, want: StatusOK},
		{name: "ready ok", path: "/ready", check: PingCheck("db", pinger{}), wantCode: http.StatusOK, want: StatusOK},
		{
			name: "ready failing", path: "/ready", check: PingCheck("db", pinger{err: errors.New("down")}),
			wantCode: http.StatusServiceUnavailable, want: StatusError,
		},
		{
			name: "ready degraded", path: "/ready", check: NewCheck("redis", fail, WithCritical(false)),
			wantCode: http.StatusOK, want: StatusDegraded,
		},
		{
			name: "ready draining", path: "/ready", check: NewCheck("db", ok), draining: true,
			wantCode: http.StatusServiceUnavailable, want: StatusDraining,
		},
		{name: "health", path: "/health", check: NewCheck("db", ok), wantCode: http.StatusOK, want: StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHandler("1.2.3")
			h.AddCheck(tt.check)
			h.SetDraining(tt.draining)

			engine := gin.New()
			h.RegisterRoutes(engine)

			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body["status"])
			if tt.path == "/health" {
				assert.Contains(t, body, "uptime")
				assert.Equal(t, "1.2.3", body["version"])
			}
		})
	}
}

func TestBackendsCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		services []ServiceHealth
		wantErr  bool
		allDown  bool
	}{
		{name: "empty"},
		{name: "all healthy", services: []ServiceHealth{{Name: "a", Active: true, Healthy: true}}},
		{name: "inactive ignored", services: []ServiceHealth{
			{Name: "a", Active: true, Healthy: true},
			{Name: "b", Active: false, Healthy: false},
		}},
		{name: "partial", wantErr: true, services: []ServiceHealth{
			{Name: "a", Active: true, Healthy: true},
			{Name: "b", Active: true, Healthy: false},
		}},
		{name: "all down", wantErr: true, allDown: true, services: []ServiceHealth{
			{Name: "a", Active: true, Healthy: false},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := BackendsCheck(func() []ServiceHealth { return tt.services })
			assert.False(t, c.Critical)
			err := c.Run(context.Background())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.allDown, errors.Is(err, ErrNoHealthyService))
		})
	}
}
