package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/svcgw/internal/util"
)

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{name: "none", want: ""},
		{name: "api key header", header: map[string]string{HeaderAPIKey: " k1 "}, want: "k1"},
		{name: "bearer", header: map[string]string{HeaderAuthorization: "Bearer k2"}, want: "k2"},
		{name: "bearer case insensitive", header: map[string]string{HeaderAuthorization: "bearer k3"}, want: "k3"},
		{name: "basic ignored", header: map[string]string{HeaderAuthorization: "Basic abc"}, want: ""},
		{
			name:   "api key wins",
			header: map[string]string{HeaderAPIKey: "k1", HeaderAuthorization: "Bearer k2"},
			want:   "k1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractAPIKey(req))
		})
	}
}

func TestAuthenticator_Valid(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	require.NoError(t, err)

	a := NewAuthenticator([]string{"plain-key", string(hash), ""})
	assert.True(t, a.Enabled())

	assert.True(t, a.Valid("plain-key"))
	assert.True(t, a.Valid("hashed-key"))
	assert.True(t, a.Valid("hashed-key"), "cached verification")
	assert.False(t, a.Valid("other"))
	assert.False(t, a.Valid(""))

	assert.False(t, NewAuthenticator(nil).Enabled())
	assert.False(t, NewAuthenticator(nil).Valid("plain-key"))
}

func TestAuth_Middleware(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]string{"secret"})

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{name: "valid", key: "secret", want: true},
		{name: "invalid", key: "nope", want: false},
		{name: "missing", key: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var fromCtx, fromGin bool
			engine := gin.New()
			engine.Use(Auth(a, nil))
			engine.GET("/", func(c *gin.Context) {
				fromCtx = util.IsAuthenticated(c.Request.Context())
				fromGin = c.GetBool(AuthenticatedKey)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.key != "" {
				req.Header.Set(HeaderAPIKey, tt.key)
			}
			w := serve(engine, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, fromCtx)
			assert.Equal(t, tt.want, fromGin)
		})
	}
}
