package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id":            GetUserID(c),
		"platform_moderator": IsPlatformModerator(c),
	})
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/me", AuthMiddleware(secret), whoami)

	userID := uuid.New()
	token, err := auth.GenerateToken(userID, true, secret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		upgrade bool
		query   string
		want    int
	}{
		{name: "valid", header: "Bearer " + token, want: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + token, want: http.StatusOK},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "query token on upgrade", upgrade: true, query: token, want: http.StatusOK},
		{name: "query token without upgrade", query: token, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.query != "" {
				req.URL.RawQuery = "access_token=" + tt.query
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Contains(t, rec.Body.String(), userID.String())
				assert.Contains(t, rec.Body.String(), `"platform_moderator":true`)
			}
		})
	}
}

func TestContextHelpersWithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, uuid.Nil, GetUserID(c))
	assert.False(t, IsPlatformModerator(c))

	c.Set(ContextKeyUserID, "not-a-uuid")
	assert.Equal(t, uuid.Nil, GetUserID(c))
}

func TestLimiterPerKey(t *testing.T) {
	l := NewLimiter(1, 2)
	now := time.Now()

	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("a", now))
	assert.False(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now))

	assert.True(t, l.Allow("a", now.Add(time.Second)))
	assert.Equal(t, 2, l.Len())

	// Idle buckets are swept.
	assert.True(t, l.Allow("c", now.Add(time.Hour)))
	assert.Equal(t, 1, l.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/me", AuthMiddleware(secret), RateLimit(NewLimiter(0.001, 1)), whoami)

	call := func(userID uuid.UUID) int {
		token, err := auth.GenerateToken(userID, false, secret, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	alice, bob := uuid.New(), uuid.New()
	assert.Equal(t, http.StatusOK, call(alice))
	assert.Equal(t, http.StatusTooManyRequests, call(alice))
	assert.Equal(t, http.StatusOK, call(bob))
}
