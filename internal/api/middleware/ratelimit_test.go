package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/auth"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

const testSecret = "test-secret"

func setupTestEngine(cfg *config.Config) (*gin.Engine, *middleware.RateLimiterMiddleware) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	limiter := middleware.NewRateLimiterMiddleware(cfg)
	r.Use(middleware.OptionalAuthMiddleware(testSecret), limiter.Limit())
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r, limiter
}

func doRequest(r *gin.Engine, token string) int {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_GuestSoftLimit(t *testing.T) {
	cfg := &config.Config{
		RateLimitSoftBucketSize: 2,
		RateLimitSoftRefillRate: 0,
		RateLimitHardBucketSize: 10,
		RateLimitHardRefillRate: 0,
	}
	r, limiter := setupTestEngine(cfg)
	defer limiter.Stop()

	assert.Equal(t, http.StatusOK, doRequest(r, ""))
	assert.Equal(t, http.StatusOK, doRequest(r, ""))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, ""))
}

func TestRateLimiter_AuthenticatedSkipsSoftLimit(t *testing.T) {
	cfg := &config.Config{
		RateLimitSoftBucketSize: 1,
		RateLimitSoftRefillRate: 0,
		RateLimitHardBucketSize: 3,
		RateLimitHardRefillRate: 0,
	}
	r, limiter := setupTestEngine(cfg)
	defer limiter.Stop()

	token, err := auth.GenerateJWT(utils.NewSixID(), false, testSecret, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(r, token), "request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, token))

	// Guests from the same address have their own buckets.
	assert.Equal(t, http.StatusOK, doRequest(r, ""))
}
