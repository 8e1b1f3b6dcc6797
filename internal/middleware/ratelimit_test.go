package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitRejectsAboveLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimit(3, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitWindowResets(t *testing.T) {
	rl := newRateLimiter(1, 10*time.Millisecond)
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.allow("1.2.3.4"))
}

func TestRateLimitIsPerClient(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	assert.True(t, rl.allow("1.1.1.1"))
	assert.True(t, rl.allow("2.2.2.2"))
	assert.False(t, rl.allow("1.1.1.1"))
}
