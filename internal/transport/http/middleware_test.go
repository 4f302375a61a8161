package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestRateLimiter_AllowAndRetryAfter(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	ok, _ = rl.Allow("b")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestRateLimiter_EvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(10, 10, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(2 * time.Minute)
	rl.Allow("c")
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(NewRateLimiter(1, 1, time.Minute)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestLoggingMiddlewareKeepsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(LoggingMiddleware(testutil.Logger(t)))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ctxRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
}

func TestUserAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", UserAuth(), func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": userFrom(c)}) })

	for hdr, code := range map[string]int{"": 401, "abc": 401, "0": 401, "42": 200} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set(userIDHeader, hdr)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, code, w.Code, hdr)
	}
}

type countingFinder struct {
	mu      sync.Mutex
	lookups int
	known   map[string]*model.Merchant
}

func (f *countingFinder) GetMerchantByAPIKey(_ context.Context, key string) (*model.Merchant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if m, ok := f.known[key]; ok {
		return m, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func limitedMerchantRouter(t *testing.T, rl *RateLimiter, finder MerchantFinder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(rl))
	r.GET("/", MerchantAuth(finder, testutil.Logger(t)), RateLimitMiddleware(rl),
		func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRateLimitMiddleware_UnverifiedKeysShareIPBucket(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	finder := &countingFinder{}
	r := limitedMerchantRouter(t, rl, finder)

	var codes []int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(apiKeyHeader, "sk_"+uuid.NewString())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, finder.lookups)
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimitMiddleware_AuthenticatedMerchantBucket(t *testing.T) {
	rl := NewRateLimiter(1, 5, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	finder := &countingFinder{known: map[string]*model.Merchant{"sk_good": {ID: 9}}}
	r := limitedMerchantRouter(t, rl, finder)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(apiKeyHeader, "sk_good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	rl.mu.Lock()
	_, byIP := rl.visitors["ip:192.0.2.1"]
	_, byMerchant := rl.visitors["merchant:9"]
	_, byKey := rl.visitors["sk_good"]
	rl.mu.Unlock()
	assert.True(t, byIP)
	assert.True(t, byMerchant)
	assert.False(t, byKey)
}
