package http

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/quickpay/internal/apperr"
	"github.com/richardliu001/quickpay/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	requestIDHeader = "X-Request-ID"
	apiKeyHeader    = "X-API-Key"
	userIDHeader    = "X-User-ID"

	ctxRequestID = "request_id"
	ctxMerchant  = "merchant"
	ctxUserID    = "user_id"
)

// LoggingMiddleware tags every request with an id and logs its outcome.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(ctxRequestID, rid)
		c.Header(requestIDHeader, rid)
		c.Next()
		log.Infow("request",
			"request_id", rid,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key and forgets keys idle for longer than ttl.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(rps, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow reports whether key may proceed and, if not, how long until it may.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.ttl {
		rl.sweep(now)
	}
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	r := v.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (rl *RateLimiter) sweep(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.ttl {
			delete(rl.visitors, k)
		}
	}
	rl.lastSweep = now
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// RateLimitMiddleware limits per merchant once MerchantAuth has resolved one,
// else per client IP. A caller-supplied API key never selects the bucket.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if v, ok := c.Get(ctxMerchant); ok {
			key = "merchant:" + strconv.FormatUint(v.(*model.Merchant).ID, 10)
		}
		ok, wait := rl.Allow(key)
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			abortWithError(c, apperr.RateLimited(secs))
			return
		}
		c.Next()
	}
}

// MerchantFinder resolves an API key to its merchant.
type MerchantFinder interface {
	GetMerchantByAPIKey(ctx context.Context, apiKey string) (*model.Merchant, error)
}

// MerchantAuth requires a known X-API-Key.
func MerchantAuth(finder MerchantFinder, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			abortWithError(c, apperr.InvalidAPIKey())
			return
		}
		m, err := finder.GetMerchantByAPIKey(c.Request.Context(), key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			abortWithError(c, apperr.InvalidAPIKey())
			return
		}
		if err != nil {
			log.Errorw("merchant lookup failed", "error", err)
			abortWithError(c, apperr.Internal(err))
			return
		}
		c.Set(ctxMerchant, m)
		c.Next()
	}
}

// UserAuth trusts the X-User-ID set by the upstream session layer.
func UserAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.GetHeader(userIDHeader), 10, 64)
		if err != nil || id == 0 {
			abortWithError(c, apperr.Unauthorized("Authentication required"))
			return
		}
		c.Set(ctxUserID, id)
		c.Next()
	}
}

func merchantFrom(c *gin.Context) *model.Merchant {
	return c.MustGet(ctxMerchant).(*model.Merchant)
}

func userFrom(c *gin.Context) uint64 {
	return c.GetUint64(ctxUserID)
}
