package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/quickpay/internal/config"
	"github.com/richardliu001/quickpay/internal/service"
	"go.uber.org/zap"
)

// Services bundles what the handlers call into.
type Services struct {
	Payments  *service.PaymentService
	Wallets   *service.WalletService
	Transfers *service.TransferService
	Merchants MerchantFinder
}

// Options carries the transport-level settings.
type Options struct {
	RateLimit     config.RateLimitConfig
	WebhookSecret string
}

func NewRouter(svc Services, opts Options, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "quickpay"})
	})

	v1 := r.Group("/v1")
	// the processor is not rate limited; dropping a callback would strand the intent
	RegisterWebhookHandlers(v1, svc.Payments, opts.WebhookSecret, log)

	rl := NewRateLimiter(opts.RateLimit.RPS, opts.RateLimit.Burst, opts.RateLimit.IdleTTL)
	limited := v1.Group("")
	// per IP before authentication, so unknown keys cannot buy fresh buckets
	limited.Use(RateLimitMiddleware(rl))
	RegisterCheckoutHandlers(limited, svc.Payments, log)
	RegisterIntentHandlers(limited.Group("", MerchantAuth(svc.Merchants, log), RateLimitMiddleware(rl)), svc.Payments, log)
	RegisterWalletHandlers(limited.Group("/me", UserAuth()), svc, log)
	return r
}
