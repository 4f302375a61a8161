package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/quickpay/internal/apperr"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/repo"
	"github.com/richardliu001/quickpay/internal/service"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotency-Replayed"
)

func RegisterIntentHandlers(g *gin.RouterGroup, svc *service.PaymentService, log *zap.SugaredLogger) {
	pi := g.Group("/payment-intents")
	{
		pi.POST("", createIntentHandler(svc, log))
		pi.GET("", listIntentsHandler(svc, log))
		pi.GET("/:id", getIntentHandler(svc, log))
		pi.POST("/:id/confirm", confirmIntentHandler(svc, log))
		pi.POST("/:id/cancel", cancelIntentHandler(svc, log))
		pi.POST("/:id/refund", refundIntentHandler(svc, log))
	}
}

func RegisterCheckoutHandlers(g *gin.RouterGroup, svc *service.PaymentService, log *zap.SugaredLogger) {
	g.GET("/checkout/:id", checkoutHandler(svc, log))
}

type createIntentReq struct {
	Amount   *int64                 `json:"amount" binding:"required"`
	Currency string                 `json:"currency"`
	Metadata map[string]interface{} `json:"metadata"`
	UserID   *uint64                `json:"userId"`
}

// intentResponse marks bodies served from an earlier create.
type intentResponse struct {
	*model.PaymentIntent
	Cached bool `json:"cached,omitempty"`
}

func createIntentHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if raw := c.GetHeader(idempotencyHeader); raw != "" {
			k, err := service.ParseIdempotencyKey(raw)
			if err != nil {
				writeError(c, log, err)
				return
			}
			key = k
		}
		var req createIntentReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, log, apperr.Field("amount", "Amount is required and must be an integer in minor units"))
			return
		}
		pi, replayed, err := svc.Create(c.Request.Context(), merchantFrom(c).ID, service.CreateParams{
			Amount:         *req.Amount,
			Currency:       req.Currency,
			Metadata:       req.Metadata,
			UserID:         req.UserID,
			IdempotencyKey: key,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		if replayed {
			c.Header(replayedHeader, "true")
			c.JSON(http.StatusOK, intentResponse{PaymentIntent: pi, Cached: true})
			return
		}
		c.JSON(http.StatusCreated, intentResponse{PaymentIntent: pi})
	}
}

func parseTime(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Field(name, "Must be an RFC3339 timestamp")
	}
	return &t, nil
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.Field("limit", "Limit must be a positive integer")
	}
	return n, nil
}

func listIntentsHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := repo.IntentFilter{
			Status:        model.PaymentStatus(c.Query("status")),
			StartingAfter: c.Query("starting_after"),
		}
		var err error
		if f.Limit, err = parseLimit(c); err != nil {
			writeError(c, log, err)
			return
		}
		if f.CreatedGTE, err = parseTime(c, "created_gte"); err != nil {
			writeError(c, log, err)
			return
		}
		if f.CreatedLTE, err = parseTime(c, "created_lte"); err != nil {
			writeError(c, log, err)
			return
		}
		page, err := svc.List(c.Request.Context(), merchantFrom(c).ID, f)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func getIntentHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pi, err := svc.Get(c.Request.Context(), c.Param("id"), merchantFrom(c).ID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, pi)
	}
}

type confirmReq struct {
	PaymentMethod model.PaymentMethod `json:"paymentMethod" binding:"required"`
}

func confirmIntentHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req confirmReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, log, apperr.Field("paymentMethod", "Payment method is required"))
			return
		}
		pi, err := svc.Confirm(c.Request.Context(), c.Param("id"), merchantFrom(c).ID, req.PaymentMethod)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, pi)
	}
}

func cancelIntentHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pi, err := svc.Cancel(c.Request.Context(), c.Param("id"), merchantFrom(c).ID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, pi)
	}
}

func refundIntentHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pi, err := svc.Refund(c.Request.Context(), c.Param("id"), merchantFrom(c).ID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, pi)
	}
}

func checkoutHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pi, m, err := svc.GetForCheckout(c.Request.Context(), c.Param("id"), c.Query("client_secret"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"paymentIntent": pi,
			"merchant":      gin.H{"name": m.Name},
		})
	}
}
