package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/quickpay/internal/apperr"
	"github.com/richardliu001/quickpay/internal/bank"
	"github.com/richardliu001/quickpay/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

func RegisterWebhookHandlers(g *gin.RouterGroup, svc *service.PaymentService, secret string, log *zap.SugaredLogger) {
	g.POST("/webhooks/bank", bankWebhookHandler(svc, secret, log))
}

// bankWebhookHandler settles an intent from a processor callback. Unknown and
// already-settled intents are acknowledged so the processor stops retrying.
func bankWebhookHandler(svc *service.PaymentService, secret string, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			writeError(c, log, apperr.Field("body", "Unreadable body"))
			return
		}
		if secret != "" && !bank.VerifySignature(secret, body, c.GetHeader(bank.SignatureHeader)) {
			log.Warnw("bank callback with bad signature", "client_ip", c.ClientIP())
			writeError(c, log, apperr.Unauthorized("Invalid webhook signature"))
			return
		}

		var cb bank.Callback
		if err := json.Unmarshal(body, &cb); err != nil {
			writeError(c, log, apperr.Field("body", "Invalid JSON payload"))
			return
		}
		processedAt, problems := cb.Validate()
		if len(problems) > 0 {
			writeError(c, log, apperr.Validation(problems))
			return
		}

		res, err := svc.Settle(c.Request.Context(), service.SettleRequest{
			IntentID:      cb.PaymentIntentID,
			Succeeded:     cb.Status == bank.StatusSucceeded,
			ProcessedAt:   processedAt,
			BankReference: cb.BankReference,
			FailureReason: cb.FailureReason,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		resp := gin.H{"received": true, "paymentIntentId": cb.PaymentIntentID}
		switch {
		case res.Applied:
			resp["newStatus"] = res.Intent.Status
		case res.Intent == nil:
			resp["message"] = "Payment intent not found"
		default:
			resp["newStatus"] = res.Intent.Status
			resp["message"] = "Payment already processed"
		}
		c.JSON(http.StatusOK, resp)
	}
}
