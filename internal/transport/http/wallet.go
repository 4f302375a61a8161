package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/quickpay/internal/apperr"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/service"
	"go.uber.org/zap"
)

const recentTransactions = 5

func RegisterWalletHandlers(g *gin.RouterGroup, svc Services, log *zap.SugaredLogger) {
	g.GET("/wallet", walletHandler(svc.Wallets, log))
	g.GET("/wallet/transactions", transactionsHandler(svc.Wallets, log))
	g.POST("/wallet/add-money", addMoneyHandler(svc.Payments, log))
	g.POST("/transfers", transferHandler(svc.Transfers, log))
	g.GET("/payment-intents/:id", userIntentHandler(svc.Payments, log))
}

func walletHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := svc.GetSummary(c.Request.Context(), userFrom(c), recentTransactions)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"balance":            sum.Balance,
			"balanceFormatted":   model.FormatAmount(sum.Balance, model.DefaultCurrency),
			"recentTransactions": sum.RecentTransactions,
		})
	}
}

func transactionsHandler(svc *service.WalletService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := parseLimit(c)
		if err != nil {
			writeError(c, log, err)
			return
		}
		page, err := svc.GetTransactions(c.Request.Context(), userFrom(c), service.TxQuery{
			Type:          model.TransactionType(c.Query("type")),
			Limit:         limit,
			StartingAfter: c.Query("starting_after"),
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

type transferReq struct {
	To       string      `json:"to"`
	ToUserID uint64      `json:"toUserId"`
	Amount   json.Number `json:"amount"`
}

// decodeAmountBody decodes a JSON body keeping numbers exact.
func decodeAmountBody(c *gin.Context, v interface{}) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apperr.Field("body", "Invalid JSON payload")
	}
	return nil
}

// minorUnits accepts integers only; fractions and exponents are refused.
func minorUnits(n json.Number) (int64, error) {
	amount, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, apperr.Field("amount", "Amount must be a positive integer in minor units")
	}
	return amount, nil
}

func transferHandler(svc *service.TransferService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := decodeAmountBody(c, &req); err != nil {
			writeError(c, log, err)
			return
		}
		amount, err := minorUnits(req.Amount)
		if err != nil {
			writeError(c, log, err)
			return
		}
		t, err := svc.Transfer(c.Request.Context(), service.TransferParams{
			FromUserID: userFrom(c),
			ToUserID:   req.ToUserID,
			ToPhone:    req.To,
			Amount:     amount,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"message":   "Transfer successful",
			"transfer":  t,
			"reference": t.Reference(),
		})
	}
}

type addMoneyReq struct {
	Amount        json.Number `json:"amount"`
	PaymentMethod string      `json:"paymentMethod"`
	Provider      string      `json:"provider"`
}

func addMoneyHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addMoneyReq
		if err := decodeAmountBody(c, &req); err != nil {
			writeError(c, log, err)
			return
		}
		amount, err := minorUnits(req.Amount)
		if err != nil {
			writeError(c, log, err)
			return
		}
		pi, err := svc.AddMoney(c.Request.Context(), userFrom(c), service.AddMoneyParams{
			Amount:   amount,
			Method:   model.PaymentMethod(req.PaymentMethod),
			Provider: req.Provider,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, pi)
	}
}

func userIntentHandler(svc *service.PaymentService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pi, err := svc.GetForUser(c.Request.Context(), c.Param("id"), userFrom(c))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, pi)
	}
}
