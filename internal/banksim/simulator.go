// Package banksim is a stand-in for the external payment processor. It
// acknowledges submissions at once and reports the outcome later through the
// caller's callback URL.
package banksim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/richardliu001/quickpay/internal/bank"
	"go.uber.org/zap"
)

var failureReasons = []string{
	"Insufficient funds",
	"Card declined by issuer",
	"Transaction timeout",
	"Invalid card details",
	"Bank server unavailable",
	"Daily transaction limit exceeded",
	"Suspected fraud - transaction blocked",
}

type Config struct {
	SuccessRate     float64
	MinDelay        time.Duration
	MaxDelay        time.Duration
	CallbackTimeout time.Duration
	// Secret signs callbacks when set.
	Secret string
	Policy bank.CallbackPolicy
}

// Simulator serves the processor protocol.
type Simulator struct {
	cfg    Config
	client *http.Client
	log    *zap.SugaredLogger

	mu  sync.Mutex
	rng *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log *zap.SugaredLogger) *Simulator {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		cfg:    cfg,
		client: &http.Client{
			Timeout: cfg.CallbackTimeout,
			// only the validated callback URL may be called; a redirect is a failed delivery
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		log:    log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewBankReference returns a sortable, unique settlement reference.
func NewBankReference() string {
	return "BANK-" + ulid.Make().String()
}

func (s *Simulator) delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := int64(s.cfg.MaxDelay-s.cfg.MinDelay) / int64(time.Millisecond)
	if span <= 0 {
		return s.cfg.MinDelay
	}
	return s.cfg.MinDelay + time.Duration(s.rng.Int63n(span+1))*time.Millisecond
}

// outcome decides the result of one payment.
func (s *Simulator) outcome() bank.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() < s.cfg.SuccessRate {
		return bank.Callback{Status: bank.StatusSucceeded, BankReference: NewBankReference()}
	}
	return bank.Callback{Status: bank.StatusFailed, FailureReason: failureReasons[s.rng.Intn(len(failureReasons))]}
}

// Router exposes POST /process, GET /health and GET /.
func (s *Simulator) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Bank Simulator Service",
			"endpoints": gin.H{
				"health":  "GET /health",
				"process": "POST /process",
			},
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "bank-simulator",
			"config": gin.H{
				"successRate": s.cfg.SuccessRate,
				"minDelayMs":  s.cfg.MinDelay.Milliseconds(),
				"maxDelayMs":  s.cfg.MaxDelay.Milliseconds(),
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	r.POST("/process", s.process)
	return r
}

type processReq struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
	Amount          int64  `json:"amount" binding:"required,gt=0"`
	Method          string `json:"method" binding:"required,oneof=card upi netbanking"`
	CallbackURL     string `json:"callbackUrl" binding:"required"`
}

func (s *Simulator) process(c *gin.Context) {
	var req processReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid fields: paymentIntentId, amount, method, callbackUrl"})
		return
	}
	if _, err := s.cfg.Policy.ValidateCallbackURL(req.CallbackURL); err != nil {
		s.log.Warnw("rejected callback url", "intent_id", req.PaymentIntentID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid callback URL", "reason": err.Error()})
		return
	}

	d := s.delay()
	s.log.Infow("processing payment", "intent_id", req.PaymentIntentID, "amount", req.Amount,
		"method", req.Method, "delay", d)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.settleAfter(req, d)
	}()

	c.JSON(http.StatusOK, bank.Ack{
		Received:         true,
		PaymentIntentID:  req.PaymentIntentID,
		EstimatedDelayMs: d.Milliseconds(),
		Message:          "Payment is being processed",
	})
}

func (s *Simulator) settleAfter(req processReq, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		s.log.Warnw("simulator stopping, callback dropped", "intent_id", req.PaymentIntentID)
		return
	case <-t.C:
	}

	cb := s.outcome()
	cb.PaymentIntentID = req.PaymentIntentID
	cb.ProcessedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.deliver(req.CallbackURL, cb); err != nil {
		s.log.Errorw("callback delivery failed", "intent_id", req.PaymentIntentID, "error", err)
		return
	}
	s.log.Infow("callback delivered", "intent_id", req.PaymentIntentID, "status", cb.Status)
}

func (s *Simulator) deliver(url string, cb bank.Callback) error {
	body, err := json.Marshal(cb)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(bank.SimulatorHeader, "true")
	if s.cfg.Secret != "" {
		req.Header.Set(bank.SignatureHeader, bank.Sign(s.cfg.Secret, body))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}

// Close drops pending callbacks and waits for in-flight ones to return.
func (s *Simulator) Close() {
	s.cancel()
	s.wg.Wait()
}
