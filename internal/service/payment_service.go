package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/quickpay/internal/apperr"
	"github.com/richardliu001/quickpay/internal/bank"
	"github.com/richardliu001/quickpay/internal/cache"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	MinIntentAmount       = 100
	DefaultIntentPageSize = 10
)

// BankGateway submits a confirmed payment to the external processor.
type BankGateway interface {
	Submit(ctx context.Context, req bank.SubmitRequest) (*bank.Ack, error)
}

// PaymentOptions tunes PaymentService.
type PaymentOptions struct {
	// CallbackURL is handed to the processor on every confirm.
	CallbackURL     string
	IdempotencyTTL  time.Duration
	// TopUpMerchantID owns the intents users create to fund their own wallet.
	TopUpMerchantID uint64
}

// PaymentService drives the payment intent lifecycle.
type PaymentService struct {
	repo    repo.RepositoryInterface
	wallets *WalletService
	bank    BankGateway
	cache   *cache.Cache
	opts    PaymentOptions
	log     *zap.SugaredLogger
}

func NewPaymentService(r repo.RepositoryInterface, wallets *WalletService, gw BankGateway, c *cache.Cache,
	opts PaymentOptions, logger *zap.SugaredLogger) *PaymentService {
	if opts.IdempotencyTTL == 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &PaymentService{repo: r, wallets: wallets, bank: gw, cache: c, opts: opts, log: logger}
}

// CreateParams is a validated create request.
type CreateParams struct {
	Amount         int64
	Currency       string
	Metadata       model.Metadata
	UserID         *uint64
	IdempotencyKey string
}

// IntentPage is one page of a merchant's intents, newest first.
type IntentPage struct {
	Data    []model.PaymentIntent `json:"data"`
	HasMore bool                  `json:"hasMore"`
}

// AddMoneyParams is a user's request to fund their own wallet.
type AddMoneyParams struct {
	Amount   int64
	Method   model.PaymentMethod
	Provider string
}

// SettleRequest is a validated processor callback.
type SettleRequest struct {
	IntentID      string
	Succeeded     bool
	ProcessedAt   time.Time
	BankReference string
	FailureReason string
}

// SettleResult reports what a settlement attempt did. Applied is false for
// unknown intents and for intents that were no longer processing.
type SettleResult struct {
	Intent  *model.PaymentIntent
	Applied bool
}

func statusNames(ss []model.PaymentStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func intentEvent(pi *model.PaymentIntent) map[string]interface{} {
	return map[string]interface{}{
		"id":          pi.ID,
		"merchantId":  pi.MerchantID,
		"userId":      pi.UserID,
		"amount":      pi.Amount,
		"amountMajor": model.MajorUnits(pi.Amount).StringFixed(2),
		"currency":    pi.Currency,
		"status":      pi.Status,
	}
}

// Create inserts a new intent. With an idempotency key, a prior intent for
// the same (merchant, key) is returned unchanged and replayed is true.
func (s *PaymentService) Create(ctx context.Context, merchantID uint64, p CreateParams) (*model.PaymentIntent, bool, error) {
	if p.Amount < MinIntentAmount {
		return nil, false, apperr.Field("amount", fmt.Sprintf("Amount must be at least %d", MinIntentAmount))
	}
	if p.Currency == "" {
		p.Currency = model.DefaultCurrency
	}
	if p.Currency != model.DefaultCurrency {
		return nil, false, apperr.Field("currency", "Only INR is supported")
	}
	if p.Metadata == nil {
		p.Metadata = model.Metadata{}
	}
	if p.UserID != nil {
		if _, err := s.repo.GetUser(ctx, *p.UserID); errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperr.Field("userId", "Unknown user")
		} else if err != nil {
			return nil, false, s.internal(fmt.Errorf("load payer: %w", err), "create payment intent failed", "merchant_id", merchantID)
		}
	}

	if p.IdempotencyKey != "" {
		if pi, ok := s.replay(ctx, merchantID, p.IdempotencyKey); ok {
			return pi, true, nil
		}
	}

	pi := &model.PaymentIntent{
		ID:         model.NewPaymentIntentID(),
		MerchantID: merchantID,
		UserID:     p.UserID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     model.StatusCreated,
		Metadata:   p.Metadata,
	}
	secret, err := model.NewClientSecret(pi.ID)
	if err != nil {
		return nil, false, apperr.Internal(fmt.Errorf("client secret: %w", err))
	}
	pi.ClientSecret = secret
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		pi.IdempotencyKey = &key
	}

	err = s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateIntent(ctx, tx, pi); err != nil {
			return err
		}
		return s.repo.AppendEvent(ctx, tx, "PaymentIntent", pi.ID, model.EventIntentCreated, intentEvent(pi))
	})
	if err != nil && p.IdempotencyKey != "" && repo.IsUniqueViolation(err) {
		// lost the insert race to a concurrent request with the same key
		existing, ferr := s.repo.FindIntentByIdempotencyKey(ctx, nil, merchantID, p.IdempotencyKey)
		if ferr != nil {
			if errors.Is(ferr, gorm.ErrRecordNotFound) {
				return nil, false, apperr.IdempotencyKeyInUse(p.IdempotencyKey)
			}
			return nil, false, apperr.Internal(fmt.Errorf("re-read idempotent intent: %w", ferr))
		}
		s.remember(ctx, merchantID, p.IdempotencyKey, existing.ID)
		return existing, true, nil
	}
	if err != nil {
		s.log.Errorw("create payment intent failed", "merchant_id", merchantID, "error", err)
		return nil, false, apperr.Internal(fmt.Errorf("create intent: %w", err))
	}
	if p.IdempotencyKey != "" {
		s.remember(ctx, merchantID, p.IdempotencyKey, pi.ID)
	}
	s.log.Infow("payment intent created", "intent_id", pi.ID, "merchant_id", merchantID, "amount", pi.Amount)
	return pi, false, nil
}

// replay looks the key up in the cache first and the database second. Any
// infrastructure failure here falls through to the insert, which the unique
// index still guards.
func (s *PaymentService) replay(ctx context.Context, merchantID uint64, key string) (*model.PaymentIntent, bool) {
	id, err := s.cache.LookupIntent(ctx, merchantID, key)
	switch {
	case err == nil:
		pi, gerr := s.repo.GetIntent(ctx, nil, id, merchantID)
		if gerr == nil {
			return pi, true
		}
	case !errors.Is(err, cache.ErrMiss):
		s.log.Warnw("idempotency cache unavailable, falling back to database", "merchant_id", merchantID, "error", err)
	}
	pi, err := s.repo.FindIntentByIdempotencyKey(ctx, nil, merchantID, key)
	if err == nil {
		s.remember(ctx, merchantID, key, pi.ID)
		return pi, true
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnw("idempotency lookup failed, proceeding with create", "merchant_id", merchantID, "error", err)
	}
	return nil, false
}

func (s *PaymentService) remember(ctx context.Context, merchantID uint64, key, intentID string) {
	if err := s.cache.RememberIntent(ctx, merchantID, key, intentID, s.opts.IdempotencyTTL); err != nil {
		s.log.Warnw("idempotency cache write failed", "merchant_id", merchantID, "error", err)
	}
}

// transition performs one compare-and-swap inside tx and records the event.
// A lost swap is reported as InvalidStatus naming the status actually found.
func (s *PaymentService) transition(ctx context.Context, tx *gorm.DB, id string, merchantID uint64,
	from, to model.PaymentStatus, fields map[string]interface{}, event string) (*model.PaymentIntent, error) {
	ok, err := s.repo.TransitionIntent(ctx, tx, id, merchantID, from, to, fields)
	if err != nil {
		return nil, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	pi, err := s.repo.GetIntent(ctx, tx, id, merchantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Payment intent")
	}
	if err != nil {
		return nil, fmt.Errorf("reload intent: %w", err)
	}
	if !ok {
		return nil, apperr.InvalidStatus(string(pi.Status), statusNames(model.SourcesOf(to)))
	}
	if err := s.repo.AppendEvent(ctx, tx, "PaymentIntent", pi.ID, event, intentEvent(pi)); err != nil {
		return nil, fmt.Errorf("append outbox: %w", err)
	}
	return pi, nil
}

func (s *PaymentService) internal(err error, msg string, kv ...interface{}) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	s.log.Errorw(msg, append(kv, "error", err)...)
	return apperr.Internal(err)
}

// Confirm moves a created intent to processing and submits it to the bank.
// The status flip commits before the outbound call; if submission fails the
// intent is failed immediately and returned without error.
func (s *PaymentService) Confirm(ctx context.Context, id string, merchantID uint64, method model.PaymentMethod) (*model.PaymentIntent, error) {
	if !method.Valid() {
		return nil, apperr.Field("paymentMethod", "Payment method must be card, upi or netbanking")
	}
	var pi *model.PaymentIntent
	err := s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		var err error
		pi, err = s.transition(ctx, tx, id, merchantID, model.StatusCreated, model.StatusProcessing,
			map[string]interface{}{"payment_method": method}, model.EventIntentProcessing)
		return err
	})
	if err != nil {
		return nil, s.internal(err, "confirm payment intent failed", "intent_id", id, "merchant_id", merchantID)
	}

	ack, err := s.submit(ctx, pi, method)
	if err == nil {
		s.log.Infow("payment submitted to bank", "intent_id", pi.ID, "estimated_delay_ms", ack.EstimatedDelayMs)
		return pi, nil
	}

	reason := "Bank submission failed: " + err.Error()
	s.log.Warnw("bank submission failed, failing intent", "intent_id", pi.ID, "error", err)
	// the caller may already be gone; the intent must still leave processing
	failed, ferr := s.fail(context.WithoutCancel(ctx), pi.ID, reason, time.Now().UTC())
	if ferr != nil {
		return nil, s.internal(ferr, "failing intent after bank error", "intent_id", pi.ID)
	}
	if failed == nil {
		// a callback or sweep settled it first
		res, err := s.current(ctx, pi.ID)
		if err != nil {
			return nil, err
		}
		return res.Intent, nil
	}
	return failed, nil
}

// AddMoney funds the caller's wallet through the processor: it creates an
// intent payable by userID under the top-up merchant and confirms it. The
// wallet is credited when the bank settles the intent.
func (s *PaymentService) AddMoney(ctx context.Context, userID uint64, p AddMoneyParams) (*model.PaymentIntent, error) {
	if s.opts.TopUpMerchantID == 0 {
		return nil, apperr.Internal(errors.New("wallet top-up merchant not configured"))
	}
	if !p.Method.Valid() {
		return nil, apperr.Field("paymentMethod", "Payment method must be card, upi or netbanking")
	}
	meta := model.Metadata{"purpose": model.PurposeWalletTopUp}
	if p.Provider != "" {
		meta["provider"] = p.Provider
	}
	pi, _, err := s.Create(ctx, s.opts.TopUpMerchantID, CreateParams{
		Amount:   p.Amount,
		Metadata: meta,
		UserID:   &userID,
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("wallet top-up started", "intent_id", pi.ID, "user_id", userID, "amount", pi.Amount)
	return s.Confirm(ctx, pi.ID, s.opts.TopUpMerchantID, p.Method)
}

func (s *PaymentService) submit(ctx context.Context, pi *model.PaymentIntent, method model.PaymentMethod) (*bank.Ack, error) {
	if s.bank == nil {
		return nil, bank.ErrNotConfigured
	}
	return s.bank.Submit(ctx, bank.SubmitRequest{
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Method:          string(method),
		CallbackURL:     s.opts.CallbackURL,
	})
}

// fail moves a processing intent to failed; nil means it was no longer processing.
func (s *PaymentService) fail(ctx context.Context, id, reason string, at time.Time) (*model.PaymentIntent, error) {
	var out *model.PaymentIntent
	err := s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		pi, err := s.transition(ctx, tx, id, 0, model.StatusProcessing, model.StatusFailed,
			map[string]interface{}{"failure_reason": reason, "processed_at": at}, model.EventIntentFailed)
		if errors.Is(err, apperr.ErrInvalidStatus) || errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		out = pi
		return err
	})
	return out, err
}

// Cancel moves a created intent to canceled.
func (s *PaymentService) Cancel(ctx context.Context, id string, merchantID uint64) (*model.PaymentIntent, error) {
	var pi *model.PaymentIntent
	err := s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		var err error
		pi, err = s.transition(ctx, tx, id, merchantID, model.StatusCreated, model.StatusCanceled, nil, model.EventIntentCanceled)
		return err
	})
	if err != nil {
		return nil, s.internal(err, "cancel payment intent failed", "intent_id", id, "merchant_id", merchantID)
	}
	s.log.Infow("payment intent canceled", "intent_id", id)
	return pi, nil
}

// Refund moves a succeeded intent to refunded and takes the amount back from
// the payer's wallet in the same transaction. Any failure rolls both back.
func (s *PaymentService) Refund(ctx context.Context, id string, merchantID uint64) (*model.PaymentIntent, error) {
	var (
		pi    *model.PaymentIntent
		payer *model.Wallet
	)
	err := s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		var err error
		pi, err = s.transition(ctx, tx, id, merchantID, model.StatusSucceeded, model.StatusRefunded, nil, model.EventIntentRefunded)
		if err != nil {
			return err
		}
		if pi.UserID == nil {
			return nil
		}
		if _, err := s.repo.GetWalletByUser(ctx, tx, *pi.UserID); errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		} else if err != nil {
			return fmt.Errorf("load payer wallet: %w", err)
		}
		payer, err = s.wallets.DebitTx(ctx, tx, *pi.UserID, pi.Amount, pi.ID,
			"Refund - "+pi.ID+" ("+model.FormatAmount(pi.Amount, pi.Currency)+")")
		return err
	})
	if err != nil {
		return nil, s.internal(err, "refund payment intent failed", "intent_id", id, "merchant_id", merchantID)
	}
	s.wallets.Publish(ctx, payer)
	s.log.Infow("payment intent refunded", "intent_id", id, "wallet_debited", payer != nil)
	return pi, nil
}

// Settle applies a processor callback. It only acts on processing intents,
// so duplicate or late deliveries are no-ops.
func (s *PaymentService) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	pi, err := s.repo.GetIntent(ctx, nil, req.IntentID, 0)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnw("bank callback for unknown intent", "intent_id", req.IntentID)
		return &SettleResult{}, nil
	}
	if err != nil {
		return nil, s.internal(fmt.Errorf("load intent: %w", err), "settle failed", "intent_id", req.IntentID)
	}
	if pi.Status != model.StatusProcessing {
		s.log.Infow("bank callback ignored", "intent_id", pi.ID, "status", pi.Status)
		return &SettleResult{Intent: pi}, nil
	}

	if !req.Succeeded {
		reason := req.FailureReason
		if reason == "" {
			reason = "Payment failed"
		}
		failed, err := s.fail(ctx, pi.ID, reason, req.ProcessedAt)
		if err != nil {
			return nil, s.internal(err, "settle failed", "intent_id", pi.ID)
		}
		if failed == nil {
			return s.current(ctx, pi.ID)
		}
		s.log.Infow("payment failed", "intent_id", pi.ID, "reason", reason)
		return &SettleResult{Intent: failed, Applied: true}, nil
	}

	var (
		out   *model.PaymentIntent
		payer *model.Wallet
	)
	err = s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = s.transition(ctx, tx, pi.ID, 0, model.StatusProcessing, model.StatusSucceeded,
			map[string]interface{}{"bank_reference": req.BankReference, "processed_at": req.ProcessedAt},
			model.EventIntentSucceeded)
		if err != nil || out.UserID == nil {
			return err
		}
		// the payer is verified at create; a first payment opens their wallet
		payer, err = s.wallets.CreditTx(ctx, tx, *out.UserID, out.Amount, out.ID, "Payment received - "+req.BankReference)
		return err
	})
	if errors.Is(err, apperr.ErrInvalidStatus) {
		// a concurrent delivery won the swap
		return s.current(ctx, pi.ID)
	}
	if err != nil {
		return nil, s.internal(err, "settle failed", "intent_id", pi.ID)
	}
	s.wallets.Publish(ctx, payer)
	s.log.Infow("payment succeeded", "intent_id", out.ID, "bank_reference", req.BankReference, "wallet_credited", payer != nil)
	return &SettleResult{Intent: out, Applied: true}, nil
}

func (s *PaymentService) current(ctx context.Context, id string) (*SettleResult, error) {
	pi, err := s.repo.GetIntent(ctx, nil, id, 0)
	if err != nil {
		return nil, s.internal(fmt.Errorf("reload intent: %w", err), "settle failed", "intent_id", id)
	}
	return &SettleResult{Intent: pi}, nil
}

// ExpireStale fails intents that have waited in processing since before
// cutoff. It returns how many were moved.
func (s *PaymentService) ExpireStale(ctx context.Context, cutoff time.Time, limit int, reason string) (int, error) {
	rows, err := s.repo.ListStaleProcessing(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale intents: %w", err)
	}
	n := 0
	for _, pi := range rows {
		failed, err := s.fail(ctx, pi.ID, reason, time.Now().UTC())
		if err != nil {
			return n, fmt.Errorf("expire %s: %w", pi.ID, err)
		}
		if failed != nil {
			n++
			s.log.Warnw("expired stale processing intent", "intent_id", pi.ID)
		}
	}
	return n, nil
}

// Get returns one of the merchant's intents.
func (s *PaymentService) Get(ctx context.Context, id string, merchantID uint64) (*model.PaymentIntent, error) {
	pi, err := s.repo.GetIntent(ctx, nil, id, merchantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Payment intent")
	}
	if err != nil {
		return nil, s.internal(err, "get payment intent failed", "intent_id", id)
	}
	return pi, nil
}

// GetForCheckout returns an intent and its merchant to anyone holding the client secret.
func (s *PaymentService) GetForCheckout(ctx context.Context, id, clientSecret string) (*model.PaymentIntent, *model.Merchant, error) {
	pi, err := s.repo.GetIntent(ctx, nil, id, 0)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (clientSecret == "" || pi.ClientSecret != clientSecret)) {
		return nil, nil, apperr.NotFound("Payment intent")
	}
	if err != nil {
		return nil, nil, s.internal(err, "checkout lookup failed", "intent_id", id)
	}
	m, err := s.repo.GetMerchant(ctx, pi.MerchantID)
	if err != nil {
		return nil, nil, s.internal(err, "checkout merchant lookup failed", "intent_id", id)
	}
	return pi, m, nil
}

// GetForUser returns an intent paid (or payable) by userID.
func (s *PaymentService) GetForUser(ctx context.Context, id string, userID uint64) (*model.PaymentIntent, error) {
	pi, err := s.repo.GetIntent(ctx, nil, id, 0)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Payment intent")
	}
	if err != nil {
		return nil, s.internal(err, "user payment lookup failed", "intent_id", id)
	}
	if pi.UserID == nil || *pi.UserID != userID {
		return nil, apperr.Forbidden()
	}
	return pi, nil
}

// List returns a page of the merchant's intents ordered created_at DESC, id DESC.
func (s *PaymentService) List(ctx context.Context, merchantID uint64, f repo.IntentFilter) (*IntentPage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Field("status", "Unknown payment status")
	}
	if f.Limit == 0 {
		f.Limit = DefaultIntentPageSize
	}
	if f.Limit < 1 || f.Limit > MaxPageSize {
		return nil, apperr.Field("limit", fmt.Sprintf("Limit must be between 1 and %d", MaxPageSize))
	}
	rows, more, err := s.repo.ListIntents(ctx, merchantID, f)
	if errors.Is(err, repo.ErrCursorNotFound) {
		return nil, apperr.Field("starting_after", "Unknown payment intent cursor")
	}
	if err != nil {
		return nil, s.internal(err, "list payment intents failed", "merchant_id", merchantID)
	}
	if rows == nil {
		rows = []model.PaymentIntent{}
	}
	return &IntentPage{Data: rows, HasMore: more}, nil
}
