package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/richardliu001/quickpay/internal/apperr"
	"github.com/richardliu001/quickpay/internal/cache"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultTxPageSize = 20
	MaxPageSize       = 100
)

// WalletService owns every balance mutation. Other services call the *Tx
// variants with their own transaction so a wallet change commits together
// with the state change that caused it.
type WalletService struct {
	repo  repo.RepositoryInterface
	cache *cache.Cache
	log   *zap.SugaredLogger
}

// NewWalletService returns WalletService. c may be nil.
func NewWalletService(r repo.RepositoryInterface, c *cache.Cache, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, cache: c, log: logger}
}

// TxQuery selects a page of a user's ledger entries.
type TxQuery struct {
	Type          model.TransactionType
	Limit         int
	StartingAfter string
}

// TxPage is one page of ledger entries, newest first.
type TxPage struct {
	Data    []model.WalletTransaction `json:"data"`
	HasMore bool                      `json:"hasMore"`
}

// Summary is a balance with the most recent entries.
type Summary struct {
	Balance            int64                     `json:"balance"`
	RecentTransactions []model.WalletTransaction `json:"recentTransactions"`
}

func positive(amount int64) error {
	if amount <= 0 {
		return apperr.Field("amount", "Amount must be positive")
	}
	return nil
}

// GetOrCreateWallet returns the user's wallet, creating an empty one first if needed.
func (s *WalletService) GetOrCreateWallet(ctx context.Context, userID uint64) (*model.Wallet, error) {
	w, err := s.repo.GetWalletByUser(ctx, nil, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal(fmt.Errorf("load wallet: %w", err))
	}
	// a concurrent first call may win the insert; the re-read below sees its row
	if err := s.repo.EnsureWallet(ctx, nil, userID); err != nil {
		return nil, apperr.Internal(fmt.Errorf("create wallet: %w", err))
	}
	w, err = s.repo.GetWalletByUser(ctx, nil, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("reload wallet: %w", err))
	}
	s.log.Infow("wallet created", "user_id", userID, "wallet_id", w.ID)
	return w, nil
}

// Credit adds money; auto-creates wallet if absent.
func (s *WalletService) Credit(ctx context.Context, userID uint64, amount int64, reference, description string) (*model.Wallet, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	var out *model.Wallet
	err := s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		w, err := s.CreditTx(ctx, tx, userID, amount, reference, description)
		out = w
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Publish(ctx, out)
	return out, nil
}

// Debit subtracts money, failing with InsufficientFunds when the balance cannot cover it.
func (s *WalletService) Debit(ctx context.Context, userID uint64, amount int64, reference, description string) (*model.Wallet, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	var out *model.Wallet
	err := s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		w, err := s.DebitTx(ctx, tx, userID, amount, reference, description)
		out = w
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Publish(ctx, out)
	return out, nil
}

// CreditTx appends a credit entry and increments the balance within tx.
func (s *WalletService) CreditTx(ctx context.Context, tx *gorm.DB, userID uint64, amount int64, reference, description string) (*model.Wallet, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	if err := s.repo.EnsureWallet(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	w, err := s.repo.GetWalletByUserForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if err := s.repo.IncrementBalance(ctx, tx, w.ID, amount); err != nil {
		return nil, fmt.Errorf("increment balance: %w", err)
	}
	if err := s.record(ctx, tx, w, model.TxCredit, amount, w.Balance+amount, reference, description); err != nil {
		return nil, err
	}
	w.Balance += amount
	w.Version++
	return w, nil
}

// DebitTx appends a debit entry and decrements the balance within tx. The
// decrement is conditional on balance >= amount at write time.
func (s *WalletService) DebitTx(ctx context.Context, tx *gorm.DB, userID uint64, amount int64, reference, description string) (*model.Wallet, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	w, err := s.repo.GetWalletByUserForUpdate(ctx, tx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Wallet")
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if w.Balance < amount {
		return nil, apperr.InsufficientFunds(amount, w.Balance)
	}
	ok, err := s.repo.DecrementBalanceIfSufficient(ctx, tx, w.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("decrement balance: %w", err)
	}
	if !ok {
		available := int64(0)
		if cur, err := s.repo.GetWalletByUser(ctx, tx, userID); err == nil {
			available = cur.Balance
		}
		return nil, apperr.InsufficientFunds(amount, available)
	}
	if err := s.record(ctx, tx, w, model.TxDebit, amount, w.Balance-amount, reference, description); err != nil {
		return nil, err
	}
	w.Balance -= amount
	w.Version++
	return w, nil
}

func (s *WalletService) record(ctx context.Context, tx *gorm.DB, w *model.Wallet, typ model.TransactionType,
	amount, after int64, reference, description string) error {
	entry := &model.WalletTransaction{
		ID:            uuid.NewString(),
		WalletID:      w.ID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: w.Balance,
		BalanceAfter:  after,
		Reference:     reference,
		Description:   description,
	}
	if err := s.repo.CreateTransaction(ctx, tx, entry); err != nil {
		return fmt.Errorf("append %s entry: %w", typ, err)
	}
	eventType := model.EventWalletCredited
	if typ == model.TxDebit {
		eventType = model.EventWalletDebited
	}
	payload := map[string]interface{}{
		"walletId":    w.ID,
		"userId":      w.UserID,
		"entryId":     entry.ID,
		"amount":      amount,
		"amountMajor": model.MajorUnits(amount).StringFixed(2),
		"balance":     after,
		"reference":   reference,
	}
	if err := s.repo.AppendEvent(ctx, tx, "Wallet", strconv.FormatUint(w.ID, 10), eventType, payload); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}

// Publish caches the balances of wallets whose mutation has committed. It runs
// detached from ctx so a departed client cannot leave an older entry behind.
func (s *WalletService) Publish(ctx context.Context, wallets ...*model.Wallet) {
	ctx = context.WithoutCancel(ctx)
	for _, w := range wallets {
		if w == nil {
			continue
		}
		if _, err := s.cache.StoreBalance(ctx, w.UserID, w.Version, w.Balance); err != nil {
			s.log.Warnw("balance cache update failed, evicting", "user_id", w.UserID, "error", err)
			if err := s.cache.InvalidateBalance(ctx, w.UserID); err != nil {
				s.log.Errorw("balance cache eviction failed", "user_id", w.UserID, "error", err)
			}
		}
	}
}

// GetBalance returns current wallet balance, 0 when the user has no wallet.
func (s *WalletService) GetBalance(ctx context.Context, userID uint64) (int64, error) {
	bal, err := s.cache.GetCachedBalance(ctx, userID)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.log.Warnw("balance cache read failed", "user_id", userID, "error", err)
	}
	w, err := s.repo.GetWalletByUser(ctx, nil, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("load wallet: %w", err))
	}
	// refused when a mutation committed after our read and cached a newer version
	if _, err := s.cache.StoreBalance(context.WithoutCancel(ctx), userID, w.Version, w.Balance); err != nil {
		s.log.Warnw("balance cache write failed", "user_id", userID, "error", err)
	}
	return w.Balance, nil
}

// GetTransactions returns a page of ledger entries, newest first.
func (s *WalletService) GetTransactions(ctx context.Context, userID uint64, q TxQuery) (*TxPage, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, apperr.Field("type", "Type must be credit or debit")
	}
	if q.Limit == 0 {
		q.Limit = DefaultTxPageSize
	}
	if q.Limit < 1 || q.Limit > MaxPageSize {
		return nil, apperr.Field("limit", fmt.Sprintf("Limit must be between 1 and %d", MaxPageSize))
	}
	w, err := s.repo.GetWalletByUser(ctx, nil, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &TxPage{Data: []model.WalletTransaction{}}, nil
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("load wallet: %w", err))
	}
	rows, more, err := s.repo.ListTransactions(ctx, w.ID, repo.TxFilter{
		Type: q.Type, Limit: q.Limit, StartingAfter: q.StartingAfter,
	})
	if errors.Is(err, repo.ErrCursorNotFound) {
		return nil, apperr.Field("starting_after", "Unknown transaction cursor")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list transactions: %w", err))
	}
	if rows == nil {
		rows = []model.WalletTransaction{}
	}
	return &TxPage{Data: rows, HasMore: more}, nil
}

// GetSummary returns the balance and the n most recent entries.
func (s *WalletService) GetSummary(ctx context.Context, userID uint64, n int) (*Summary, error) {
	page, err := s.GetTransactions(ctx, userID, TxQuery{Limit: n})
	if err != nil {
		return nil, err
	}
	bal, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Summary{Balance: bal, RecentTransactions: page.Data}, nil
}
