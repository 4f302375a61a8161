package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/quickpay/internal/model"
	"gorm.io/gorm"
)

// TxFilter selects a page of wallet transactions.
type TxFilter struct {
	Type          model.TransactionType
	Limit         int
	StartingAfter string
}

// IntentFilter selects a page of payment intents.
type IntentFilter struct {
	Status        model.PaymentStatus
	CreatedGTE    *time.Time
	CreatedLTE    *time.Time
	Limit         int
	StartingAfter string
}

// keyset restricts q to rows strictly after the cursor in
// (created_at DESC, id DESC) order.
func keyset(q *gorm.DB, createdAt time.Time, id string) *gorm.DB {
	return q.Where("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
}

// ListTransactions returns a page newest-first and whether more rows follow.
func (r *Repository) ListTransactions(ctx context.Context, walletID uint64, f TxFilter) ([]model.WalletTransaction, bool, error) {
	q := r.db.WithContext(ctx).Where("wallet_id = ?", walletID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.StartingAfter != "" {
		var cur model.WalletTransaction
		err := r.db.WithContext(ctx).
			Where("id = ? AND wallet_id = ?", f.StartingAfter, walletID).
			First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrCursorNotFound
		}
		if err != nil {
			return nil, false, err
		}
		q = keyset(q, cur.CreatedAt, cur.ID)
	}
	var rows []model.WalletTransaction
	if err := q.Order("created_at DESC").Order("id DESC").Limit(f.Limit + 1).Find(&rows).Error; err != nil {
		return nil, false, err
	}
	if len(rows) > f.Limit {
		return rows[:f.Limit], true, nil
	}
	return rows, false, nil
}

// ListIntents returns a merchant's intents newest-first and whether more rows follow.
func (r *Repository) ListIntents(ctx context.Context, merchantID uint64, f IntentFilter) ([]model.PaymentIntent, bool, error) {
	q := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CreatedGTE != nil {
		q = q.Where("created_at >= ?", f.CreatedGTE.UTC())
	}
	if f.CreatedLTE != nil {
		q = q.Where("created_at <= ?", f.CreatedLTE.UTC())
	}
	if f.StartingAfter != "" {
		var cur model.PaymentIntent
		err := r.db.WithContext(ctx).
			Where("id = ? AND merchant_id = ?", f.StartingAfter, merchantID).
			First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrCursorNotFound
		}
		if err != nil {
			return nil, false, err
		}
		q = keyset(q, cur.CreatedAt, cur.ID)
	}
	var rows []model.PaymentIntent
	if err := q.Order("created_at DESC").Order("id DESC").Limit(f.Limit + 1).Find(&rows).Error; err != nil {
		return nil, false, err
	}
	if len(rows) > f.Limit {
		return rows[:f.Limit], true, nil
	}
	return rows, false, nil
}
