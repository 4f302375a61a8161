package repo

import (
	"context"
	"time"

	"github.com/richardliu001/quickpay/internal/model"
	"gorm.io/gorm"
)

// CreateIntent inserts a new payment intent. A duplicate (merchant, idempotency
// key) surfaces as an error satisfying IsUniqueViolation.
func (r *Repository) CreateIntent(ctx context.Context, tx *gorm.DB, pi *model.PaymentIntent) error {
	return r.conn(ctx, tx).Create(pi).Error
}

// GetIntent loads an intent; merchantID 0 skips the ownership check.
func (r *Repository) GetIntent(ctx context.Context, tx *gorm.DB, id string, merchantID uint64) (*model.PaymentIntent, error) {
	q := r.conn(ctx, tx).Where("id = ?", id)
	if merchantID != 0 {
		q = q.Where("merchant_id = ?", merchantID)
	}
	var pi model.PaymentIntent
	if err := q.First(&pi).Error; err != nil {
		return nil, err
	}
	return &pi, nil
}

// FindIntentByIdempotencyKey returns the intent created under key, if any.
func (r *Repository) FindIntentByIdempotencyKey(ctx context.Context, tx *gorm.DB, merchantID uint64, key string) (*model.PaymentIntent, error) {
	var pi model.PaymentIntent
	if err := r.conn(ctx, tx).
		Where("merchant_id = ? AND idempotency_key = ?", merchantID, key).
		First(&pi).Error; err != nil {
		return nil, err
	}
	return &pi, nil
}

// TransitionIntent is a compare-and-swap on the status column: the row moves
// to `to` only if it is currently `from`. It returns false when the
// precondition no longer holds (or the row does not exist); callers must not
// retry blindly. merchantID 0 skips the ownership predicate.
func (r *Repository) TransitionIntent(ctx context.Context, tx *gorm.DB, id string, merchantID uint64,
	from, to model.PaymentStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	q := r.conn(ctx, tx).Model(&model.PaymentIntent{}).Where("id = ? AND status = ?", id, from)
	if merchantID != 0 {
		q = q.Where("merchant_id = ?", merchantID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStaleProcessing returns intents stuck in processing since before the cutoff.
func (r *Repository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]model.PaymentIntent, error) {
	var rows []model.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.StatusProcessing, before.UTC()).
		Order("updated_at").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
