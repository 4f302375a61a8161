package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCursorNotFound is returned when a pagination cursor does not name a row
// visible to the caller.
var ErrCursorNotFound = errors.New("cursor not found")

// RepositoryInterface restricts Repo methods so services can be tested against it.
type RepositoryInterface interface {
	Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error

	EnsureWallet(ctx context.Context, tx *gorm.DB, userID uint64) error
	GetWalletByUser(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error)
	GetWalletByUserForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error)
	IncrementBalance(ctx context.Context, tx *gorm.DB, walletID uint64, amount int64) error
	DecrementBalanceIfSufficient(ctx context.Context, tx *gorm.DB, walletID uint64, amount int64) (bool, error)
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error
	ListTransactions(ctx context.Context, walletID uint64, f TxFilter) ([]model.WalletTransaction, bool, error)

	CreateIntent(ctx context.Context, tx *gorm.DB, pi *model.PaymentIntent) error
	GetIntent(ctx context.Context, tx *gorm.DB, id string, merchantID uint64) (*model.PaymentIntent, error)
	FindIntentByIdempotencyKey(ctx context.Context, tx *gorm.DB, merchantID uint64, key string) (*model.PaymentIntent, error)
	TransitionIntent(ctx context.Context, tx *gorm.DB, id string, merchantID uint64, from, to model.PaymentStatus, fields map[string]interface{}) (bool, error)
	ListIntents(ctx context.Context, merchantID uint64, f IntentFilter) ([]model.PaymentIntent, bool, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]model.PaymentIntent, error)

	CreateTransfer(ctx context.Context, tx *gorm.DB, t *model.P2PTransfer) error

	GetUser(ctx context.Context, id uint64) (*model.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*model.User, error)
	GetMerchant(ctx context.Context, id uint64) (*model.Merchant, error)
	GetMerchantByAPIKey(ctx context.Context, apiKey string) (*model.Merchant, error)

	AppendEvent(ctx context.Context, tx *gorm.DB, aggregate, aggregateID, eventType string, payload interface{}) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
}

// Repository implements RepositoryInterface on top of gorm.
type Repository struct {
	db     *gorm.DB
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo. w may be nil for processes that never publish.
func NewRepository(db *gorm.DB, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, writer: w, log: logger}
}

// Atomic runs fn inside one database transaction, committing when fn returns
// nil and rolling back on any error or panic.
func (r *Repository) Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// conn picks the transactional handle when one is supplied.
func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// EnsureWallet inserts an empty wallet for userID unless one exists. It never
// fails on the unique (user_id) constraint, so it is safe inside a transaction
// and under concurrent first-time calls.
func (r *Repository) EnsureWallet(ctx context.Context, tx *gorm.DB, userID uint64) error {
	return r.conn(ctx, tx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&model.Wallet{UserID: userID}).Error
}

// GetWalletByUser reads a wallet without locking.
func (r *Repository) GetWalletByUser(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.conn(ctx, tx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletByUserForUpdate locks wallet row.
func (r *Repository) GetWalletByUserForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// IncrementBalance adds amount to the wallet balance.
func (r *Repository) IncrementBalance(ctx context.Context, tx *gorm.DB, walletID uint64, amount int64) error {
	res := r.conn(ctx, tx).
		Model(&model.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DecrementBalanceIfSufficient subtracts amount only if the balance still
// covers it at the moment of the write. false means the precondition failed.
func (r *Repository) DecrementBalanceIfSufficient(ctx context.Context, tx *gorm.DB, walletID uint64, amount int64) (bool, error) {
	res := r.conn(ctx, tx).
		Model(&model.Wallet{}).
		Where("id = ? AND balance >= ?", walletID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error {
	return r.conn(ctx, tx).Create(t).Error
}

// CreateTransfer inserts a P2P transfer record.
func (r *Repository) CreateTransfer(ctx context.Context, tx *gorm.DB, t *model.P2PTransfer) error {
	return r.conn(ctx, tx).Create(t).Error
}

// IsUniqueViolation reports whether err came from a unique constraint, for
// both postgres and sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
