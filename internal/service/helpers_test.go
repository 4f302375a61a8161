package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/richardliu001/quickpay/internal/bank"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/repo"
	"github.com/richardliu001/quickpay/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeBank struct {
	mu    sync.Mutex
	calls []bank.SubmitRequest
	err   error
	n     atomic.Int32
}

func (f *fakeBank) Submit(_ context.Context, req bank.SubmitRequest) (*bank.Ack, error) {
	f.n.Add(1)
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &bank.Ack{Received: true, PaymentIntentID: req.PaymentIntentID, EstimatedDelayMs: 2000}, nil
}

type fixture struct {
	db        *gorm.DB
	repo      *repo.Repository
	wallets   *WalletService
	payments  *PaymentService
	transfers *TransferService
	bank      *fakeBank
	merchant  *model.Merchant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.NewDB(t))
}

func newFixtureOn(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	r := testutil.NewRepo(t, db)
	log := testutil.Logger(t)
	fb := &fakeBank{}
	wallets := NewWalletService(r, nil, log)
	return &fixture{
		db:      db,
		repo:    r,
		wallets: wallets,
		payments: NewPaymentService(r, wallets, fb, nil, PaymentOptions{
			CallbackURL: "https://pay.example.com/v1/webhooks/bank",
		}, log),
		transfers: NewTransferService(r, wallets, log),
		bank:      fb,
		merchant:  testutil.SeedMerchant(t, db, "sk_test_fixture"),
	}
}

// ledgerBalance recomputes a wallet balance from its entries.
func ledgerBalance(t *testing.T, db *gorm.DB, userID uint64) int64 {
	t.Helper()
	var w model.Wallet
	require.NoError(t, db.Where("user_id = ?", userID).First(&w).Error)
	var entries []model.WalletTransaction
	require.NoError(t, db.Where("wallet_id = ?", w.ID).Find(&entries).Error)
	var sum int64
	for _, e := range entries {
		if e.Type == model.TxCredit {
			sum += e.Amount
		} else {
			sum -= e.Amount
		}
	}
	return sum
}

func requireConsistent(t *testing.T, f *fixture, userID uint64) int64 {
	t.Helper()
	bal, err := f.wallets.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, ledgerBalance(t, f.db, userID), bal)
	return bal
}
