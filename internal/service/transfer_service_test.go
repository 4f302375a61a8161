package service

import (
	"context"
	"sync"
	"testing"

	"github.com/richardliu001/quickpay/internal/apperr"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockOrder(t *testing.T) {
	a, b := lockOrder(9, 3)
	assert.Equal(t, []uint64{3, 9}, []uint64{a, b})
	a, b = lockOrder(3, 9)
	assert.Equal(t, []uint64{3, 9}, []uint64{a, b})
}

func TestTransferService_Transfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.SeedUser(t, f.db, "9100000001")
	b := testutil.SeedUser(t, f.db, "9100000002")
	_, err := f.wallets.Credit(ctx, a.ID, 100000, "seed", "")
	require.NoError(t, err)

	tr, err := f.transfers.Transfer(ctx, TransferParams{FromUserID: a.ID, ToPhone: b.Phone, Amount: 10000})
	require.NoError(t, err)
	assert.Equal(t, a.ID, tr.FromUserID)
	assert.Equal(t, b.ID, tr.ToUserID)

	assert.Equal(t, int64(90000), requireConsistent(t, f, a.ID))
	assert.Equal(t, int64(10000), requireConsistent(t, f, b.ID))

	var transfers int64
	require.NoError(t, f.db.Model(&model.P2PTransfer{}).Count(&transfers).Error)
	assert.Equal(t, int64(1), transfers)

	var legs []model.WalletTransaction
	require.NoError(t, f.db.Where("reference = ?", tr.Reference()).Order("type").Find(&legs).Error)
	require.Len(t, legs, 2)
	assert.Equal(t, model.TxCredit, legs[0].Type)
	assert.Equal(t, model.TxDebit, legs[1].Type)
	assert.Equal(t, "p2p_", tr.Reference()[:4])
}

func TestTransferService_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.SeedUser(t, f.db, "9100000011")
	b := testutil.SeedUser(t, f.db, "9100000012")
	_, err := f.wallets.Credit(ctx, a.ID, 500, "seed", "")
	require.NoError(t, err)

	_, err = f.transfers.Transfer(ctx, TransferParams{FromUserID: a.ID, ToUserID: a.ID, Amount: 100})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.transfers.Transfer(ctx, TransferParams{FromUserID: a.ID, ToPhone: a.Phone, Amount: 100})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.transfers.Transfer(ctx, TransferParams{FromUserID: a.ID, ToUserID: b.ID, Amount: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.transfers.Transfer(ctx, TransferParams{FromUserID: a.ID, ToPhone: "0000000000", Amount: 100})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.transfers.Transfer(ctx, TransferParams{FromUserID: a.ID, ToUserID: b.ID, Amount: 501})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	_, err = f.transfers.Transfer(ctx, TransferParams{FromUserID: b.ID, ToUserID: a.ID, Amount: 1})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	var transfers int64
	require.NoError(t, f.db.Model(&model.P2PTransfer{}).Count(&transfers).Error)
	assert.Equal(t, int64(0), transfers)
	assert.Equal(t, int64(500), requireConsistent(t, f, a.ID))
	assert.Equal(t, int64(0), requireConsistent(t, f, b.ID))
}

func TestTransferService_OppositeDirectionsConcurrently(t *testing.T) {
	checkOppositeTransfers(t, newFixture(t))
}

func checkOppositeTransfers(t *testing.T, f *fixture) {
	ctx := context.Background()
	a := testutil.SeedUser(t, f.db, "9100000021")
	b := testutil.SeedUser(t, f.db, "9100000022")
	_, err := f.wallets.Credit(ctx, a.ID, 10000, "seed", "")
	require.NoError(t, err)
	_, err = f.wallets.Credit(ctx, b.ID, 10000, "seed", "")
	require.NoError(t, err)

	const rounds = 10
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.transfers.Transfer(ctx, TransferParams{FromUserID: a.ID, ToUserID: b.ID, Amount: 300})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.transfers.Transfer(ctx, TransferParams{FromUserID: b.ID, ToUserID: a.ID, Amount: 100})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10000-rounds*300+rounds*100), requireConsistent(t, f, a.ID))
	assert.Equal(t, int64(10000+rounds*300-rounds*100), requireConsistent(t, f, b.ID))
}
