package main

import (
	"context"
	"testing"

	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/service"
	"github.com/richardliu001/quickpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpeningBalanceCreditsOnce(t *testing.T) {
	db := testutil.NewDB(t)
	wallets := service.NewWalletService(testutil.NewRepo(t, db), nil, testutil.Logger(t))
	u := testutil.SeedUser(t, db, "1111111111")
	ctx := context.Background()

	credited, err := openingBalance(ctx, db, wallets, u.ID, openingAmount)
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = openingBalance(ctx, db, wallets, u.ID, openingAmount)
	require.NoError(t, err)
	assert.False(t, credited)

	bal, err := wallets.GetBalance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(openingAmount), bal)
}

func TestOpeningBalanceStopsOnLookupError(t *testing.T) {
	db := testutil.NewDB(t)
	wallets := service.NewWalletService(testutil.NewRepo(t, db), nil, testutil.Logger(t))
	u := testutil.SeedUser(t, db, "2222222222")
	require.NoError(t, db.Migrator().DropTable(&model.WalletTransaction{}))

	credited, err := openingBalance(context.Background(), db, wallets, u.ID, openingAmount)
	require.ErrorContains(t, err, "check opening balance")
	assert.False(t, credited)

	var n int64
	require.NoError(t, db.Model(&model.Wallet{}).Where("user_id = ?", u.ID).Count(&n).Error)
	assert.Zero(t, n)
}
