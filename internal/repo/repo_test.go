package repo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/repo"
	"github.com/richardliu001/quickpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestConditionalDecrement_ConcurrentDebits(t *testing.T) {
	db := testutil.NewDB(t)
	r := testutil.NewRepo(t, db)
	ctx := context.Background()
	u := testutil.SeedUser(t, db, "9000000001")

	require.NoError(t, r.EnsureWallet(ctx, nil, u.ID))
	w, err := r.GetWalletByUser(ctx, nil, u.ID)
	require.NoError(t, err)
	require.NoError(t, r.IncrementBalance(ctx, nil, w.ID, 100))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Atomic(ctx, func(tx *gorm.DB) error {
				ok, err := r.DecrementBalanceIfSufficient(ctx, tx, w.ID, 30)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					applied++
					mu.Unlock()
				}
				return nil
			})
		}()
	}
	wg.Wait()

	final, err := r.GetWalletByUser(ctx, nil, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, applied, "only three debits of 30 fit into 100")
	assert.Equal(t, int64(10), final.Balance)
}

func TestEnsureWallet_Idempotent(t *testing.T) {
	db := testutil.NewDB(t)
	r := testutil.NewRepo(t, db)
	ctx := context.Background()
	u := testutil.SeedUser(t, db, "9000000002")

	for i := 0; i < 3; i++ {
		require.NoError(t, r.EnsureWallet(ctx, nil, u.ID))
	}
	var n int64
	require.NoError(t, db.Model(&model.Wallet{}).Where("user_id = ?", u.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestTransitionIntent_CompareAndSwap(t *testing.T) {
	db := testutil.NewDB(t)
	r := testutil.NewRepo(t, db)
	ctx := context.Background()
	m := testutil.SeedMerchant(t, db, "sk_test_cas")

	pi := &model.PaymentIntent{
		ID: model.NewPaymentIntentID(), MerchantID: m.ID, Amount: 1000,
		Currency: model.DefaultCurrency, Status: model.StatusCreated, ClientSecret: "s",
	}
	require.NoError(t, r.CreateIntent(ctx, nil, pi))

	ok, err := r.TransitionIntent(ctx, nil, pi.ID, m.ID+1, model.StatusCreated, model.StatusProcessing, nil)
	require.NoError(t, err)
	assert.False(t, ok, "foreign merchant must not match")

	ok, err = r.TransitionIntent(ctx, nil, pi.ID, m.ID, model.StatusCreated, model.StatusProcessing,
		map[string]interface{}{"payment_method": model.MethodUPI})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TransitionIntent(ctx, nil, pi.ID, m.ID, model.StatusCreated, model.StatusCanceled, nil)
	require.NoError(t, err)
	assert.False(t, ok, "status is no longer created")

	got, err := r.GetIntent(ctx, nil, pi.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
	require.NotNil(t, got.PaymentMethod)
	assert.Equal(t, model.MethodUPI, *got.PaymentMethod)
}

func TestCreateIntent_DuplicateIdempotencyKey(t *testing.T) {
	db := testutil.NewDB(t)
	r := testutil.NewRepo(t, db)
	ctx := context.Background()
	m := testutil.SeedMerchant(t, db, "sk_test_dup")
	key := "8b7a3f2e-6a1d-4c0b-9f3e-1a2b3c4d5e6f"

	newIntent := func() *model.PaymentIntent {
		return &model.PaymentIntent{
			ID: model.NewPaymentIntentID(), MerchantID: m.ID, Amount: 500,
			Currency: model.DefaultCurrency, Status: model.StatusCreated, ClientSecret: "s", IdempotencyKey: &key,
		}
	}
	require.NoError(t, r.CreateIntent(ctx, nil, newIntent()))
	err := r.CreateIntent(ctx, nil, newIntent())
	require.Error(t, err)
	assert.True(t, repo.IsUniqueViolation(err))

	// keys without an idempotency key never collide
	a, b := newIntent(), newIntent()
	a.IdempotencyKey, b.IdempotencyKey = nil, nil
	require.NoError(t, r.CreateIntent(ctx, nil, a))
	require.NoError(t, r.CreateIntent(ctx, nil, b))
}

func TestListIntents_StableOrderWithEqualTimestamps(t *testing.T) {
	db := testutil.NewDB(t)
	r := testutil.NewRepo(t, db)
	ctx := context.Background()
	m := testutil.SeedMerchant(t, db, "sk_test_page")

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ids := []string{"pi_a", "pi_b", "pi_c", "pi_d", "pi_e"}
	for _, id := range ids {
		pi := &model.PaymentIntent{
			ID: id, MerchantID: m.ID, Amount: 100, Currency: model.DefaultCurrency,
			Status: model.StatusCreated, ClientSecret: "s", CreatedAt: at,
		}
		require.NoError(t, r.CreateIntent(ctx, nil, pi))
	}

	var seen []string
	cursor := ""
	for {
		page, more, err := r.ListIntents(ctx, m.ID, repo.IntentFilter{Limit: 2, StartingAfter: cursor})
		require.NoError(t, err)
		for _, pi := range page {
			seen = append(seen, pi.ID)
		}
		if !more {
			break
		}
		cursor = page[len(page)-1].ID
	}
	assert.Equal(t, []string{"pi_e", "pi_d", "pi_c", "pi_b", "pi_a"}, seen)

	_, _, err := r.ListIntents(ctx, m.ID, repo.IntentFilter{Limit: 2, StartingAfter: "pi_missing"})
	assert.ErrorIs(t, err, repo.ErrCursorNotFound)
}

func TestOutbox_PollAndMark(t *testing.T) {
	db := testutil.NewDB(t)
	r := testutil.NewRepo(t, db)
	ctx := context.Background()

	require.NoError(t, r.AppendEvent(ctx, nil, "PaymentIntent", "pi_1", model.EventIntentCreated,
		map[string]interface{}{"id": "pi_1"}))
	evts, err := r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.JSONEq(t, `{"id":"pi_1"}`, evts[0].Payload)

	require.NoError(t, r.MarkOutboxProcessed(ctx, evts[0].ID))
	evts, err = r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, evts)

	assert.Error(t, r.PublishEvent(ctx, model.OutboxEvent{ID: 1}), "no writer configured")
}
