package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/richardliu001/quickpay/internal/apperr"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransferService moves money between two users' wallets.
type TransferService struct {
	repo    repo.RepositoryInterface
	wallets *WalletService
	log     *zap.SugaredLogger
}

func NewTransferService(r repo.RepositoryInterface, wallets *WalletService, logger *zap.SugaredLogger) *TransferService {
	return &TransferService{repo: r, wallets: wallets, log: logger}
}

// TransferParams names the recipient by id or by phone number.
type TransferParams struct {
	FromUserID uint64
	ToUserID   uint64
	ToPhone    string
	Amount     int64
}

// lockOrder returns the two user ids in the global wallet locking order.
func lockOrder(a, b uint64) (uint64, uint64) {
	if a < b {
		return a, b
	}
	return b, a
}

func (s *TransferService) recipient(ctx context.Context, p TransferParams) (*model.User, error) {
	var (
		u   *model.User
		err error
	)
	switch {
	case p.ToUserID != 0:
		u, err = s.repo.GetUser(ctx, p.ToUserID)
	case strings.TrimSpace(p.ToPhone) != "":
		u, err = s.repo.GetUserByPhone(ctx, strings.TrimSpace(p.ToPhone))
	default:
		return nil, apperr.Field("to", "Recipient is required")
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Recipient")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("load recipient: %w", err))
	}
	return u, nil
}

// Transfer debits the sender and credits the recipient in one transaction,
// recording a P2PTransfer whose reference is shared by both ledger legs.
func (s *TransferService) Transfer(ctx context.Context, p TransferParams) (*model.P2PTransfer, error) {
	if p.Amount <= 0 {
		return nil, apperr.Field("amount", "Amount must be a positive number")
	}
	if p.ToUserID != 0 && p.ToUserID == p.FromUserID {
		return nil, apperr.Field("to", "Cannot transfer to yourself")
	}
	to, err := s.recipient(ctx, p)
	if err != nil {
		return nil, err
	}
	if to.ID == p.FromUserID {
		return nil, apperr.Field("to", "Cannot transfer to yourself")
	}

	// created up front so both rows exist before either is locked
	if _, err := s.wallets.GetOrCreateWallet(ctx, to.ID); err != nil {
		return nil, err
	}

	var (
		t        *model.P2PTransfer
		from, rc *model.Wallet
	)
	err = s.repo.Atomic(ctx, func(tx *gorm.DB) error {
		var err error
		first, second := lockOrder(p.FromUserID, to.ID)
		for _, uid := range []uint64{first, second} {
			_, err := s.repo.GetWalletByUserForUpdate(ctx, tx, uid)
			if errors.Is(err, gorm.ErrRecordNotFound) && uid == p.FromUserID {
				return apperr.InsufficientFunds(p.Amount, 0)
			}
			if err != nil {
				return fmt.Errorf("lock wallet %d: %w", uid, err)
			}
		}

		t = &model.P2PTransfer{
			FromUserID: p.FromUserID,
			ToUserID:   to.ID,
			Amount:     p.Amount,
			Timestamp:  time.Now().UTC(),
		}
		if err := s.repo.CreateTransfer(ctx, tx, t); err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		ref := t.Reference()
		if from, err = s.wallets.DebitTx(ctx, tx, p.FromUserID, p.Amount, ref, "Sent to "+to.Phone); err != nil {
			return err
		}
		if rc, err = s.wallets.CreditTx(ctx, tx, to.ID, p.Amount, ref,
			"Received from user "+strconv.FormatUint(p.FromUserID, 10)); err != nil {
			return err
		}
		return s.repo.AppendEvent(ctx, tx, "P2PTransfer", strconv.FormatUint(t.ID, 10), model.EventTransferDone,
			map[string]interface{}{
				"id":          t.ID,
				"fromUserId":  t.FromUserID,
				"toUserId":    t.ToUserID,
				"amount":      t.Amount,
				"amountMajor": model.MajorUnits(t.Amount).StringFixed(2),
				"reference":   ref,
			})
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		s.log.Errorw("p2p transfer failed", "from_user_id", p.FromUserID, "to_user_id", to.ID, "amount", p.Amount, "error", err)
		return nil, apperr.Internal(err)
	}
	s.wallets.Publish(ctx, from, rc)
	s.log.Infow("p2p transfer completed", "transfer_id", t.ID, "from_user_id", t.FromUserID, "to_user_id", t.ToUserID, "amount", t.Amount)
	return t, nil
}
