package model

import (
	"fmt"
	"time"
)

// P2PTransfer records a wallet-to-wallet movement. Each row is paired with one
// debit and one credit WalletTransaction sharing Reference().
type P2PTransfer struct {
	ID         uint64    `gorm:"primaryKey" json:"id"`
	FromUserID uint64    `gorm:"not null;index" json:"fromUserId"`
	ToUserID   uint64    `gorm:"not null;index" json:"toUserId"`
	Amount     int64     `gorm:"not null;check:chk_p2p_amount_positive,amount > 0" json:"amount"`
	Timestamp  time.Time `gorm:"not null" json:"timestamp"`
}

func (P2PTransfer) TableName() string { return "p2p_transfer" }

// Reference is the ledger reference shared by both legs of the transfer.
func (t P2PTransfer) Reference() string {
	return fmt.Sprintf("p2p_%d", t.ID)
}
