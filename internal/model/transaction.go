package model

import "time"

// TransactionType is the direction of a ledger entry.
type TransactionType string

const (
	TxCredit TransactionType = "credit"
	TxDebit  TransactionType = "debit"
)

// Valid reports whether t is a known entry type.
func (t TransactionType) Valid() bool {
	return t == TxCredit || t == TxDebit
}

// WalletTransaction is an append-only ledger entry. Rows are never updated
// or deleted once written.
type WalletTransaction struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	WalletID      uint64          `gorm:"not null;index:ix_wallet_tx_wallet_created,priority:1" json:"walletId"`
	Type          TransactionType `gorm:"size:16;not null" json:"type"`
	Amount        int64           `gorm:"not null;check:chk_wallet_tx_amount_positive,amount > 0" json:"amount"`
	BalanceBefore int64           `gorm:"not null" json:"balanceBefore"`
	BalanceAfter  int64           `gorm:"not null" json:"balanceAfter"`
	Reference     string          `gorm:"size:64;not null;index" json:"reference"`
	Description   string          `gorm:"size:255" json:"description,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:ix_wallet_tx_wallet_created,priority:2" json:"createdAt"`
}

func (WalletTransaction) TableName() string { return "wallet_transaction" }
