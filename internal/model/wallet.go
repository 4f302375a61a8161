package model

import "time"

// Wallet holds the balance of exactly one user in minor currency units.
// Balance is only ever changed through the wallet service primitives.
type Wallet struct {
	ID        uint64    `gorm:"primaryKey;column:id" json:"id"`
	UserID    uint64    `gorm:"not null;uniqueIndex:ux_wallet_user" json:"userId"`
	Balance   int64     `gorm:"not null;default:0;check:chk_wallet_balance_non_negative,balance >= 0" json:"balance"`
	Version   uint64    `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	User *User `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
}

func (Wallet) TableName() string { return "wallet" }
