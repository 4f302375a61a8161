package model

import "time"

// User is a wallet owner and payer.
type User struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Phone     string    `gorm:"size:20;not null;uniqueIndex" json:"phone"`
	Name      string    `gorm:"size:128" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (User) TableName() string { return "app_user" }

// Merchant owns payment intents and authenticates with APIKey.
type Merchant struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	APIKey    string    `gorm:"size:96;not null;uniqueIndex" json:"-"`
	// Platform marks the merchant that owns wallet top-up intents.
	Platform  bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Merchant) TableName() string { return "merchant" }

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{}, &Merchant{}, &Wallet{}, &WalletTransaction{},
		&PaymentIntent{}, &P2PTransfer{}, &OutboxEvent{},
	}
}
