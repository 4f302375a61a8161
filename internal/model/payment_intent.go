package model

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is a state of the payment intent lifecycle:
//
//	created -> processing -> succeeded -> refunded
//	                      -> failed
//	created -> canceled
type PaymentStatus string

const (
	StatusCreated    PaymentStatus = "created"
	StatusProcessing PaymentStatus = "processing"
	StatusSucceeded  PaymentStatus = "succeeded"
	StatusFailed     PaymentStatus = "failed"
	StatusCanceled   PaymentStatus = "canceled"
	StatusRefunded   PaymentStatus = "refunded"
)

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusCreated:    {StatusProcessing, StatusCanceled},
	StatusProcessing: {StatusSucceeded, StatusFailed},
	StatusSucceeded:  {StatusRefunded},
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf lists the statuses from which to can be reached.
func SourcesOf(to PaymentStatus) []PaymentStatus {
	var out []PaymentStatus
	for _, from := range []PaymentStatus{StatusCreated, StatusProcessing, StatusSucceeded} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// PaymentMethod is chosen by the payer at confirmation.
type PaymentMethod string

const (
	MethodCard       PaymentMethod = "card"
	MethodUPI        PaymentMethod = "upi"
	MethodNetbanking PaymentMethod = "netbanking"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCard || m == MethodUPI || m == MethodNetbanking
}

// PurposeWalletTopUp tags the metadata of intents that fund the payer's own wallet.
const PurposeWalletTopUp = "wallet_topup"

// Metadata is an opaque key-value bag supplied by the merchant.
type Metadata map[string]interface{}

type PaymentIntent struct {
	ID             string         `gorm:"primaryKey;size:40" json:"id"`
	MerchantID     uint64         `gorm:"not null;uniqueIndex:ux_intent_merchant_idem,priority:1;index:ix_intent_merchant_created,priority:1" json:"-"`
	UserID         *uint64        `gorm:"index" json:"userId,omitempty"`
	Amount         int64          `gorm:"not null;check:chk_intent_amount_positive,amount > 0" json:"amount"`
	Currency       string         `gorm:"size:3;not null" json:"currency"`
	Status         PaymentStatus  `gorm:"size:16;not null;index" json:"status"`
	ClientSecret   string         `gorm:"size:96;not null" json:"clientSecret"`
	IdempotencyKey *string        `gorm:"size:64;uniqueIndex:ux_intent_merchant_idem,priority:2" json:"-"`
	PaymentMethod  *PaymentMethod `gorm:"size:16" json:"paymentMethod"`
	FailureReason  *string        `gorm:"size:255" json:"failureReason"`
	BankReference  *string        `gorm:"size:64" json:"bankReference"`
	Metadata       Metadata       `gorm:"serializer:json;type:jsonb" json:"metadata"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index:ix_intent_merchant_created,priority:2" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	ProcessedAt    *time.Time     `json:"processedAt"`
}

func (PaymentIntent) TableName() string { return "payment_intent" }

// NewPaymentIntentID returns an externally visible intent id.
func NewPaymentIntentID() string {
	return "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewClientSecret derives the public checkout token for an intent.
func NewClientSecret(intentID string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return intentID + "_secret_" + hex.EncodeToString(buf), nil
}
