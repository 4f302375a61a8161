package model

import "time"

// Event types written to the outbox alongside the state change they describe.
const (
	EventIntentCreated    = "payment_intent.created"
	EventIntentProcessing = "payment_intent.processing"
	EventIntentSucceeded  = "payment_intent.succeeded"
	EventIntentFailed     = "payment_intent.failed"
	EventIntentCanceled   = "payment_intent.canceled"
	EventIntentRefunded   = "payment_intent.refunded"
	EventWalletCredited   = "wallet.credited"
	EventWalletDebited    = "wallet.debited"
	EventTransferDone     = "p2p.transfer_completed"
)

type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID string    `gorm:"size:64;not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
