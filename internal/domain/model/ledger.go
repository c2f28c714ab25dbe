package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// TransactionLogEntry is an append-only record of a completed money movement.
// SourceID is the gateway object that proved the movement (invoice id), and
// is unique so redelivered events cannot append twice.
type TransactionLogEntry struct {
	ID          string
	UserID      string
	Kind        string
	SourceID    string
	AmountCents int64
	Currency    string
	OccurredAt  time.Time
}

const TransactionKindSubscriptionPayment = "subscription_payment"

// NewTransactionLogEntry stamps a time-ordered ULID so entries sort by creation.
func NewTransactionLogEntry(userID, kind, sourceID string, amountCents int64, currency string, at time.Time) *TransactionLogEntry {
	return &TransactionLogEntry{
		ID:          ulid.MustNew(ulid.Timestamp(at), rand.Reader).String(),
		UserID:      userID,
		Kind:        kind,
		SourceID:    sourceID,
		AmountCents: amountCents,
		Currency:    currency,
		OccurredAt:  at,
	}
}

// WebhookEvent records that a gateway event id was applied.
type WebhookEvent struct {
	ID          string
	Type        string
	ProcessedAt time.Time
}

type NotificationKind string

const (
	NotificationEscrowFunded  NotificationKind = "escrow_funded"
	NotificationFundsReleased NotificationKind = "funds_released"
	NotificationPaymentRefund NotificationKind = "payment_refunded"
)

// Notification is an outbox row. DedupeKey is unique, so enqueueing the same
// logical notification twice is a no-op.
type Notification struct {
	ID          string
	UserID      string
	Kind        NotificationKind
	DedupeKey   string
	Payload     map[string]string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}
