package repository

import (
	"context"

	"freelance-escrow/internal/domain/model"
)

// -----------------------------
// Transaction log, webhook events, notification outbox
// -----------------------------

type TransactionLogRepository interface {
	// Append inserts e unless an entry with the same SourceID exists.
	Append(ctx context.Context, tx Tx, e *model.TransactionLogEntry) (bool, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.TransactionLogEntry, error)
}

type WebhookEventRepository interface {
	Exists(ctx context.Context, tx Tx, eventID string) (bool, error)
	// MarkProcessed records the event id; false means it was already recorded.
	MarkProcessed(ctx context.Context, tx Tx, ev *model.WebhookEvent) (bool, error)
}

type NotificationRepository interface {
	// Enqueue is a no-op returning false when DedupeKey already exists.
	Enqueue(ctx context.Context, tx Tx, n *model.Notification) (bool, error)
	ListUndelivered(ctx context.Context, tx Tx, limit int) ([]*model.Notification, error)
	MarkDelivered(ctx context.Context, tx Tx, id string) error
}
