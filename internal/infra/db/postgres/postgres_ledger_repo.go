package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/repository"
)

// -----------------------------
// Transaction log
// -----------------------------

var _ repository.TransactionLogRepository = (*transactionLogRepo)(nil)

type transactionLogRepo struct{ pool *pgxpool.Pool }

func NewTransactionLogRepo(pool *pgxpool.Pool) *transactionLogRepo {
	return &transactionLogRepo{pool: pool}
}

func (r *transactionLogRepo) Append(ctx context.Context, tx repository.Tx, e *model.TransactionLogEntry) (bool, error) {
	const q = `
INSERT INTO transaction_log (id, user_id, kind, source_id, amount_cents, currency, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (source_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, e.ID, e.UserID, e.Kind, e.SourceID, e.AmountCents, e.Currency, e.OccurredAt)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *transactionLogRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.TransactionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, user_id, kind, source_id, amount_cents, currency, occurred_at
  FROM transaction_log WHERE user_id=$1 ORDER BY id DESC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.TransactionLogEntry
	for rows.Next() {
		e := &model.TransactionLogEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.SourceID, &e.AmountCents, &e.Currency, &e.OccurredAt); err != nil {
			return nil, mapScanErr(err, domain.ErrNotFound)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

// -----------------------------
// Webhook events
// -----------------------------

var _ repository.WebhookEventRepository = (*webhookEventRepo)(nil)

type webhookEventRepo struct{ pool *pgxpool.Pool }

func NewWebhookEventRepo(pool *pgxpool.Pool) *webhookEventRepo {
	return &webhookEventRepo{pool: pool}
}

func (r *webhookEventRepo) Exists(ctx context.Context, tx repository.Tx, eventID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM webhook_events WHERE id=$1)`
	row, err := pickRow(ctx, r.pool, tx, q, eventID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, mapScanErr(err, domain.ErrNotFound)
	}
	return exists, nil
}

// MarkProcessed inserts the event id. Within the handling transaction the
// insert also serializes concurrent deliveries of the same event: the second
// one blocks on the primary key until the first commits, then sees a conflict.
func (r *webhookEventRepo) MarkProcessed(ctx context.Context, tx repository.Tx, ev *model.WebhookEvent) (bool, error) {
	const q = `
INSERT INTO webhook_events (id, type, processed_at) VALUES ($1,$2,$3)
ON CONFLICT (id) DO NOTHING;`
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = time.Now()
	}
	cmd, err := execSQL(ctx, r.pool, tx, q, ev.ID, ev.Type, ev.ProcessedAt)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

// -----------------------------
// Notification outbox
// -----------------------------

var _ repository.NotificationRepository = (*notificationRepo)(nil)

type notificationRepo struct{ pool *pgxpool.Pool }

func NewNotificationRepo(pool *pgxpool.Pool) *notificationRepo {
	return &notificationRepo{pool: pool}
}

func (r *notificationRepo) Enqueue(ctx context.Context, tx repository.Tx, n *model.Notification) (bool, error) {
	const q = `
INSERT INTO notifications (id, user_id, kind, dedupe_key, payload, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (dedupe_key) DO NOTHING;`
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return false, fmt.Errorf("%w: payload: %v", domain.ErrInvalidArgument, err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	cmd, err := execSQL(ctx, r.pool, tx, q, n.ID, n.UserID, string(n.Kind), n.DedupeKey, payload, n.CreatedAt)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *notificationRepo) ListUndelivered(ctx context.Context, tx repository.Tx, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, user_id, kind, dedupe_key, payload, created_at
  FROM notifications WHERE delivered_at IS NULL ORDER BY created_at ASC LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.DedupeKey, &payload, &n.CreatedAt); err != nil {
			return nil, mapScanErr(err, domain.ErrNotFound)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("%w: payload: %v", domain.ErrReadDatabaseRow, err)
			}
		}
		out = append(out, n)
	}
	return out, mapErr(rows.Err())
}

func (r *notificationRepo) MarkDelivered(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE notifications SET delivered_at=NOW() WHERE id=$1 AND delivered_at IS NULL`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	return mapErr(err)
}
