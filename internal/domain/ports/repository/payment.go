package repository

import (
	"context"
	"time"

	"freelance-escrow/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

// PaymentRepository persists escrow payments. The Mark* methods are
// conditional writes: they apply only when the stored status matches the
// required source status and report whether a row changed.
type PaymentRepository interface {
	// Create inserts a pending payment. A second active payment for the
	// same job returns domain.ErrAlreadyExists.
	Create(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByIntentID(ctx context.Context, tx Tx, intentID string) (*model.Payment, error)
	// FindActiveByJob returns the pending or held payment for a job.
	FindActiveByJob(ctx context.Context, tx Tx, jobID string) (*model.Payment, error)
	// FindLatestByJob returns the most recent payment for a job in any status.
	FindLatestByJob(ctx context.Context, tx Tx, jobID string) (*model.Payment, error)

	// pending -> held_in_escrow
	MarkHeld(ctx context.Context, tx Tx, id string, paidAt time.Time) (bool, error)
	// RecordHoldFailure stores a decline on a pending payment without
	// leaving pending.
	RecordHoldFailure(ctx context.Context, tx Tx, id, reason string) (bool, error)
	// MarkRefundRequested flags a held payment as being refunded. It is
	// idempotent and reports false only when the payment is not held.
	MarkRefundRequested(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	// held_in_escrow -> released, recording the transfer and split. Refused
	// once a refund was requested.
	MarkReleased(ctx context.Context, tx Tx, id string, split model.FeeSplit, transferID string, releasedAt time.Time) (bool, error)
	// pending -> failed
	MarkFailed(ctx context.Context, tx Tx, id string) (bool, error)
	// held_in_escrow -> refunded
	MarkRefunded(ctx context.Context, tx Tx, id string) (bool, error)

	ListPendingOlderThan(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.Payment, error)
}
