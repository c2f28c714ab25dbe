package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, job_id, proposal_id, client_id, freelancer_id, amount_cents, currency, status,
  gateway_payment_intent_id, platform_fee_cents, freelancer_amount_cents, transfer_id,
  hold_failure, refund_requested_at, paid_at, released_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	err := row.Scan(&p.ID, &p.JobID, &p.ProposalID, &p.ClientID, &p.FreelancerID, &p.AmountCents, &p.Currency, &p.Status,
		&p.GatewayPaymentIntentID, &p.PlatformFeeCents, &p.FreelancerAmountCents, &p.TransferID,
		&p.HoldFailure, &p.RefundRequestedAt, &p.PaidAt, &p.ReleasedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapScanErr(err, domain.ErrPaymentNotFound)
	}
	return p, nil
}

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
);`
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.JobID, p.ProposalID, p.ClientID, p.FreelancerID, p.AmountCents, p.Currency, p.Status,
		p.GatewayPaymentIntentID, p.PlatformFeeCents, p.FreelancerAmountCents, p.TransferID,
		p.HoldFailure, p.RefundRequestedAt, p.PaidAt, p.ReleasedAt, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByIntentID(ctx context.Context, tx repository.Tx, intentID string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_intent_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, intentID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindActiveByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE job_id=$1 AND status IN ('pending','held_in_escrow')`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindLatestByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE job_id=$1 ORDER BY created_at DESC LIMIT 1`
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// transition runs a conditional update; the WHERE status clause is what
// makes redelivered events and racing releases no-ops.
func (r *paymentRepo) transition(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (bool, error) {
	cmd, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) MarkHeld(ctx context.Context, tx repository.Tx, id string, paidAt time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET status = 'held_in_escrow', paid_at = $2, updated_at = NOW()
 WHERE id = $1 AND status = 'pending'`
	return r.transition(ctx, tx, q, id, paidAt)
}

func (r *paymentRepo) MarkReleased(ctx context.Context, tx repository.Tx, id string, split model.FeeSplit, transferID string, releasedAt time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET status = 'released',
       transfer_id = $2,
       platform_fee_cents = $3,
       freelancer_amount_cents = $4,
       released_at = $5,
       updated_at = NOW()
 WHERE id = $1
   AND status = 'held_in_escrow'
   AND refund_requested_at IS NULL
   AND amount_cents = $6`
	return r.transition(ctx, tx, q, id, transferID, split.PlatformFeeCents, split.FreelancerAmountCents, releasedAt, split.AmountCents)
}

func (r *paymentRepo) RecordHoldFailure(ctx context.Context, tx repository.Tx, id, reason string) (bool, error) {
	const q = `UPDATE payments SET hold_failure = $2, updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	return r.transition(ctx, tx, q, id, reason)
}

func (r *paymentRepo) MarkRefundRequested(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET refund_requested_at = COALESCE(refund_requested_at, $2), updated_at = NOW()
 WHERE id = $1 AND status = 'held_in_escrow'`
	return r.transition(ctx, tx, q, id, at)
}

func (r *paymentRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE payments SET status = 'failed', updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	return r.transition(ctx, tx, q, id)
}

func (r *paymentRepo) MarkRefunded(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE payments SET status = 'refunded', updated_at = NOW() WHERE id = $1 AND status = 'held_in_escrow'`
	return r.transition(ctx, tx, q, id)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}
