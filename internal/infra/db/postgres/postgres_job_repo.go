package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct{ pool *pgxpool.Pool }

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) SaveJob(ctx context.Context, tx repository.Tx, j *model.Job) error {
	const q = `
INSERT INTO jobs (id, client_id, title, status, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET title=$3, status=$4;`
	_, err := execSQL(ctx, r.pool, tx, q, j.ID, j.ClientID, j.Title, j.Status, j.CreatedAt)
	return mapErr(err)
}

func (r *jobRepo) SaveProposal(ctx context.Context, tx repository.Tx, p *model.Proposal) error {
	const q = `
INSERT INTO proposals (id, job_id, freelancer_id, amount_cents, status, accepted_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET amount_cents=$4, status=$5, accepted_at=$6;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.JobID, p.FreelancerID, p.AmountCents, p.Status, p.AcceptedAt, p.CreatedAt)
	return mapErr(err)
}

func (r *jobRepo) FindJob(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	const q = `SELECT id, client_id, title, status, created_at FROM jobs WHERE id=$1`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	j := &model.Job{}
	if err := row.Scan(&j.ID, &j.ClientID, &j.Title, &j.Status, &j.CreatedAt); err != nil {
		return nil, mapScanErr(err, domain.ErrNotFound)
	}
	return j, nil
}

func (r *jobRepo) FindProposal(ctx context.Context, tx repository.Tx, id string) (*model.Proposal, error) {
	const q = `SELECT id, job_id, freelancer_id, amount_cents, status, accepted_at, created_at FROM proposals WHERE id=$1`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p := &model.Proposal{}
	if err := row.Scan(&p.ID, &p.JobID, &p.FreelancerID, &p.AmountCents, &p.Status, &p.AcceptedAt, &p.CreatedAt); err != nil {
		return nil, mapScanErr(err, domain.ErrNotFound)
	}
	return p, nil
}

// AcceptProposal flips a pending proposal and its open job in one statement.
func (r *jobRepo) AcceptProposal(ctx context.Context, tx repository.Tx, proposalID string, at time.Time) (bool, error) {
	const q = `
WITH accepted AS (
  UPDATE proposals SET status='accepted', accepted_at=$2
   WHERE id=$1 AND status='pending'
  RETURNING job_id
), started AS (
  UPDATE jobs SET status='in_progress'
   WHERE id IN (SELECT job_id FROM accepted) AND status='open'
)
SELECT count(*) FROM accepted;`
	row, err := pickRow(ctx, r.pool, tx, q, proposalID, at)
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, mapScanErr(err, domain.ErrNotFound)
	}
	return n == 1, nil
}
