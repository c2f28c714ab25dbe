package repository

import (
	"context"
	"time"

	"freelance-escrow/internal/domain/model"
)

// -----------------------------
// Jobs & proposals
// -----------------------------

type JobRepository interface {
	SaveJob(ctx context.Context, tx Tx, j *model.Job) error
	SaveProposal(ctx context.Context, tx Tx, p *model.Proposal) error
	FindJob(ctx context.Context, tx Tx, id string) (*model.Job, error)
	FindProposal(ctx context.Context, tx Tx, id string) (*model.Proposal, error)
	// AcceptProposal marks a pending proposal accepted and moves its job to
	// in_progress. Reports false when the proposal was not pending.
	AcceptProposal(ctx context.Context, tx Tx, proposalID string, at time.Time) (bool, error)
}
