package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/domain/ports/repository"
	"freelance-escrow/internal/infra/logging"
	"freelance-escrow/internal/infra/metrics"
	red "freelance-escrow/internal/infra/redis"
)

// Compile-time check
var _ EscrowUseCase = (*escrowUC)(nil)

// EscrowUseCase mediates the job-payment lifecycle. It only creates pending
// rows and records releases it initiated; gateway-confirmed transitions
// belong to the webhook reconciler.
type EscrowUseCase interface {
	CreateJobHold(ctx context.Context, jobID, proposalID string, amount decimal.Decimal, callerID string) (*HoldResult, error)
	Release(ctx context.Context, jobID, freelancerID, callerID string) (*ReleaseResult, error)
	RequestRefund(ctx context.Context, jobID, callerID string) (refundID string, err error)
	CreatePayout(ctx context.Context, freelancerID string, amount decimal.Decimal, callerID string) (*adapter.Payout, error)
	GetBalance(ctx context.Context, freelancerID, callerID string) (*adapter.Balance, error)
}

type HoldResult struct {
	PaymentID     string
	PaymentHoldID string
	ClientSecret  string
	AmountCents   int64
	Currency      string
}

type ReleaseResult struct {
	PaymentID  string
	TransferID string
	Split      model.FeeSplit
	// Replayed is set when the payment had already been released and the
	// stored transfer is returned instead of creating a new one.
	Replayed bool
}

const releaseLockTTL = 30 * time.Second

type escrowUC struct {
	payments repository.PaymentRepository
	jobs     repository.JobRepository
	users    repository.UserRepository
	notes    repository.NotificationRepository
	gateway  adapter.PaymentGateway
	tm       repository.TransactionManager
	locker   red.Locker
	feeRate  decimal.Decimal
	currency string
	log      *zerolog.Logger
}

// NewEscrowUseCase wires the orchestrator. locker may be nil, in which case
// concurrent releases rely on the transfer idempotency key and the
// conditional status update alone.
func NewEscrowUseCase(
	payments repository.PaymentRepository,
	jobs repository.JobRepository,
	users repository.UserRepository,
	notes repository.NotificationRepository,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	locker red.Locker,
	feeRate decimal.Decimal,
	currency string,
	logger *zerolog.Logger,
) *escrowUC {
	l := logging.Component(logger, "escrow")
	return &escrowUC{
		payments: payments,
		jobs:     jobs,
		users:    users,
		notes:    notes,
		gateway:  gateway,
		tm:       tm,
		locker:   locker,
		feeRate:  feeRate,
		currency: currency,
		log:      l,
	}
}

func (u *escrowUC) CreateJobHold(ctx context.Context, jobID, proposalID string, amount decimal.Decimal, callerID string) (*HoldResult, error) {
	defer logging.TraceDuration(u.log, "EscrowUC.CreateJobHold")()

	if callerID == "" {
		return nil, domain.Unauthenticated("sign in to pay for a job")
	}
	amountCents := model.ToMinorUnits(amount)
	if amountCents <= 0 {
		return nil, domain.InvalidArgument("amount must be positive")
	}

	job, err := u.jobs.FindJob(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, storeErr("job", err)
	}
	if job.ClientID != callerID {
		return nil, domain.PermissionDenied("only the job's client can fund it")
	}
	prop, err := u.jobs.FindProposal(ctx, repository.NoTX, proposalID)
	if err != nil {
		return nil, storeErr("proposal", err)
	}
	if prop.JobID != job.ID {
		return nil, domain.NotFound("proposal does not belong to job")
	}

	latest, err := u.payments.FindLatestByJob(ctx, repository.NoTX, jobID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Internal("load payment", err)
	}
	if latest != nil {
		switch latest.Status {
		case model.PaymentStatusPending:
			if latest.AmountCents != amountCents || latest.ProposalID != prop.ID {
				return nil, domain.FailedPrecondition("job has a pending hold for a different amount or proposal")
			}
			// Re-issue the outstanding hold instead of charging twice.
			hold, err := u.gateway.RetrievePaymentHold(ctx, latest.GatewayPaymentIntentID)
			if err != nil {
				return nil, domain.Internal("retrieve payment hold", err)
			}
			return &HoldResult{
				PaymentID:     latest.ID,
				PaymentHoldID: hold.ID,
				ClientSecret:  hold.ClientSecret,
				AmountCents:   latest.AmountCents,
				Currency:      latest.Currency,
			}, nil
		case model.PaymentStatusHeldInEscrow, model.PaymentStatusReleased:
			return nil, domain.FailedPrecondition(fmt.Sprintf("job payment already %s", latest.Status))
		}
	}

	paymentID := uuid.NewString()
	hold, err := u.gateway.CreatePaymentHold(ctx, adapter.PaymentHoldRequest{
		AmountCents:   amountCents,
		Currency:      u.currency,
		Description:   "Escrow for job " + job.Title,
		TransferGroup: job.ID,
		Metadata: map[string]string{
			"type":         model.PaymentTypeJob,
			"paymentId":    paymentID,
			"jobId":        job.ID,
			"proposalId":   prop.ID,
			"clientId":     callerID,
			"freelancerId": prop.FreelancerID,
		},
		IdempotencyKey: "hold-" + paymentID,
	})
	if err != nil {
		return nil, domain.Internal("create payment hold", err)
	}

	now := time.Now().UTC()
	p := &model.Payment{
		ID:                     paymentID,
		JobID:                  job.ID,
		ProposalID:             prop.ID,
		ClientID:               callerID,
		FreelancerID:           prop.FreelancerID,
		AmountCents:            amountCents,
		Currency:               u.currency,
		Status:                 model.PaymentStatusPending,
		GatewayPaymentIntentID: hold.ID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := u.payments.Create(ctx, repository.NoTX, p); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			u.log.Warn().Str("job_id", job.ID).Str("hold_id", hold.ID).Msg("concurrent hold for job; gateway hold left unused")
			return nil, domain.FailedPrecondition("job already has an active payment")
		}
		return nil, domain.Internal("record payment", err)
	}
	metrics.IncPaymentTransition(string(model.PaymentStatusPending), "api")

	return &HoldResult{
		PaymentID:     p.ID,
		PaymentHoldID: hold.ID,
		ClientSecret:  hold.ClientSecret,
		AmountCents:   amountCents,
		Currency:      p.Currency,
	}, nil
}

func (u *escrowUC) Release(ctx context.Context, jobID, freelancerID, callerID string) (*ReleaseResult, error) {
	defer logging.TraceDuration(u.log, "EscrowUC.Release")()

	if callerID == "" {
		return nil, domain.Unauthenticated("sign in to release funds")
	}
	job, err := u.jobs.FindJob(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, storeErr("job", err)
	}
	p, err := u.payments.FindLatestByJob(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, storeErr("payment", err)
	}
	if callerID != job.ClientID && callerID != p.FreelancerID {
		return nil, domain.PermissionDenied("not a party to this job")
	}
	if freelancerID != p.FreelancerID {
		return nil, domain.InvalidArgument("freelancer does not match the job payment")
	}
	if r, ok := releasedResult(p); ok {
		return r, nil
	}
	if err := checkReleasable(p); err != nil {
		return nil, err
	}

	freelancer, err := u.users.FindByID(ctx, repository.NoTX, freelancerID)
	if err != nil {
		return nil, storeErr("freelancer", err)
	}
	if !freelancer.HasConnectedAccount() {
		return nil, domain.FailedPrecondition("freelancer has no connected payout account")
	}

	ctx = logging.WithPaymentID(ctx, p.ID)
	log := logging.With(ctx, u.log)

	if u.locker != nil {
		key := red.ReleaseLockKey(p.ID)
		token, err := u.locker.TryLock(ctx, key, releaseLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			return nil, domain.FailedPrecondition("release already in progress")
		case err != nil:
			log.Warn().Err(err).Msg("release lock unavailable; relying on idempotency key")
		default:
			defer func() {
				if err := u.locker.Unlock(context.Background(), key, token); err != nil {
					log.Warn().Err(err).Msg("release unlock failed")
				}
			}()
			// Another caller may have finished between our read and the lock.
			if p, err = u.payments.FindByID(ctx, repository.NoTX, p.ID); err != nil {
				return nil, storeErr("payment", err)
			}
			if r, ok := releasedResult(p); ok {
				return r, nil
			}
			if err := checkReleasable(p); err != nil {
				return nil, err
			}
		}
	}

	split, err := model.SplitFee(p.AmountCents, u.feeRate)
	if err != nil {
		return nil, domain.Internal("compute fee split", err)
	}

	tr, err := u.gateway.CreateTransfer(ctx, adapter.TransferRequest{
		AmountCents:   split.FreelancerAmountCents,
		Currency:      p.Currency,
		Destination:   freelancer.ConnectedAccount.AccountID,
		TransferGroup: p.JobID,
		Metadata: map[string]string{
			"jobId":        p.JobID,
			"freelancerId": p.FreelancerID,
			"paymentId":    p.ID,
		},
		IdempotencyKey: "release-" + p.ID,
	})
	if err != nil {
		log.Error().Err(err).Msg("transfer failed; payment stays held in escrow")
		return nil, domain.Internal("create transfer", err)
	}

	now := time.Now().UTC()
	replayed := false
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.payments.MarkReleased(ctx, tx, p.ID, split, tr.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := u.payments.FindByID(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if cur.Status == model.PaymentStatusReleased && cur.TransferID != nil && *cur.TransferID == tr.ID {
				replayed = true
				return nil
			}
			if cur.RefundRequestedAt != nil {
				log.Error().Str("transfer_id", tr.ID).Msg("refund requested while transfer was in flight; reconcile manually")
				return domain.FailedPrecondition("refund requested during release")
			}
			return domain.FailedPrecondition(fmt.Sprintf("payment moved to %s during release", cur.Status))
		}
		if err := u.users.AddEarnings(ctx, tx, p.FreelancerID, split.FreelancerAmountCents, 1); err != nil {
			return err
		}
		_, err = u.notes.Enqueue(ctx, tx, newNotification(p.FreelancerID, model.NotificationFundsReleased, p.ID, map[string]string{
			"jobId":       p.JobID,
			"paymentId":   p.ID,
			"transferId":  tr.ID,
			"amountCents": fmt.Sprint(split.FreelancerAmountCents),
			"currency":    p.Currency,
			"platformFee": fmt.Sprint(split.PlatformFeeCents),
		}))
		return err
	})
	if err != nil {
		if domain.CodeOf(err) == domain.CodeFailedPrecondition {
			return nil, err
		}
		log.Error().Err(err).Str("transfer_id", tr.ID).Msg("transfer created but ledger update failed")
		return nil, domain.Internal("record release", err)
	}

	if !replayed {
		metrics.IncPaymentTransition(string(model.PaymentStatusReleased), "api")
		metrics.AddRelease(p.Currency, split.FreelancerAmountCents, split.PlatformFeeCents)
		log.Info().Str("transfer_id", tr.ID).Int64("net_cents", split.FreelancerAmountCents).Int64("fee_cents", split.PlatformFeeCents).Msg("escrow released")
	}
	return &ReleaseResult{PaymentID: p.ID, TransferID: tr.ID, Split: split, Replayed: replayed}, nil
}

func checkReleasable(p *model.Payment) error {
	if p.Status != model.PaymentStatusHeldInEscrow {
		return domain.FailedPrecondition(fmt.Sprintf("payment is %s, not held in escrow", p.Status))
	}
	if !p.Releasable() {
		return domain.FailedPrecondition("a refund was requested for this payment")
	}
	return nil
}

func releasedResult(p *model.Payment) (*ReleaseResult, bool) {
	if p.Status != model.PaymentStatusReleased || p.TransferID == nil {
		return nil, false
	}
	return &ReleaseResult{
		PaymentID:  p.ID,
		TransferID: *p.TransferID,
		Split: model.FeeSplit{
			AmountCents:           p.AmountCents,
			PlatformFeeCents:      p.PlatformFeeCents,
			FreelancerAmountCents: p.FreelancerAmountCents,
		},
		Replayed: true,
	}, true
}

func (u *escrowUC) RequestRefund(ctx context.Context, jobID, callerID string) (string, error) {
	defer logging.TraceDuration(u.log, "EscrowUC.RequestRefund")()

	if callerID == "" {
		return "", domain.Unauthenticated("sign in to request a refund")
	}
	job, err := u.jobs.FindJob(ctx, repository.NoTX, jobID)
	if err != nil {
		return "", storeErr("job", err)
	}
	if job.ClientID != callerID {
		return "", domain.PermissionDenied("only the job's client can request a refund")
	}
	p, err := u.payments.FindActiveByJob(ctx, repository.NoTX, jobID)
	if err != nil {
		return "", storeErr("payment", err)
	}
	if p.Status != model.PaymentStatusHeldInEscrow {
		return "", domain.FailedPrecondition(fmt.Sprintf("payment is %s, not held in escrow", p.Status))
	}

	// Shares the release lock so a refund never races a transfer.
	if u.locker != nil {
		key := red.ReleaseLockKey(p.ID)
		token, err := u.locker.TryLock(ctx, key, releaseLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			return "", domain.FailedPrecondition("release in progress")
		case err != nil:
			u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("release lock unavailable for refund; relying on refund marker")
		default:
			defer func() {
				if err := u.locker.Unlock(context.Background(), key, token); err != nil {
					u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("refund unlock failed")
				}
			}()
		}
	}

	// The marker stays set even if the gateway call fails: the refund may
	// already exist, and a retry reuses the idempotency key.
	ok, err := u.payments.MarkRefundRequested(ctx, repository.NoTX, p.ID, time.Now().UTC())
	if err != nil {
		return "", domain.Internal("record refund request", err)
	}
	if !ok {
		return "", domain.FailedPrecondition("payment is no longer held in escrow")
	}

	ref, err := u.gateway.RefundPaymentHold(ctx, adapter.RefundRequest{
		PaymentHoldID:  p.GatewayPaymentIntentID,
		Metadata:       map[string]string{"jobId": p.JobID, "paymentId": p.ID},
		IdempotencyKey: "refund-" + p.ID,
	})
	if err != nil {
		return "", domain.Internal("create refund", err)
	}
	u.log.Info().Str("payment_id", p.ID).Str("refund_id", ref.ID).Msg("refund requested")
	return ref.ID, nil
}

func (u *escrowUC) CreatePayout(ctx context.Context, freelancerID string, amount decimal.Decimal, callerID string) (*adapter.Payout, error) {
	defer logging.TraceDuration(u.log, "EscrowUC.CreatePayout")()

	if callerID == "" {
		return nil, domain.Unauthenticated("sign in to withdraw funds")
	}
	if callerID != freelancerID {
		return nil, domain.PermissionDenied("payouts can only be requested for your own account")
	}
	amountCents := model.ToMinorUnits(amount)
	if amountCents <= 0 {
		return nil, domain.InvalidArgument("amount must be positive")
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, freelancerID)
	if err != nil {
		return nil, storeErr("user", err)
	}
	if !user.HasConnectedAccount() {
		return nil, domain.FailedPrecondition("no connected payout account")
	}

	po, err := u.gateway.CreatePayout(ctx, adapter.PayoutRequest{
		AccountID:   user.ConnectedAccount.AccountID,
		AmountCents: amountCents,
		Currency:    u.currency,
		Metadata:    map[string]string{"userId": user.ID},
	})
	if err != nil {
		metrics.IncPayout("error")
		return nil, domain.Internal("create payout", err)
	}
	metrics.IncPayout("ok")
	return po, nil
}

func (u *escrowUC) GetBalance(ctx context.Context, freelancerID, callerID string) (*adapter.Balance, error) {
	if callerID == "" {
		return nil, domain.Unauthenticated("sign in to view your balance")
	}
	if callerID != freelancerID {
		return nil, domain.PermissionDenied("balance is private")
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, freelancerID)
	if err != nil {
		return nil, storeErr("user", err)
	}
	if !user.HasConnectedAccount() {
		return &adapter.Balance{}, nil
	}
	bal, err := u.gateway.GetBalance(ctx, user.ConnectedAccount.AccountID)
	if err != nil {
		return nil, domain.Internal("retrieve balance", err)
	}
	return bal, nil
}

// storeErr classifies a repository failure for callers: missing rows become
// NotFound, anything else is Internal.
func storeErr(entity string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NotFound(entity + " not found")
	}
	return domain.Internal("load "+entity, err)
}

func newNotification(userID string, kind model.NotificationKind, subjectID string, payload map[string]string) *model.Notification {
	return &model.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		DedupeKey: string(kind) + ":" + subjectID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
