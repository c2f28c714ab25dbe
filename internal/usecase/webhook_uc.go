package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/domain/ports/repository"
	"freelance-escrow/internal/infra/logging"
	"freelance-escrow/internal/infra/metrics"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

// Outcomes reported by WebhookUseCase.Handle.
const (
	WebhookProcessed = "processed" // state changed
	WebhookNoop      = "noop"      // valid event, entity already past this state
	WebhookIgnored   = "ignored"   // event type or object not ours
	WebhookDuplicate = "duplicate" // event id seen before
)

// WebhookUseCase applies signed gateway events to the ledger. Each event is
// recorded in the same transaction as its state change, so a redelivery is
// either a no-op or a retry of a rolled-back attempt.
type WebhookUseCase interface {
	Handle(ctx context.Context, payload []byte, signature string) (outcome string, err error)
	// ReconcileStaleHolds asks the gateway about pending payments older than
	// before and applies the transition a lost webhook would have applied.
	ReconcileStaleHolds(ctx context.Context, before time.Time, limit int) (int, error)
}

type webhookUC struct {
	verifier adapter.WebhookVerifier
	gateway  adapter.PaymentGateway
	payments repository.PaymentRepository
	jobs     repository.JobRepository
	users    repository.UserRepository
	ledger   repository.TransactionLogRepository
	events   repository.WebhookEventRepository
	notes    repository.NotificationRepository
	tm       repository.TransactionManager
	prices   model.PriceCatalog
	log      *zerolog.Logger
}

type WebhookDeps struct {
	Verifier      adapter.WebhookVerifier
	Gateway       adapter.PaymentGateway
	Payments      repository.PaymentRepository
	Jobs          repository.JobRepository
	Users         repository.UserRepository
	Ledger        repository.TransactionLogRepository
	Events        repository.WebhookEventRepository
	Notifications repository.NotificationRepository
	TxManager     repository.TransactionManager
	Prices        model.PriceCatalog
}

func NewWebhookUseCase(d WebhookDeps, logger *zerolog.Logger) *webhookUC {
	l := logging.Component(logger, "webhook")
	return &webhookUC{
		verifier: d.Verifier,
		gateway:  d.Gateway,
		payments: d.Payments,
		jobs:     d.Jobs,
		users:    d.Users,
		ledger:   d.Ledger,
		events:   d.Events,
		notes:    d.Notifications,
		tm:       d.TxManager,
		prices:   d.Prices,
		log:      l,
	}
}

// applied collects metric updates that must only happen after commit.
type applied []func()

func (a *applied) add(f func()) { *a = append(*a, f) }

func (u *webhookUC) Handle(ctx context.Context, payload []byte, signature string) (string, error) {
	start := time.Now()
	ev, err := u.verifier.Verify(payload, signature)
	if err != nil {
		metrics.IncWebhookEvent("unverified", "rejected")
		metrics.ObserveWebhook("rejected", time.Since(start).Seconds())
		u.log.Warn().Err(err).Msg("webhook rejected")
		return "", err
	}

	ctx = logging.WithEventID(ctx, ev.ID)
	log := logging.With(ctx, u.log)

	var (
		outcome string
		effects applied
	)
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		effects = effects[:0]
		fresh, err := u.events.MarkProcessed(ctx, tx, &model.WebhookEvent{ID: ev.ID, Type: ev.Type, ProcessedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		if !fresh {
			return domain.ErrEventProcessed
		}
		outcome, err = u.dispatch(ctx, tx, ev, &effects)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrEventProcessed):
		outcome = WebhookDuplicate
	case err != nil:
		metrics.IncWebhookEvent(ev.Type, "error")
		metrics.ObserveWebhook("error", time.Since(start).Seconds())
		log.Error().Err(err).Str("type", ev.Type).Msg("webhook handler failed; awaiting redelivery")
		return "", fmt.Errorf("handle %s: %w", ev.Type, err)
	default:
		for _, f := range effects {
			f()
		}
	}

	metrics.IncWebhookEvent(ev.Type, outcome)
	metrics.ObserveWebhook(outcome, time.Since(start).Seconds())
	log.Info().Str("type", ev.Type).Str("outcome", outcome).Msg("webhook handled")
	return outcome, nil
}

func (u *webhookUC) dispatch(ctx context.Context, tx repository.Tx, ev *adapter.Event, fx *applied) (string, error) {
	switch ev.Type {
	case adapter.EventPaymentIntentSucceeded:
		return u.onHoldSucceeded(ctx, tx, ev, fx)
	case adapter.EventPaymentIntentFailed:
		return u.onHoldDeclined(ctx, tx, ev)
	case adapter.EventPaymentIntentCanceled:
		return u.onHoldCanceled(ctx, tx, ev, fx)
	case adapter.EventChargeRefunded:
		return u.onChargeRefunded(ctx, tx, ev, fx)
	case adapter.EventAccountUpdated:
		return u.onAccountUpdated(ctx, tx, ev)
	case adapter.EventCheckoutSessionCompleted:
		return u.onCheckoutCompleted(ctx, tx, ev, fx)
	case adapter.EventInvoicePaymentSucceeded:
		return u.onInvoicePaid(ctx, tx, ev)
	case adapter.EventCustomerSubscriptionDeleted:
		return u.onSubscriptionDeleted(ctx, tx, ev, fx)
	}
	return WebhookIgnored, nil
}

func isJobHold(h *adapter.PaymentHold) bool {
	return h != nil && h.Metadata["type"] == model.PaymentTypeJob
}

// paymentForHold finds the local row for a hold. A hold whose row was never
// written (the creating request died after the gateway call) is recovered
// from the metadata stamped on it.
func (u *webhookUC) paymentForHold(ctx context.Context, tx repository.Tx, h *adapter.PaymentHold) (*model.Payment, error) {
	p, err := u.payments.FindByIntentID(ctx, tx, h.ID)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return p, err
	}
	md := h.Metadata
	if md["paymentId"] == "" || md["jobId"] == "" || md["proposalId"] == "" || md["clientId"] == "" || md["freelancerId"] == "" {
		return nil, domain.ErrPaymentNotFound
	}
	now := time.Now().UTC()
	p = &model.Payment{
		ID:                     md["paymentId"],
		JobID:                  md["jobId"],
		ProposalID:             md["proposalId"],
		ClientID:               md["clientId"],
		FreelancerID:           md["freelancerId"],
		AmountCents:            h.AmountCents,
		Currency:               h.Currency,
		Status:                 model.PaymentStatusPending,
		GatewayPaymentIntentID: h.ID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := u.payments.Create(ctx, tx, p); err != nil {
		return nil, err
	}
	u.log.Warn().Str("payment_id", p.ID).Str("hold_id", h.ID).Msg("payment row recovered from hold metadata")
	return p, nil
}

// markHeld moves p to held_in_escrow, accepts its proposal and enqueues the
// freelancer notification. It reports false when p was not pending.
func (u *webhookUC) markHeld(ctx context.Context, tx repository.Tx, p *model.Payment, source string, fx *applied) (bool, error) {
	now := time.Now().UTC()
	ok, err := u.payments.MarkHeld(ctx, tx, p.ID, now)
	if err != nil || !ok {
		return false, err
	}
	if _, err := u.jobs.AcceptProposal(ctx, tx, p.ProposalID, now); err != nil {
		return false, err
	}
	if _, err := u.notes.Enqueue(ctx, tx, newNotification(p.FreelancerID, model.NotificationEscrowFunded, p.ID, map[string]string{
		"jobId":       p.JobID,
		"paymentId":   p.ID,
		"amountCents": fmt.Sprint(p.AmountCents),
		"currency":    p.Currency,
	})); err != nil {
		return false, err
	}
	fx.add(func() { metrics.IncPaymentTransition(string(model.PaymentStatusHeldInEscrow), source) })
	return true, nil
}

func (u *webhookUC) markFailed(ctx context.Context, tx repository.Tx, p *model.Payment, source string, fx *applied) (bool, error) {
	ok, err := u.payments.MarkFailed(ctx, tx, p.ID)
	if err != nil || !ok {
		return false, err
	}
	fx.add(func() { metrics.IncPaymentTransition(string(model.PaymentStatusFailed), source) })
	return true, nil
}

func outcomeOf(changed bool) string {
	if changed {
		return WebhookProcessed
	}
	return WebhookNoop
}

func (u *webhookUC) onHoldSucceeded(ctx context.Context, tx repository.Tx, ev *adapter.Event, fx *applied) (string, error) {
	if !isJobHold(ev.PaymentHold) {
		return WebhookIgnored, nil
	}
	p, err := u.paymentForHold(ctx, tx, ev.PaymentHold)
	if errors.Is(err, domain.ErrNotFound) {
		u.log.Warn().Str("hold_id", ev.PaymentHold.ID).Msg("job hold without payment row or metadata")
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	changed, err := u.markHeld(ctx, tx, p, "webhook", fx)
	return outcomeOf(changed), err
}

// onHoldDeclined keeps the payment pending: after a decline the intent goes
// back to requires_payment_method and the client can retry the same hold.
func (u *webhookUC) onHoldDeclined(ctx context.Context, tx repository.Tx, ev *adapter.Event) (string, error) {
	if !isJobHold(ev.PaymentHold) {
		return WebhookIgnored, nil
	}
	p, err := u.payments.FindByIntentID(ctx, tx, ev.PaymentHold.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	reason := ev.PaymentHold.FailureMessage
	if reason == "" {
		reason = "payment declined"
	}
	changed, err := u.payments.RecordHoldFailure(ctx, tx, p.ID, reason)
	if err != nil {
		return "", err
	}
	u.log.Warn().Str("payment_id", p.ID).Str("reason", reason).Msg("hold attempt declined; payment stays pending")
	return outcomeOf(changed), nil
}

// onHoldCanceled ends a pending payment; a canceled intent cannot be retried.
func (u *webhookUC) onHoldCanceled(ctx context.Context, tx repository.Tx, ev *adapter.Event, fx *applied) (string, error) {
	if !isJobHold(ev.PaymentHold) {
		return WebhookIgnored, nil
	}
	p, err := u.payments.FindByIntentID(ctx, tx, ev.PaymentHold.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	changed, err := u.markFailed(ctx, tx, p, "webhook", fx)
	return outcomeOf(changed), err
}

func (u *webhookUC) onChargeRefunded(ctx context.Context, tx repository.Tx, ev *adapter.Event, fx *applied) (string, error) {
	ch := ev.Charge
	// Partial refunds leave the escrow in place.
	if ch == nil || ch.PaymentHoldID == "" || !ch.Refunded {
		return WebhookIgnored, nil
	}
	p, err := u.payments.FindByIntentID(ctx, tx, ch.PaymentHoldID)
	if errors.Is(err, domain.ErrNotFound) {
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	ok, err := u.payments.MarkRefunded(ctx, tx, p.ID)
	if err != nil || !ok {
		return outcomeOf(false), err
	}
	if _, err := u.notes.Enqueue(ctx, tx, newNotification(p.ClientID, model.NotificationPaymentRefund, p.ID, map[string]string{
		"jobId":       p.JobID,
		"paymentId":   p.ID,
		"amountCents": fmt.Sprint(ch.AmountRefunded),
		"currency":    p.Currency,
	})); err != nil {
		return "", err
	}
	fx.add(func() { metrics.IncPaymentTransition(string(model.PaymentStatusRefunded), "webhook") })
	return WebhookProcessed, nil
}

func (u *webhookUC) onAccountUpdated(ctx context.Context, tx repository.Tx, ev *adapter.Event) (string, error) {
	acct := ev.Account
	if acct == nil || acct.ID == "" {
		return WebhookIgnored, nil
	}
	var (
		user *model.User
		err  error
	)
	if id := acct.Metadata["userId"]; id != "" {
		user, err = u.users.FindByID(ctx, tx, id)
	} else {
		user, err = u.users.FindByConnectAccountID(ctx, tx, acct.ID)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if err := u.users.SetConnectedAccount(ctx, tx, user.ID, mirrorAccount(acct)); err != nil {
		return "", err
	}
	return WebhookProcessed, nil
}

func (u *webhookUC) onCheckoutCompleted(ctx context.Context, tx repository.Tx, ev *adapter.Event, fx *applied) (string, error) {
	cs := ev.CheckoutSession
	if cs == nil || cs.Mode != "subscription" || cs.SubscriptionID == "" {
		return WebhookIgnored, nil
	}
	userID := cs.Metadata["userId"]
	if userID == "" {
		userID = cs.ClientReferenceID
	}
	if userID == "" {
		return WebhookIgnored, nil
	}
	user, err := u.users.FindByID(ctx, tx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		u.log.Warn().Str("user_id", userID).Msg("checkout completed for unknown user")
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}

	sub, err := u.gateway.RetrieveSubscription(ctx, cs.SubscriptionID)
	if err != nil {
		return "", err
	}
	tier := model.SubscriptionTier(cs.Metadata["tier"])
	if !tier.Valid() || tier == model.TierFree {
		tier = model.TierPro
	}
	customerID := sub.CustomerID
	if customerID == "" {
		customerID = cs.CustomerID
	}
	start, end := sub.StartDate.UTC(), sub.CurrentPeriodEnd.UTC()
	billing := model.SubscriptionState{
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     customerID,
		Tier:                 tier,
		Status:               model.SubscriptionStatusActive,
		Plan:                 u.prices.PlanFor(sub.PriceID),
		StartDate:            &start,
		EndDate:              &end,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if err := u.users.UpdateBilling(ctx, tx, user.ID, billing); err != nil {
		return "", err
	}
	if user.StripeCustomerID == "" && customerID != "" {
		if err := u.users.SetStripeCustomerID(ctx, tx, user.ID, customerID); err != nil {
			return "", err
		}
	}
	fx.add(func() { metrics.IncSubscriptionEvent("activated", string(tier)) })
	return WebhookProcessed, nil
}

func (u *webhookUC) onInvoicePaid(ctx context.Context, tx repository.Tx, ev *adapter.Event) (string, error) {
	inv := ev.Invoice
	if inv == nil || inv.CustomerID == "" || inv.SubscriptionID == "" {
		return WebhookIgnored, nil
	}
	user, err := u.users.FindByCustomerID(ctx, tx, inv.CustomerID)
	if errors.Is(err, domain.ErrNotFound) {
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	at := ev.Created
	if at.IsZero() {
		at = time.Now().UTC()
	}
	entry := model.NewTransactionLogEntry(user.ID, model.TransactionKindSubscriptionPayment, inv.ID, inv.AmountPaid, inv.Currency, at)
	appended, err := u.ledger.Append(ctx, tx, entry)
	if err != nil {
		return "", err
	}

	// Keep EndDate on the current paid period; status is untouched.
	b := user.Billing
	if b.StripeSubscriptionID == inv.SubscriptionID && !inv.PeriodEnd.IsZero() && (b.EndDate == nil || inv.PeriodEnd.After(*b.EndDate)) {
		end := inv.PeriodEnd.UTC()
		b.EndDate = &end
		if err := u.users.UpdateBilling(ctx, tx, user.ID, b); err != nil {
			return "", err
		}
		appended = true
	}
	return outcomeOf(appended), nil
}

func (u *webhookUC) onSubscriptionDeleted(ctx context.Context, tx repository.Tx, ev *adapter.Event, fx *applied) (string, error) {
	sub := ev.Subscription
	if sub == nil || sub.CustomerID == "" {
		return WebhookIgnored, nil
	}
	user, err := u.users.FindByCustomerID(ctx, tx, sub.CustomerID)
	if errors.Is(err, domain.ErrNotFound) {
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	b := user.Billing
	// A newer subscription replaced this one; leave it alone.
	if b.StripeSubscriptionID != "" && b.StripeSubscriptionID != sub.ID {
		return WebhookIgnored, nil
	}
	if b.Status == model.SubscriptionStatusCancelled && b.Tier == model.TierFree {
		return WebhookNoop, nil
	}
	prevTier := b.Tier
	b.Status = model.SubscriptionStatusCancelled
	b.Tier = model.TierFree
	b.CancelAtPeriodEnd = false
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd.UTC()
		b.EndDate = &end
	}
	if err := u.users.UpdateBilling(ctx, tx, user.ID, b); err != nil {
		return "", err
	}
	fx.add(func() { metrics.IncSubscriptionEvent("cancelled", string(prevTier)) })
	return WebhookProcessed, nil
}

func (u *webhookUC) ReconcileStaleHolds(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := u.payments.ListPendingOlderThan(ctx, repository.NoTX, before, limit)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			return moved, ctx.Err()
		}
		hold, err := u.gateway.RetrievePaymentHold(ctx, p.GatewayPaymentIntentID)
		if err != nil {
			u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("stale hold lookup failed")
			continue
		}

		var (
			changed bool
			effects applied
		)
		err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			effects = effects[:0]
			var err error
			switch hold.Status {
			case adapter.HoldStatusSucceeded:
				changed, err = u.markHeld(ctx, tx, p, "sweeper", &effects)
			case adapter.HoldStatusCanceled:
				changed, err = u.markFailed(ctx, tx, p, "sweeper", &effects)
			}
			return err
		})
		if err != nil {
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("stale hold transition failed")
			continue
		}
		for _, f := range effects {
			f()
		}
		if changed {
			moved++
			u.log.Info().Str("payment_id", p.ID).Str("hold_status", hold.Status).Msg("stale hold reconciled")
		}
	}
	return moved, nil
}
