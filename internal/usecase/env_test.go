//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/usecase"
)

var testPrices = model.PriceCatalog{Monthly: "price_monthly", Quarterly: "price_quarterly", Yearly: "price_yearly"}

const testBaseURL = "https://app.example.test"

// testEnv wires every use case against the same in-memory store and gateway,
// so a test can drive a full flow across client calls and webhooks.
type testEnv struct {
	payments *memPaymentRepo
	users    *memUserRepo
	jobs     *memJobRepo
	ledger   *memLedgerRepo
	events   *memEventRepo
	notes    *memNotificationRepo
	gateway  *MockGateway
	verifier *MockVerifier
	locker   *MockLocker
	tm       *MockTxManager

	escrow  usecase.EscrowUseCase
	webhook usecase.WebhookUseCase
	connect usecase.ConnectUseCase
	subs    usecase.SubscriptionUseCase

	client     *model.User
	freelancer *model.User
	job        *model.Job
	proposal   *model.Proposal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		payments: newMemPaymentRepo(),
		users:    newMemUserRepo(),
		jobs:     newMemJobRepo(),
		ledger:   &memLedgerRepo{},
		events:   newMemEventRepo(),
		notes:    &memNotificationRepo{},
		gateway:  NewMockGateway(),
		verifier: NewMockVerifier(),
		locker:   NewMockLocker(),
	}
	e.tm = NewMockTxManager(e.payments, e.users, e.jobs, e.ledger, e.events, e.notes)
	log := newTestLogger()

	e.escrow = usecase.NewEscrowUseCase(e.payments, e.jobs, e.users, e.notes, e.gateway, e.tm, e.locker, decimal.RequireFromString("0.10"), "usd", log)
	e.webhook = usecase.NewWebhookUseCase(usecase.WebhookDeps{
		Verifier:      e.verifier,
		Gateway:       e.gateway,
		Payments:      e.payments,
		Jobs:          e.jobs,
		Users:         e.users,
		Ledger:        e.ledger,
		Events:        e.events,
		Notifications: e.notes,
		TxManager:     e.tm,
		Prices:        testPrices,
	}, log)
	e.connect = usecase.NewConnectUseCase(e.users, e.gateway, testBaseURL, log)
	e.subs = usecase.NewSubscriptionUseCase(e.users, e.tm, e.gateway, testPrices, testBaseURL, log)

	ctx := context.Background()
	var err error
	if e.client, err = model.NewUser("client-1", "client@example.com", "Client", model.RoleClient); err != nil {
		t.Fatal(err)
	}
	if e.freelancer, err = model.NewUser("freelancer-1", "free@example.com", "Freelancer", model.RoleFreelancer); err != nil {
		t.Fatal(err)
	}
	_ = e.users.Save(ctx, nil, e.client)
	_ = e.users.Save(ctx, nil, e.freelancer)

	e.job = &model.Job{ID: "job-1", ClientID: e.client.ID, Title: "Logo design", Status: model.JobStatusOpen, CreatedAt: time.Now()}
	e.proposal = &model.Proposal{ID: "prop-1", JobID: e.job.ID, FreelancerID: e.freelancer.ID, AmountCents: 10000, Status: model.ProposalStatusPending, CreatedAt: time.Now()}
	_ = e.jobs.SaveJob(ctx, nil, e.job)
	_ = e.jobs.SaveProposal(ctx, nil, e.proposal)
	return e
}

// onboardFreelancer creates the freelancer's connected account, completes
// onboarding at the gateway and mirrors the flags locally.
func (e *testEnv) onboardFreelancer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	res, err := e.connect.CreateAccount(ctx, e.freelancer.ID, e.freelancer.ID)
	if err != nil {
		t.Fatalf("create connected account: %v", err)
	}
	e.gateway.CompleteOnboarding(res.AccountID)
	if _, err := e.connect.CheckStatus(ctx, res.AccountID, e.freelancer.ID); err != nil {
		t.Fatalf("check status: %v", err)
	}
	return res.AccountID
}

func (e *testEnv) deliver(t *testing.T, ev *adapter.Event) (string, error) {
	t.Helper()
	return e.webhook.Handle(context.Background(), e.verifier.Sign(ev), validSignature)
}

// holdSucceededEvent charges the hold at the gateway and returns the event
// the gateway would send for it.
func (e *testEnv) holdSucceededEvent(t *testing.T, eventID, holdID string) *adapter.Event {
	t.Helper()
	e.gateway.SucceedHold(holdID)
	hold, err := e.gateway.RetrievePaymentHold(context.Background(), holdID)
	if err != nil {
		t.Fatalf("retrieve hold: %v", err)
	}
	return &adapter.Event{ID: eventID, Type: adapter.EventPaymentIntentSucceeded, Created: time.Now(), PaymentHold: hold}
}

// fundJob runs createJobHold and the confirming webhook for amount.
func (e *testEnv) fundJob(t *testing.T, amount string) *usecase.HoldResult {
	t.Helper()
	res, err := e.escrow.CreateJobHold(context.Background(), e.job.ID, e.proposal.ID, decimal.RequireFromString(amount), e.client.ID)
	if err != nil {
		t.Fatalf("create job hold: %v", err)
	}
	if _, err := e.deliver(t, e.holdSucceededEvent(t, "evt_funded_"+res.PaymentID, res.PaymentHoldID)); err != nil {
		t.Fatalf("deliver payment_intent.succeeded: %v", err)
	}
	return res
}

func (e *testEnv) payment(t *testing.T, id string) *model.Payment {
	t.Helper()
	p, err := e.payments.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("load payment %s: %v", id, err)
	}
	return p
}

func (e *testEnv) user(t *testing.T, id string) *model.User {
	t.Helper()
	u, err := e.users.FindByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("load user %s: %v", id, err)
	}
	return u
}
