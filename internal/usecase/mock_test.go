//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"freelance-escrow/internal/domain"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/domain/ports/repository"
	"freelance-escrow/internal/infra/adapters/payment"
)

// =============================
// Transactions
// =============================

// snapshotter is implemented by every in-memory repo so MockTxManager can
// roll back a failed transaction the way Postgres would.
type snapshotter interface {
	snapshot() (restore func())
}

type MockTxManager struct {
	stores     []snapshotter
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager(stores ...snapshotter) *MockTxManager {
	return &MockTxManager{stores: stores}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	restores := make([]func(), 0, len(m.stores))
	for _, s := range m.stores {
		restores = append(restores, s.snapshot())
	}
	if err := fn(ctx, repository.NoTX); err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return err
	}
	return nil
}

// =============================
// Repositories
// =============================

// ---- Payments ----

type memPaymentRepo struct {
	mu   sync.Mutex
	rows []*model.Payment

	MarkReleasedFunc func(ctx context.Context, tx repository.Tx, id string, split model.FeeSplit, transferID string, at time.Time) (bool, error)
}

var _ repository.PaymentRepository = (*memPaymentRepo)(nil)

func newMemPaymentRepo() *memPaymentRepo { return &memPaymentRepo{} }

func clonePayment(p *model.Payment) *model.Payment {
	cp := *p
	if p.RefundRequestedAt != nil {
		t := *p.RefundRequestedAt
		cp.RefundRequestedAt = &t
	}
	return &cp
}

func (m *memPaymentRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make([]*model.Payment, len(m.rows))
	for i, p := range m.rows {
		saved[i] = clonePayment(p)
	}
	return func() {
		m.mu.Lock()
		m.rows = saved
		m.mu.Unlock()
	}
}

// last returns the most recently created row matching pred.
func (m *memPaymentRepo) last(pred func(*model.Payment) bool) *model.Payment {
	for i := len(m.rows) - 1; i >= 0; i-- {
		if pred(m.rows[i]) {
			return m.rows[i]
		}
	}
	return nil
}

func (m *memPaymentRepo) lookup(pred func(*model.Payment) bool) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.last(pred); p != nil {
		return clonePayment(p), nil
	}
	return nil, domain.ErrPaymentNotFound
}

func (m *memPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last(func(x *model.Payment) bool {
		return x.ID == p.ID || x.GatewayPaymentIntentID == p.GatewayPaymentIntentID || (x.JobID == p.JobID && x.Status.IsActive())
	}) != nil {
		return domain.ErrAlreadyExists
	}
	m.rows = append(m.rows, clonePayment(p))
	return nil
}

func (m *memPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	return m.lookup(func(p *model.Payment) bool { return p.ID == id })
}

func (m *memPaymentRepo) FindByIntentID(ctx context.Context, tx repository.Tx, intentID string) (*model.Payment, error) {
	return m.lookup(func(p *model.Payment) bool { return p.GatewayPaymentIntentID == intentID })
}

func (m *memPaymentRepo) FindActiveByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Payment, error) {
	return m.lookup(func(p *model.Payment) bool { return p.JobID == jobID && p.Status.IsActive() })
}

func (m *memPaymentRepo) FindLatestByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Payment, error) {
	return m.lookup(func(p *model.Payment) bool { return p.JobID == jobID })
}

func (m *memPaymentRepo) transition(id string, from, to model.PaymentStatus, apply func(p *model.Payment)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.last(func(x *model.Payment) bool { return x.ID == id })
	if p == nil || p.Status != from {
		return false
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	if apply != nil {
		apply(p)
	}
	return true
}

func (m *memPaymentRepo) MarkHeld(ctx context.Context, tx repository.Tx, id string, paidAt time.Time) (bool, error) {
	return m.transition(id, model.PaymentStatusPending, model.PaymentStatusHeldInEscrow, func(p *model.Payment) {
		at := paidAt
		p.PaidAt = &at
	}), nil
}

func (m *memPaymentRepo) MarkReleased(ctx context.Context, tx repository.Tx, id string, split model.FeeSplit, transferID string, releasedAt time.Time) (bool, error) {
	if m.MarkReleasedFunc != nil {
		return m.MarkReleasedFunc(ctx, tx, id, split, transferID, releasedAt)
	}
	m.mu.Lock()
	p := m.last(func(x *model.Payment) bool { return x.ID == id })
	refunding := p != nil && p.RefundRequestedAt != nil
	m.mu.Unlock()
	if refunding {
		return false, nil
	}
	return m.transition(id, model.PaymentStatusHeldInEscrow, model.PaymentStatusReleased, func(p *model.Payment) {
		tid, at := transferID, releasedAt
		p.TransferID = &tid
		p.ReleasedAt = &at
		p.PlatformFeeCents = split.PlatformFeeCents
		p.FreelancerAmountCents = split.FreelancerAmountCents
	}), nil
}

func (m *memPaymentRepo) RecordHoldFailure(ctx context.Context, tx repository.Tx, id, reason string) (bool, error) {
	return m.transition(id, model.PaymentStatusPending, model.PaymentStatusPending, func(p *model.Payment) {
		p.HoldFailure = reason
	}), nil
}

func (m *memPaymentRepo) MarkRefundRequested(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	return m.transition(id, model.PaymentStatusHeldInEscrow, model.PaymentStatusHeldInEscrow, func(p *model.Payment) {
		if p.RefundRequestedAt == nil {
			t := at
			p.RefundRequestedAt = &t
		}
	}), nil
}

func (m *memPaymentRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return m.transition(id, model.PaymentStatusPending, model.PaymentStatusFailed, nil), nil
}

func (m *memPaymentRepo) MarkRefunded(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return m.transition(id, model.PaymentStatusHeldInEscrow, model.PaymentStatusRefunded, nil), nil
}

func (m *memPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.rows {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(before) {
			out = append(out, clonePayment(p))
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---- Users ----

type memUserRepo struct {
	mu    sync.Mutex
	store map[string]*model.User
}

var _ repository.UserRepository = (*memUserRepo)(nil)

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{store: make(map[string]*model.User)}
}

func cloneUser(u *model.User) *model.User {
	cp := *u
	if u.ConnectedAccount != nil {
		ca := *u.ConnectedAccount
		cp.ConnectedAccount = &ca
	}
	return &cp
}

func (m *memUserRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[string]*model.User, len(m.store))
	for k, u := range m.store {
		saved[k] = cloneUser(u)
	}
	return func() {
		m.mu.Lock()
		m.store = saved
		m.mu.Unlock()
	}
}

func (m *memUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[u.ID] = cloneUser(u)
	return nil
}

func (m *memUserRepo) find(pred func(*model.User) bool) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.store {
		if pred(u) {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ID == id })
}

func (m *memUserRepo) FindByCustomerID(ctx context.Context, tx repository.Tx, customerID string) (*model.User, error) {
	return m.find(func(u *model.User) bool {
		return customerID != "" && (u.StripeCustomerID == customerID || u.Billing.StripeCustomerID == customerID)
	})
}

func (m *memUserRepo) FindByConnectAccountID(ctx context.Context, tx repository.Tx, accountID string) (*model.User, error) {
	return m.find(func(u *model.User) bool {
		return u.ConnectedAccount != nil && u.ConnectedAccount.AccountID == accountID
	})
}

func (m *memUserRepo) update(id string, f func(u *model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	f(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *memUserRepo) SetConnectedAccount(ctx context.Context, tx repository.Tx, userID string, acct model.ConnectedAccount) error {
	return m.update(userID, func(u *model.User) { u.ConnectedAccount = &acct })
}

func (m *memUserRepo) SetStripeCustomerID(ctx context.Context, tx repository.Tx, userID, customerID string) error {
	return m.update(userID, func(u *model.User) { u.StripeCustomerID = customerID })
}

func (m *memUserRepo) UpdateBilling(ctx context.Context, tx repository.Tx, userID string, billing model.SubscriptionState) error {
	return m.update(userID, func(u *model.User) { u.Billing = billing })
}

func (m *memUserRepo) SetCancelAtPeriodEnd(ctx context.Context, tx repository.Tx, userID, subscriptionID string, endDate *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[userID]
	if !ok || subscriptionID == "" || u.Billing.StripeSubscriptionID != subscriptionID || u.Billing.Status != model.SubscriptionStatusActive {
		return false, nil
	}
	u.Billing.CancelAtPeriodEnd = true
	if endDate != nil {
		t := *endDate
		u.Billing.EndDate = &t
	}
	u.UpdatedAt = time.Now()
	return true, nil
}

func (m *memUserRepo) AddEarnings(ctx context.Context, tx repository.Tx, userID string, amountCents int64, jobs int) error {
	return m.update(userID, func(u *model.User) {
		u.TotalEarningsCents += amountCents
		u.CompletedJobs += jobs
	})
}

// ---- Jobs ----

type memJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	proposals map[string]*model.Proposal
}

var _ repository.JobRepository = (*memJobRepo)(nil)

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*model.Job{}, proposals: map[string]*model.Proposal{}}
}

func (m *memJobRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make(map[string]*model.Job, len(m.jobs))
	for k, j := range m.jobs {
		cp := *j
		jobs[k] = &cp
	}
	props := make(map[string]*model.Proposal, len(m.proposals))
	for k, p := range m.proposals {
		cp := *p
		props[k] = &cp
	}
	return func() {
		m.mu.Lock()
		m.jobs, m.proposals = jobs, props
		m.mu.Unlock()
	}
}

func (m *memJobRepo) SaveJob(ctx context.Context, tx repository.Tx, j *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memJobRepo) SaveProposal(ctx context.Context, tx repository.Tx, p *model.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

func (m *memJobRepo) FindJob(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) FindProposal(ctx context.Context, tx repository.Tx, id string) (*model.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memJobRepo) AcceptProposal(ctx context.Context, tx repository.Tx, proposalID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	if !ok || p.Status != model.ProposalStatusPending {
		return false, nil
	}
	p.Status = model.ProposalStatusAccepted
	p.AcceptedAt = &at
	if j, ok := m.jobs[p.JobID]; ok {
		j.Status = model.JobStatusInProgress
	}
	return true, nil
}

// ---- Transaction log, webhook events, notifications ----

type memLedgerRepo struct {
	mu      sync.Mutex
	entries []*model.TransactionLogEntry
}

var _ repository.TransactionLogRepository = (*memLedgerRepo)(nil)

func (m *memLedgerRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := append([]*model.TransactionLogEntry(nil), m.entries...)
	return func() {
		m.mu.Lock()
		m.entries = saved
		m.mu.Unlock()
	}
}

func (m *memLedgerRepo) Append(ctx context.Context, tx repository.Tx, e *model.TransactionLogEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.entries {
		if x.SourceID == e.SourceID {
			return false, nil
		}
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return true, nil
}

func (m *memLedgerRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.TransactionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.TransactionLogEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memEventRepo struct {
	mu   sync.Mutex
	seen map[string]model.WebhookEvent
}

var _ repository.WebhookEventRepository = (*memEventRepo)(nil)

func newMemEventRepo() *memEventRepo { return &memEventRepo{seen: map[string]model.WebhookEvent{}} }

func (m *memEventRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[string]model.WebhookEvent, len(m.seen))
	for k, v := range m.seen {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		m.seen = saved
		m.mu.Unlock()
	}
}

func (m *memEventRepo) Exists(ctx context.Context, tx repository.Tx, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[eventID]
	return ok, nil
}

func (m *memEventRepo) MarkProcessed(ctx context.Context, tx repository.Tx, ev *model.WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[ev.ID]; ok {
		return false, nil
	}
	m.seen[ev.ID] = *ev
	return true, nil
}

type memNotificationRepo struct {
	mu    sync.Mutex
	items []*model.Notification

	MarkDeliveredErr error
}

var _ repository.NotificationRepository = (*memNotificationRepo)(nil)

func (m *memNotificationRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := append([]*model.Notification(nil), m.items...)
	return func() {
		m.mu.Lock()
		m.items = saved
		m.mu.Unlock()
	}
}

func (m *memNotificationRepo) Enqueue(ctx context.Context, tx repository.Tx, n *model.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.items {
		if x.DedupeKey == n.DedupeKey {
			return false, nil
		}
	}
	cp := *n
	m.items = append(m.items, &cp)
	return true, nil
}

func (m *memNotificationRepo) ListUndelivered(ctx context.Context, tx repository.Tx, limit int) ([]*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Notification
	for _, n := range m.items {
		if n.DeliveredAt == nil {
			cp := *n
			out = append(out, &cp)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memNotificationRepo) MarkDelivered(ctx context.Context, tx repository.Tx, id string) error {
	if m.MarkDeliveredErr != nil {
		return m.MarkDeliveredErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID == id {
			now := time.Now()
			n.DeliveredAt = &now
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memNotificationRepo) kinds(userID string) []model.NotificationKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.NotificationKind
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n.Kind)
		}
	}
	return out
}

// =============================
// Adapters
// =============================

// MockGateway is the in-memory gateway with hooks for failure injection.
type MockGateway struct {
	*payment.NoopPaymentGateway

	mu                         sync.Mutex
	transferCalls              int
	CreateTransferFunc         func(ctx context.Context, req adapter.TransferRequest) (*adapter.Transfer, error)
	RetrieveSubscriptionFunc   func(ctx context.Context, id string) (*adapter.Subscription, error)
	CancelSubscriptionFunc     func(ctx context.Context, id string) (*adapter.Subscription, error)
	CreatePaymentHoldCallCount int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{NoopPaymentGateway: payment.NewNoopPaymentGateway()}
}

func (g *MockGateway) CreatePaymentHold(ctx context.Context, req adapter.PaymentHoldRequest) (*adapter.PaymentHold, error) {
	g.mu.Lock()
	g.CreatePaymentHoldCallCount++
	g.mu.Unlock()
	return g.NoopPaymentGateway.CreatePaymentHold(ctx, req)
}

func (g *MockGateway) CreateTransfer(ctx context.Context, req adapter.TransferRequest) (*adapter.Transfer, error) {
	g.mu.Lock()
	g.transferCalls++
	g.mu.Unlock()
	if g.CreateTransferFunc != nil {
		return g.CreateTransferFunc(ctx, req)
	}
	return g.NoopPaymentGateway.CreateTransfer(ctx, req)
}

func (g *MockGateway) RetrieveSubscription(ctx context.Context, id string) (*adapter.Subscription, error) {
	if g.RetrieveSubscriptionFunc != nil {
		return g.RetrieveSubscriptionFunc(ctx, id)
	}
	return g.NoopPaymentGateway.RetrieveSubscription(ctx, id)
}

func (g *MockGateway) CancelSubscriptionAtPeriodEnd(ctx context.Context, id string) (*adapter.Subscription, error) {
	if g.CancelSubscriptionFunc != nil {
		return g.CancelSubscriptionFunc(ctx, id)
	}
	return g.NoopPaymentGateway.CancelSubscriptionAtPeriodEnd(ctx, id)
}

// MockVerifier accepts only the "valid" signature and returns the event
// registered for the payload's text.
type MockVerifier struct {
	mu     sync.Mutex
	events map[string]*adapter.Event
}

const validSignature = "valid"

func NewMockVerifier() *MockVerifier { return &MockVerifier{events: map[string]*adapter.Event{}} }

// Sign registers ev and returns the payload that decodes to it.
func (v *MockVerifier) Sign(ev *adapter.Event) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events[ev.ID] = ev
	return []byte(ev.ID)
}

func (v *MockVerifier) Verify(payload []byte, sig string) (*adapter.Event, error) {
	if sig != validSignature {
		return nil, adapter.ErrInvalidSignature
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	ev, ok := v.events[string(payload)]
	if !ok {
		return nil, adapter.ErrInvalidSignature
	}
	return ev, nil
}

type MockNotifier struct {
	mu   sync.Mutex
	Sent []*model.Notification

	NotifyFunc func(ctx context.Context, n *model.Notification) error
}

func (m *MockNotifier) Notify(ctx context.Context, n *model.Notification) error {
	if m.NotifyFunc != nil {
		if err := m.NotifyFunc(ctx, n); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, n)
	return nil
}

// ---- In-memory Locker (implements redis.Locker port) ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockNotAcquired
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
// It writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
