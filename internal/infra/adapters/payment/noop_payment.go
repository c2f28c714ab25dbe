package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"freelance-escrow/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for dev mode and tests. Holds
// start in requires_payment_method; SucceedHold simulates the card charge.
// Idempotency keys replay the first result like the real gateway does.
type NoopPaymentGateway struct {
	mu          sync.Mutex
	seq         int64
	accounts    map[string]*adapter.Account
	holds       map[string]*adapter.PaymentHold
	subs        map[string]*adapter.Subscription
	balances    map[string]*adapter.Balance
	idempotency map[string]interface{}

	Transfers []adapter.TransferRequest
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{
		accounts:    make(map[string]*adapter.Account),
		holds:       make(map[string]*adapter.PaymentHold),
		subs:        make(map[string]*adapter.Subscription),
		balances:    make(map[string]*adapter.Balance),
		idempotency: make(map[string]interface{}),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_noop%d", prefix, g.seq)
}

func (g *NoopPaymentGateway) replay(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}
	v, ok := g.idempotency[key]
	return v, ok
}

func (g *NoopPaymentGateway) remember(key string, v interface{}) {
	if key != "" {
		g.idempotency[key] = v
	}
}

func notFound(op, id string) error {
	return &adapter.GatewayError{Op: op, Code: "resource_missing", Message: "no such object: " + id, HTTPStatus: 404}
}

func (g *NoopPaymentGateway) CreateConnectedAccount(ctx context.Context, req adapter.ConnectedAccountRequest) (*adapter.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := &adapter.Account{ID: g.next("acct"), Email: req.Email, Metadata: req.Metadata}
	g.accounts[a.ID] = a
	g.balances[a.ID] = &adapter.Balance{}
	cp := *a
	return &cp, nil
}

func (g *NoopPaymentGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.accounts[accountID]; !ok {
		return "", notFound("create_account_link", accountID)
	}
	return "https://connect.example.test/onboard/" + accountID + "?return=" + returnURL, nil
}

func (g *NoopPaymentGateway) RetrieveAccount(ctx context.Context, accountID string) (*adapter.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.accounts[accountID]
	if !ok {
		return nil, notFound("retrieve_account", accountID)
	}
	cp := *a
	return &cp, nil
}

// CompleteOnboarding flips an account to fully enabled.
func (g *NoopPaymentGateway) CompleteOnboarding(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.accounts[accountID]; ok {
		a.DetailsSubmitted, a.ChargesEnabled, a.PayoutsEnabled = true, true, true
	}
}

func (g *NoopPaymentGateway) CreatePaymentHold(ctx context.Context, req adapter.PaymentHoldRequest) (*adapter.PaymentHold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.replay(req.IdempotencyKey); ok {
		cp := *v.(*adapter.PaymentHold)
		return &cp, nil
	}
	id := g.next("pi")
	h := &adapter.PaymentHold{
		ID:           id,
		ClientSecret: id + "_secret",
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		Status:       "requires_payment_method",
		Metadata:     req.Metadata,
	}
	g.holds[id] = h
	g.remember(req.IdempotencyKey, h)
	cp := *h
	return &cp, nil
}

func (g *NoopPaymentGateway) RetrievePaymentHold(ctx context.Context, id string) (*adapter.PaymentHold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.holds[id]
	if !ok {
		return nil, notFound("retrieve_payment_intent", id)
	}
	cp := *h
	return &cp, nil
}

// SucceedHold marks a hold as charged, as the card network would.
func (g *NoopPaymentGateway) SucceedHold(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.holds[id]; ok {
		h.Status = adapter.HoldStatusSucceeded
	}
}

func (g *NoopPaymentGateway) RefundPaymentHold(ctx context.Context, req adapter.RefundRequest) (*adapter.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.replay(req.IdempotencyKey); ok {
		return v.(*adapter.Refund), nil
	}
	if _, ok := g.holds[req.PaymentHoldID]; !ok {
		return nil, notFound("create_refund", req.PaymentHoldID)
	}
	r := &adapter.Refund{ID: g.next("re"), Status: "succeeded"}
	g.remember(req.IdempotencyKey, r)
	return r, nil
}

func (g *NoopPaymentGateway) CreateTransfer(ctx context.Context, req adapter.TransferRequest) (*adapter.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.replay(req.IdempotencyKey); ok {
		return v.(*adapter.Transfer), nil
	}
	bal, ok := g.balances[req.Destination]
	if !ok {
		return nil, notFound("create_transfer", req.Destination)
	}
	bal.PendingCents += req.AmountCents
	t := &adapter.Transfer{ID: g.next("tr"), AmountCents: req.AmountCents, Destination: req.Destination}
	g.Transfers = append(g.Transfers, req)
	g.remember(req.IdempotencyKey, t)
	return t, nil
}

func (g *NoopPaymentGateway) CreatePayout(ctx context.Context, req adapter.PayoutRequest) (*adapter.Payout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bal, ok := g.balances[req.AccountID]
	if !ok {
		return nil, notFound("create_payout", req.AccountID)
	}
	if bal.AvailableCents < req.AmountCents {
		return nil, &adapter.GatewayError{Op: "create_payout", Code: "balance_insufficient", Message: "insufficient available balance", HTTPStatus: 400}
	}
	bal.AvailableCents -= req.AmountCents
	return &adapter.Payout{ID: g.next("po"), AmountCents: req.AmountCents, Status: "pending", ArrivalDate: time.Now().Add(48 * time.Hour)}, nil
}

// SettleBalance moves everything pending to available for an account.
func (g *NoopPaymentGateway) SettleBalance(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.balances[accountID]; ok {
		b.AvailableCents += b.PendingCents
		b.PendingCents = 0
	}
}

func (g *NoopPaymentGateway) GetBalance(ctx context.Context, accountID string) (*adapter.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.balances[accountID]
	if !ok {
		return nil, notFound("retrieve_balance", accountID)
	}
	cp := *b
	return &cp, nil
}

func (g *NoopPaymentGateway) CreateCustomer(ctx context.Context, req adapter.CustomerRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next("cus"), nil
}

func (g *NoopPaymentGateway) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UTC()
	sub := &adapter.Subscription{
		ID:                 g.next("sub"),
		CustomerID:         req.CustomerID,
		Status:             "active",
		PriceID:            req.PriceID,
		StartDate:          now,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		Metadata:           req.Metadata,
	}
	g.subs[sub.ID] = sub
	id := g.next("cs")
	return &adapter.CheckoutSession{
		ID:                id,
		URL:               "https://checkout.example.test/" + id,
		Mode:              "subscription",
		CustomerID:        req.CustomerID,
		SubscriptionID:    sub.ID,
		ClientReferenceID: req.ClientReferenceID,
		Metadata:          req.Metadata,
	}, nil
}

func (g *NoopPaymentGateway) RetrieveSubscription(ctx context.Context, id string) (*adapter.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subs[id]
	if !ok {
		return nil, notFound("retrieve_subscription", id)
	}
	cp := *s
	return &cp, nil
}

func (g *NoopPaymentGateway) CancelSubscriptionAtPeriodEnd(ctx context.Context, id string) (*adapter.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subs[id]
	if !ok {
		return nil, notFound("cancel_subscription", id)
	}
	s.CancelAtPeriodEnd = true
	cp := *s
	return &cp, nil
}
