// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.PaymentGateway on a per-instance Stripe
// API client; it never touches the package-level stripe.Key.
type StripeGateway struct {
	api      *client.API
	currency string
}

func NewStripeGateway(secretKey, defaultCurrency string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	if defaultCurrency == "" {
		defaultCurrency = "usd"
	}
	return &StripeGateway{
		api:      client.New(secretKey, nil),
		currency: strings.ToLower(defaultCurrency),
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

// wrapErr keeps the provider's code and message; nothing is retried here.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return &adapter.GatewayError{Op: op, Code: string(se.Code), Message: se.Msg, HTTPStatus: se.HTTPStatusCode}
	}
	return &adapter.GatewayError{Op: op, Message: err.Error()}
}

// track is deferred as `defer g.track(op, &err)()` so the named result is read on return.
func (g *StripeGateway) track(op string, err *error) func() {
	start := time.Now()
	return func() { metrics.ObserveGatewayCall(g.Name(), op, start, *err) }
}

func (g *StripeGateway) cur(c string) string {
	if c == "" {
		return g.currency
	}
	return strings.ToLower(c)
}

type metadataSetter interface {
	AddMetadata(key, value string)
}

func addMetadata(p metadataSetter, md map[string]string) {
	for k, v := range md {
		p.AddMetadata(k, v)
	}
}

// -----------------------------
// Connected accounts
// -----------------------------

func toAccount(a *stripe.Account) *adapter.Account {
	out := &adapter.Account{
		ID:               a.ID,
		Email:            a.Email,
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
		DetailsSubmitted: a.DetailsSubmitted,
		Metadata:         a.Metadata,
	}
	if a.Requirements != nil {
		out.DisabledReason = string(a.Requirements.DisabledReason)
	}
	return out
}

func (g *StripeGateway) CreateConnectedAccount(ctx context.Context, req adapter.ConnectedAccountRequest) (acct *adapter.Account, err error) {
	defer g.track("create_account", &err)()
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(req.Email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if req.Country != "" {
		params.Country = stripe.String(req.Country)
	}
	params.Context = ctx
	addMetadata(params, req.Metadata)
	a, err := g.api.Accounts.New(params)
	if err != nil {
		return nil, wrapErr("create_account", err)
	}
	return toAccount(a), nil
}

func (g *StripeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (url string, err error) {
	defer g.track("create_account_link", &err)()
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", wrapErr("create_account_link", err)
	}
	return link.URL, nil
}

func (g *StripeGateway) RetrieveAccount(ctx context.Context, accountID string) (acct *adapter.Account, err error) {
	defer g.track("retrieve_account", &err)()
	params := &stripe.AccountParams{}
	params.Context = ctx
	a, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, wrapErr("retrieve_account", err)
	}
	return toAccount(a), nil
}

// -----------------------------
// Payment holds, transfers, payouts
// -----------------------------

func toHold(pi *stripe.PaymentIntent) *adapter.PaymentHold {
	return &adapter.PaymentHold{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
	}
}

// CreatePaymentHold captures automatically: funds land in the platform
// balance and stay there until a transfer moves them.
func (g *StripeGateway) CreatePaymentHold(ctx context.Context, req adapter.PaymentHoldRequest) (hold *adapter.PaymentHold, err error) {
	defer g.track("create_payment_intent", &err)()
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(g.cur(req.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	addMetadata(params, req.Metadata)
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapErr("create_payment_intent", err)
	}
	return toHold(pi), nil
}

func (g *StripeGateway) RetrievePaymentHold(ctx context.Context, id string) (hold *adapter.PaymentHold, err error) {
	defer g.track("retrieve_payment_intent", &err)()
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, wrapErr("retrieve_payment_intent", err)
	}
	return toHold(pi), nil
}

func (g *StripeGateway) RefundPaymentHold(ctx context.Context, req adapter.RefundRequest) (refund *adapter.Refund, err error) {
	defer g.track("create_refund", &err)()
	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.PaymentHoldID)}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	addMetadata(params, req.Metadata)
	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, wrapErr("create_refund", err)
	}
	return &adapter.Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func (g *StripeGateway) CreateTransfer(ctx context.Context, req adapter.TransferRequest) (tr *adapter.Transfer, err error) {
	defer g.track("create_transfer", &err)()
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(g.cur(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	addMetadata(params, req.Metadata)
	t, err := g.api.Transfers.New(params)
	if err != nil {
		return nil, wrapErr("create_transfer", err)
	}
	out := &adapter.Transfer{ID: t.ID, AmountCents: t.Amount, Destination: req.Destination}
	if t.Destination != nil {
		out.Destination = t.Destination.ID
	}
	return out, nil
}

// CreatePayout pays out from the connected account's own balance.
func (g *StripeGateway) CreatePayout(ctx context.Context, req adapter.PayoutRequest) (po *adapter.Payout, err error) {
	defer g.track("create_payout", &err)()
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(g.cur(req.Currency)),
	}
	params.Context = ctx
	params.SetStripeAccount(req.AccountID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	addMetadata(params, req.Metadata)
	p, err := g.api.Payouts.New(params)
	if err != nil {
		return nil, wrapErr("create_payout", err)
	}
	return &adapter.Payout{
		ID:          p.ID,
		AmountCents: p.Amount,
		Status:      string(p.Status),
		ArrivalDate: time.Unix(p.ArrivalDate, 0).UTC(),
	}, nil
}

// GetBalance sums every currency bucket; callers treat the result as a
// single figure in minor units.
func (g *StripeGateway) GetBalance(ctx context.Context, accountID string) (bal *adapter.Balance, err error) {
	defer g.track("retrieve_balance", &err)()
	params := &stripe.BalanceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)
	b, err := g.api.Balance.Get(params)
	if err != nil {
		return nil, wrapErr("retrieve_balance", err)
	}
	out := &adapter.Balance{}
	for _, a := range b.Available {
		out.AvailableCents += a.Amount
	}
	for _, a := range b.Pending {
		out.PendingCents += a.Amount
	}
	return out, nil
}

// -----------------------------
// Customers & subscriptions
// -----------------------------

func (g *StripeGateway) CreateCustomer(ctx context.Context, req adapter.CustomerRequest) (id string, err error) {
	defer g.track("create_customer", &err)()
	params := &stripe.CustomerParams{Email: stripe.String(req.Email)}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx
	addMetadata(params, req.Metadata)
	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", wrapErr("create_customer", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req adapter.CheckoutRequest) (cs *adapter.CheckoutSession, err error) {
	defer g.track("create_checkout_session", &err)()
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	params.Context = ctx
	addMetadata(params, req.Metadata)
	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapErr("create_checkout_session", err)
	}
	return toCheckoutSession(s), nil
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, id string) (sub *adapter.Subscription, err error) {
	defer g.track("retrieve_subscription", &err)()
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := g.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, wrapErr("retrieve_subscription", err)
	}
	return ToSubscription(s), nil
}

func (g *StripeGateway) CancelSubscriptionAtPeriodEnd(ctx context.Context, id string) (sub *adapter.Subscription, err error) {
	defer g.track("cancel_subscription", &err)()
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	s, err := g.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, wrapErr("cancel_subscription", err)
	}
	return ToSubscription(s), nil
}

func toCheckoutSession(s *stripe.CheckoutSession) *adapter.CheckoutSession {
	out := &adapter.CheckoutSession{
		ID:                s.ID,
		URL:               s.URL,
		Mode:              string(s.Mode),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

// ToSubscription flattens a Stripe subscription. Period bounds and price
// live on the first item in current API versions.
func ToSubscription(s *stripe.Subscription) *adapter.Subscription {
	out := &adapter.Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.StartDate > 0 {
		out.StartDate = time.Unix(s.StartDate, 0).UTC()
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodStart > 0 {
			out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return out
}
