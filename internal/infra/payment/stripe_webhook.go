package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"freelance-escrow/internal/domain/ports/adapter"
	gw "freelance-escrow/internal/infra/adapters/payment"
)

var _ adapter.WebhookVerifier = (*StripeWebhookVerifier)(nil)

// StripeWebhookVerifier authenticates Stripe-Signature headers and decodes
// the event object into the typed adapter.Event envelope.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret empty")
	}
	return &StripeWebhookVerifier{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

func (v *StripeWebhookVerifier) Verify(payload []byte, signatureHeader string) (*adapter.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrInvalidSignature, err)
	}
	out, err := decodeEvent(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", adapter.ErrInvalidSignature, ev.Type, err)
	}
	return out, nil
}

// invoicePayload reads only the invoice fields we need; the subscription
// reference moved under parent.subscription_details in recent API versions.
type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	PeriodEnd    int64  `json:"period_end"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines *struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (p invoicePayload) toInvoice() *adapter.Invoice {
	inv := &adapter.Invoice{
		ID:             p.ID,
		CustomerID:     p.Customer,
		SubscriptionID: p.Subscription,
		AmountPaid:     p.AmountPaid,
		Currency:       p.Currency,
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil && p.Parent.SubscriptionDetails.Subscription != "" {
		inv.SubscriptionID = p.Parent.SubscriptionDetails.Subscription
	}
	end := p.PeriodEnd
	if p.Lines != nil && len(p.Lines.Data) > 0 && p.Lines.Data[0].Period.End > 0 {
		end = p.Lines.Data[0].Period.End
	}
	if end > 0 {
		inv.PeriodEnd = time.Unix(end, 0).UTC()
	}
	return inv
}

func decodeEvent(ev stripe.Event) (*adapter.Event, error) {
	out := &adapter.Event{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil {
		return out, nil
	}
	raw := ev.Data.Raw
	out.Raw = raw

	switch out.Type {
	case adapter.EventPaymentIntentSucceeded, adapter.EventPaymentIntentFailed, adapter.EventPaymentIntentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, err
		}
		out.PaymentHold = &adapter.PaymentHold{
			ID:          pi.ID,
			AmountCents: pi.Amount,
			Currency:    string(pi.Currency),
			Status:      string(pi.Status),
			Metadata:    pi.Metadata,
		}
		if pi.LastPaymentError != nil {
			out.PaymentHold.FailureMessage = pi.LastPaymentError.Msg
		}
	case adapter.EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, err
		}
		out.Charge = &adapter.Charge{
			ID:             ch.ID,
			AmountCents:    ch.Amount,
			AmountRefunded: ch.AmountRefunded,
			Refunded:       ch.Refunded,
		}
		if ch.PaymentIntent != nil {
			out.Charge.PaymentHoldID = ch.PaymentIntent.ID
		}
	case adapter.EventAccountUpdated:
		var a stripe.Account
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		acct := &adapter.Account{
			ID:               a.ID,
			Email:            a.Email,
			ChargesEnabled:   a.ChargesEnabled,
			PayoutsEnabled:   a.PayoutsEnabled,
			DetailsSubmitted: a.DetailsSubmitted,
			Metadata:         a.Metadata,
		}
		if a.Requirements != nil {
			acct.DisabledReason = string(a.Requirements.DisabledReason)
		}
		out.Account = acct
	case adapter.EventCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		cs := &adapter.CheckoutSession{
			ID:                s.ID,
			URL:               s.URL,
			Mode:              string(s.Mode),
			ClientReferenceID: s.ClientReferenceID,
			Metadata:          s.Metadata,
		}
		if s.Customer != nil {
			cs.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			cs.SubscriptionID = s.Subscription.ID
		}
		out.CheckoutSession = cs
	case adapter.EventInvoicePaymentSucceeded:
		var p invoicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		out.Invoice = p.toInvoice()
	case adapter.EventCustomerSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		out.Subscription = gw.ToSubscription(&s)
	}
	return out, nil
}
