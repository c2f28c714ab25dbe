package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSignature is returned by a WebhookVerifier for payloads that
// fail authentication or cannot be decoded. Nothing in them may be trusted.
var ErrInvalidSignature = errors.New("webhook signature verification failed")

// GatewayError carries a payment-provider failure untouched: the provider's
// code and message are what callers show and log.
type GatewayError struct {
	Op         string
	Code       string
	Message    string
	HTTPStatus int
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Account is a connected payout account as the gateway reports it.
type Account struct {
	ID               string
	Email            string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	DisabledReason   string
	Metadata         map[string]string
}

type ConnectedAccountRequest struct {
	Email    string
	Country  string
	Metadata map[string]string
}

// PaymentHoldRequest asks for funds to be captured into the platform balance.
type PaymentHoldRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	CustomerID     string
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentHold mirrors a gateway payment intent.
type PaymentHold struct {
	ID           string
	ClientSecret string
	AmountCents  int64
	Currency     string
	Status       string // gateway status: requires_payment_method, succeeded, canceled, ...
	// FailureMessage is the last decline reason, if any.
	FailureMessage string
	Metadata       map[string]string
}

const (
	HoldStatusSucceeded = "succeeded"
	HoldStatusCanceled  = "canceled"
)

type TransferRequest struct {
	AmountCents    int64
	Currency       string
	Destination    string
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

type Transfer struct {
	ID          string
	AmountCents int64
	Destination string
}

type PayoutRequest struct {
	AccountID      string
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

type Payout struct {
	ID          string
	AmountCents int64
	Status      string
	ArrivalDate time.Time
}

type RefundRequest struct {
	PaymentHoldID  string
	Metadata       map[string]string
	IdempotencyKey string
}

type Refund struct {
	ID     string
	Status string
}

// Balance is a connected account balance summed across currencies.
type Balance struct {
	AvailableCents int64
	PendingCents   int64
}

type CustomerRequest struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type CheckoutRequest struct {
	CustomerID        string
	PriceID           string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

type CheckoutSession struct {
	ID                string
	URL               string
	Mode              string
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	Metadata          map[string]string
}

// Subscription mirrors a gateway subscription object.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CancelAtPeriodEnd  bool
	StartDate          time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Metadata           map[string]string
}

// PaymentGateway is the hex port for the external payment processor.
// Implementations do not retry; every error is returned as a *GatewayError.
type PaymentGateway interface {
	Name() string

	CreateConnectedAccount(ctx context.Context, req ConnectedAccountRequest) (*Account, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (url string, err error)
	RetrieveAccount(ctx context.Context, accountID string) (*Account, error)

	CreatePaymentHold(ctx context.Context, req PaymentHoldRequest) (*PaymentHold, error)
	RetrievePaymentHold(ctx context.Context, id string) (*PaymentHold, error)
	RefundPaymentHold(ctx context.Context, req RefundRequest) (*Refund, error)

	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error)
	GetBalance(ctx context.Context, accountID string) (*Balance, error)

	CreateCustomer(ctx context.Context, req CustomerRequest) (customerID string, err error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)
	// CancelSubscriptionAtPeriodEnd sets cancel_at_period_end; access continues until the period ends.
	CancelSubscriptionAtPeriodEnd(ctx context.Context, id string) (*Subscription, error)
}

// -----------------------------
// Webhook events
// -----------------------------

const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventInvoicePaymentSucceeded     = "invoice.payment_succeeded"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentIntentSucceeded      = "payment_intent.succeeded"
	EventPaymentIntentFailed         = "payment_intent.payment_failed" // retryable decline
	EventPaymentIntentCanceled       = "payment_intent.canceled"
	EventChargeRefunded              = "charge.refunded"
	EventAccountUpdated              = "account.updated"
)

// Invoice is the part of a paid invoice the ledger needs.
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	AmountPaid     int64
	Currency       string
	PeriodEnd      time.Time
}

// Charge is the part of a refunded charge the ledger needs.
type Charge struct {
	ID             string
	PaymentHoldID  string
	AmountCents    int64
	AmountRefunded int64
	Refunded       bool
}

// Event is a verified gateway notification. Exactly one of the typed
// objects is set, according to Type; Raw keeps the original object.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Raw     json.RawMessage

	PaymentHold     *PaymentHold
	Account         *Account
	CheckoutSession *CheckoutSession
	Invoice         *Invoice
	Subscription    *Subscription
	Charge          *Charge
}

// WebhookVerifier authenticates a signed payload before anything in it is trusted.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (*Event, error)
}
