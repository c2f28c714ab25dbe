package usecase

import (
	"context"
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
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionUseCase starts and cancels recurring billing. It never flips
// the tier itself; the webhook reconciler does that from gateway events.
type SubscriptionUseCase interface {
	CreateCheckout(ctx context.Context, in CheckoutInput) (url string, err error)
	Cancel(ctx context.Context, userID, callerID string) (endDate *time.Time, err error)
}

type CheckoutInput struct {
	UserID     string
	CallerID   string
	PriceID    string
	Tier       model.SubscriptionTier // defaults to pro
	SuccessURL string
	CancelURL  string
}

type subscriptionUC struct {
	users   repository.UserRepository
	tm      repository.TransactionManager
	gateway adapter.PaymentGateway
	prices  model.PriceCatalog
	baseURL string
	log     *zerolog.Logger
}

func NewSubscriptionUseCase(users repository.UserRepository, tm repository.TransactionManager, gateway adapter.PaymentGateway, prices model.PriceCatalog, baseURL string, logger *zerolog.Logger) *subscriptionUC {
	l := logging.Component(logger, "subscription")
	return &subscriptionUC{users: users, tm: tm, gateway: gateway, prices: prices, baseURL: baseURL, log: l}
}

// freshUser reads billing state from the database. Reads inside a
// transaction skip the user cache, which may lag behind webhook writes.
func (u *subscriptionUC) freshUser(ctx context.Context, userID string) (*model.User, error) {
	var user *model.User
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		user, err = u.users.FindByID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, storeErr("user", err)
	}
	return user, nil
}

func (u *subscriptionUC) CreateCheckout(ctx context.Context, in CheckoutInput) (string, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.CreateCheckout")()

	if in.CallerID == "" {
		return "", domain.Unauthenticated("sign in to subscribe")
	}
	if in.CallerID != in.UserID {
		return "", domain.PermissionDenied("cannot subscribe for another user")
	}
	if !u.prices.Known(in.PriceID) {
		return "", domain.InvalidArgument("unknown price id")
	}
	tier := in.Tier
	if tier == "" {
		tier = model.TierPro
	}
	if !tier.Valid() || tier == model.TierFree {
		return "", domain.InvalidArgument("tier must be a paid tier")
	}

	user, err := u.freshUser(ctx, in.UserID)
	if err != nil {
		return "", err
	}
	if user.Billing.Status == model.SubscriptionStatusActive && !user.Billing.CancelAtPeriodEnd {
		return "", domain.FailedPrecondition("subscription already active")
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		customerID, err = u.gateway.CreateCustomer(ctx, adapter.CustomerRequest{
			Email:    user.Email,
			Name:     user.DisplayName,
			Metadata: map[string]string{"userId": user.ID},
		})
		if err != nil {
			return "", domain.Internal("create customer", err)
		}
		if err := u.users.SetStripeCustomerID(ctx, repository.NoTX, user.ID, customerID); err != nil {
			return "", domain.Internal("store customer id", err)
		}
	}

	successURL, cancelURL := in.SuccessURL, in.CancelURL
	if successURL == "" {
		successURL = u.baseURL + "/billing/success"
	}
	if cancelURL == "" {
		cancelURL = u.baseURL + "/billing/cancel"
	}
	sess, err := u.gateway.CreateCheckoutSession(ctx, adapter.CheckoutRequest{
		CustomerID:        customerID,
		PriceID:           in.PriceID,
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		ClientReferenceID: user.ID,
		Metadata: map[string]string{
			"userId": user.ID,
			"tier":   string(tier),
			"plan":   string(u.prices.PlanFor(in.PriceID)),
		},
	})
	if err != nil {
		return "", domain.Internal("create checkout session", err)
	}
	metrics.IncSubscriptionEvent("checkout_created", string(tier))
	return sess.URL, nil
}

func (u *subscriptionUC) Cancel(ctx context.Context, userID, callerID string) (*time.Time, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Cancel")()

	if callerID == "" {
		return nil, domain.Unauthenticated("sign in to manage your subscription")
	}
	if callerID != userID {
		return nil, domain.PermissionDenied("cannot cancel another user's subscription")
	}
	user, err := u.freshUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	b := user.Billing
	if b.StripeSubscriptionID == "" || b.Status != model.SubscriptionStatusActive {
		return nil, domain.FailedPrecondition("no active subscription")
	}

	sub, err := u.gateway.CancelSubscriptionAtPeriodEnd(ctx, b.StripeSubscriptionID)
	if err != nil {
		return nil, domain.Internal("cancel subscription", err)
	}

	// Access continues until the period end; tier and status stay as they
	// are. Only the flag and end date are written, and only while the same
	// subscription is still active, so a concurrent deletion webhook wins.
	var endDate *time.Time
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd.UTC()
		endDate = &end
	}
	ok, err := u.users.SetCancelAtPeriodEnd(ctx, repository.NoTX, user.ID, b.StripeSubscriptionID, endDate)
	if err != nil {
		return nil, domain.Internal("store billing state", err)
	}
	if !ok {
		u.log.Warn().Str("user_id", user.ID).Str("subscription_id", b.StripeSubscriptionID).Msg("subscription changed during cancel; billing state left to the webhook")
		return nil, domain.FailedPrecondition("subscription changed; no active subscription")
	}
	if endDate == nil {
		endDate = b.EndDate
	}
	metrics.IncSubscriptionEvent("cancel_requested", string(b.Tier))
	u.log.Info().Str("user_id", user.ID).Str("subscription_id", b.StripeSubscriptionID).Msg("subscription set to cancel at period end")
	return endDate, nil
}
