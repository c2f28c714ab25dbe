package repository

import (
	"context"
	"time"

	"freelance-escrow/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByCustomerID(ctx context.Context, tx Tx, customerID string) (*model.User, error)
	FindByConnectAccountID(ctx context.Context, tx Tx, accountID string) (*model.User, error)

	SetConnectedAccount(ctx context.Context, tx Tx, userID string, acct model.ConnectedAccount) error
	SetStripeCustomerID(ctx context.Context, tx Tx, userID, customerID string) error
	UpdateBilling(ctx context.Context, tx Tx, userID string, billing model.SubscriptionState) error
	// SetCancelAtPeriodEnd flags the subscription for cancellation only while
	// subscriptionID is still the user's active subscription.
	SetCancelAtPeriodEnd(ctx context.Context, tx Tx, userID, subscriptionID string, endDate *time.Time) (bool, error)
	// AddEarnings increments the freelancer's running totals.
	AddEarnings(ctx context.Context, tx Tx, userID string, amountCents int64, jobs int) error
}
