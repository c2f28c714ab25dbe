//go:build !integration

package postgres

import (
	"context"
	"time"

	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/repository"
	red "freelance-escrow/internal/infra/redis"
)

// mockInnerUserRepo stands in for the pgx-backed repository behind the cache.
type mockInnerUserRepo struct {
	SaveFunc                   func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByIDFunc               func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	FindByCustomerIDFunc       func(ctx context.Context, tx repository.Tx, customerID string) (*model.User, error)
	FindByConnectAccountIDFunc func(ctx context.Context, tx repository.Tx, accountID string) (*model.User, error)
	SetConnectedAccountFunc    func(ctx context.Context, tx repository.Tx, userID string, acct model.ConnectedAccount) error
	UpdateBillingFunc          func(ctx context.Context, tx repository.Tx, userID string, b model.SubscriptionState) error
}

func (m *mockInnerUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	return m.SaveFunc(ctx, tx, u)
}
func (m *mockInnerUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerUserRepo) FindByCustomerID(ctx context.Context, tx repository.Tx, customerID string) (*model.User, error) {
	return m.FindByCustomerIDFunc(ctx, tx, customerID)
}
func (m *mockInnerUserRepo) FindByConnectAccountID(ctx context.Context, tx repository.Tx, accountID string) (*model.User, error) {
	return m.FindByConnectAccountIDFunc(ctx, tx, accountID)
}
func (m *mockInnerUserRepo) SetConnectedAccount(ctx context.Context, tx repository.Tx, userID string, acct model.ConnectedAccount) error {
	return m.SetConnectedAccountFunc(ctx, tx, userID, acct)
}
func (m *mockInnerUserRepo) SetStripeCustomerID(ctx context.Context, tx repository.Tx, userID, customerID string) error {
	return nil
}
func (m *mockInnerUserRepo) UpdateBilling(ctx context.Context, tx repository.Tx, userID string, b model.SubscriptionState) error {
	return m.UpdateBillingFunc(ctx, tx, userID, b)
}
func (m *mockInnerUserRepo) SetCancelAtPeriodEnd(ctx context.Context, tx repository.Tx, userID, subscriptionID string, endDate *time.Time) (bool, error) {
	return false, nil
}
func (m *mockInnerUserRepo) AddEarnings(ctx context.Context, tx repository.Tx, userID string, amountCents int64, jobs int) error {
	return nil
}

// stubCache is a red.Cache whose unset hooks behave like an empty cache.
type stubCache struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.Cache = (*stubCache)(nil)

func (c *stubCache) Get(ctx context.Context, key string) (string, error) {
	if c.GetFunc == nil {
		return "", red.Nil
	}
	return c.GetFunc(ctx, key)
}

func (c *stubCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.SetFunc == nil {
		return nil
	}
	return c.SetFunc(ctx, key, value, ttl)
}

func (c *stubCache) Del(ctx context.Context, keys ...string) error {
	if c.DelFunc == nil {
		return nil
	}
	return c.DelFunc(ctx, keys...)
}
