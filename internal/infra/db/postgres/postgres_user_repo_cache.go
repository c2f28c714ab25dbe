package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/repository"
	"freelance-escrow/internal/infra/metrics"
	red "freelance-escrow/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator caches non-transactional reads by user id. Reads
// inside a transaction always hit the database, since they lock the row.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.Cache
	ttl   time.Duration
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.Cache, ttl time.Duration) repository.UserRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &userRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
	}
}

func userKey(id string) string { return "user:id:" + id }

func (d *userRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	_ = d.cache.Del(ctx, userKey(id))
}

func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	d.invalidate(ctx, u.ID)
	return d.inner.Save(ctx, tx, u)
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if tx != nil {
		metrics.IncCacheRequest("user", "bypass")
		return d.inner.FindByID(ctx, tx, id)
	}
	key := userKey(id)
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncCacheRequest("user", "hit")
			return &user, nil
		}
	case !errors.Is(err, red.Nil):
		metrics.IncCacheRequest("user", "error")
	}

	metrics.IncCacheRequest("user", "miss")
	user, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if user != nil {
		bytes, _ := json.Marshal(user)
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return user, nil
}

// Lookups by gateway ids come from webhooks and are not cached.
func (d *userRepoCacheDecorator) FindByCustomerID(ctx context.Context, tx repository.Tx, customerID string) (*model.User, error) {
	return d.inner.FindByCustomerID(ctx, tx, customerID)
}

func (d *userRepoCacheDecorator) FindByConnectAccountID(ctx context.Context, tx repository.Tx, accountID string) (*model.User, error) {
	return d.inner.FindByConnectAccountID(ctx, tx, accountID)
}

func (d *userRepoCacheDecorator) SetConnectedAccount(ctx context.Context, tx repository.Tx, userID string, acct model.ConnectedAccount) error {
	d.invalidate(ctx, userID)
	return d.inner.SetConnectedAccount(ctx, tx, userID, acct)
}

func (d *userRepoCacheDecorator) SetStripeCustomerID(ctx context.Context, tx repository.Tx, userID, customerID string) error {
	d.invalidate(ctx, userID)
	return d.inner.SetStripeCustomerID(ctx, tx, userID, customerID)
}

func (d *userRepoCacheDecorator) UpdateBilling(ctx context.Context, tx repository.Tx, userID string, billing model.SubscriptionState) error {
	d.invalidate(ctx, userID)
	return d.inner.UpdateBilling(ctx, tx, userID, billing)
}

func (d *userRepoCacheDecorator) SetCancelAtPeriodEnd(ctx context.Context, tx repository.Tx, userID, subscriptionID string, endDate *time.Time) (bool, error) {
	d.invalidate(ctx, userID)
	return d.inner.SetCancelAtPeriodEnd(ctx, tx, userID, subscriptionID, endDate)
}

func (d *userRepoCacheDecorator) AddEarnings(ctx context.Context, tx repository.Tx, userID string, amountCents int64, jobs int) error {
	d.invalidate(ctx, userID)
	return d.inner.AddEarnings(ctx, tx, userID, amountCents, jobs)
}
