//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/repository"
)

func TestUserRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	user := &model.User{
		ID:               "user-123",
		Email:            "f@example.com",
		Role:             model.RoleFreelancer,
		ConnectedAccount: &model.ConnectedAccount{AccountID: "acct_1", Status: model.ConnectStatusActive},
		Billing:          model.FreeSubscription(),
	}

	t.Run("FindByID should fetch from DB and set cache on miss", func(t *testing.T) {
		innerRepoCalled := false
		var cacheSets sync.Map

		cache := &stubCache{
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				cacheSets.Store(key, value)
				return nil
			},
		}
		mockInnerRepo := &mockInnerUserRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
				innerRepoCalled = true
				return user, nil
			},
		}

		decorator := NewUserRepoCacheDecorator(mockInnerRepo, cache, time.Minute)

		result, err := decorator.FindByID(ctx, nil, "user-123")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !innerRepoCalled {
			t.Error("inner repository should be called on a cache miss")
		}
		if _, ok := cacheSets.Load("user:id:user-123"); !ok {
			t.Error("cache was not warmed for user id key")
		}
		if result == nil || result.ID != "user-123" {
			t.Error("did not return the correct user from the inner repository")
		}
	})

	t.Run("FindByID should serve a hit without touching the DB", func(t *testing.T) {
		payload, _ := json.Marshal(user)
		cache := &stubCache{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(payload), nil
			},
		}
		mockInnerRepo := &mockInnerUserRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
				t.Fatal("inner repository must not be called on a hit")
				return nil, nil
			},
		}

		decorator := NewUserRepoCacheDecorator(mockInnerRepo, cache, time.Minute)
		result, err := decorator.FindByID(ctx, nil, "user-123")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !result.HasConnectedAccount() || result.ConnectedAccount.AccountID != "acct_1" {
			t.Errorf("cached user lost its connected account: %+v", result.ConnectedAccount)
		}
	})

	t.Run("FindByID inside a transaction bypasses the cache", func(t *testing.T) {
		cache := &stubCache{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				t.Fatal("cache must not be read inside a transaction")
				return "", nil
			},
		}
		called := false
		mockInnerRepo := &mockInnerUserRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
				called = true
				return user, nil
			},
		}

		decorator := NewUserRepoCacheDecorator(mockInnerRepo, cache, time.Minute)
		var tx repository.Tx = struct{}{}
		if _, err := decorator.FindByID(ctx, tx, "user-123"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !called {
			t.Error("inner repository should be called inside a transaction")
		}
	})

	t.Run("writes invalidate the user key", func(t *testing.T) {
		var deletedKeys sync.Map
		cache := &stubCache{
			DelFunc: func(ctx context.Context, keys ...string) error {
				for _, k := range keys {
					deletedKeys.Store(k, true)
				}
				return nil
			},
		}
		mockInnerRepo := &mockInnerUserRepo{
			SetConnectedAccountFunc: func(ctx context.Context, tx repository.Tx, userID string, acct model.ConnectedAccount) error {
				return nil
			},
			UpdateBillingFunc: func(ctx context.Context, tx repository.Tx, userID string, b model.SubscriptionState) error {
				return nil
			},
		}

		decorator := NewUserRepoCacheDecorator(mockInnerRepo, cache, time.Minute)
		if err := decorator.SetConnectedAccount(ctx, nil, "user-123", model.ConnectedAccount{AccountID: "acct_1"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := decorator.UpdateBilling(ctx, nil, "user-456", model.FreeSubscription()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, err := decorator.SetCancelAtPeriodEnd(ctx, nil, "user-789", "sub_1", nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		for _, key := range []string{"user:id:user-123", "user:id:user-456", "user:id:user-789"} {
			if _, ok := deletedKeys.Load(key); !ok {
				t.Errorf("did not invalidate %s", key)
			}
		}
	})
}
