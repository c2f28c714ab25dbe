package redis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"freelance-escrow/internal/domain"
)

// Locker is a best-effort mutual exclusion keyed by string.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var _ Locker = (*TokenLocker)(nil)

const (
	lockAttempts = 3
	lockBackoff  = 50 * time.Millisecond
)

// TokenLocker stores a random token under the key; only the holder of the
// token can unlock, and the ttl frees locks whose holder died.
type TokenLocker struct {
	store LockStore
}

func NewLocker(store LockStore) *TokenLocker {
	return &TokenLocker{store: store}
}

// TryLock gives up with domain.ErrLockNotAcquired after a few short
// attempts. A store error on the last attempt is returned as is.
func (l *TokenLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < lockAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(lockBackoff):
			}
		}
		ok, err := l.store.SetNX(ctx, key, token, ttl)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return token, nil
		}
		lastErr = nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", domain.ErrLockNotAcquired
}

// Unlock is a no-op when the lock expired or was taken over.
func (l *TokenLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.store.DelIfEqual(ctx, key, token)
	return err
}

// ReleaseLockKey serializes release attempts for one payment.
func ReleaseLockKey(paymentID string) string { return "lock:release:" + paymentID }
