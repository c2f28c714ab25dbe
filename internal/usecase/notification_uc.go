package usecase

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/domain/ports/repository"
	"freelance-escrow/internal/infra/logging"
	"freelance-escrow/internal/infra/metrics"
	"freelance-escrow/internal/infra/worker"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// DispatchPending delivers up to limit undelivered outbox rows and
	// returns how many were marked delivered.
	DispatchPending(ctx context.Context, limit int) (int, error)
}

// TaskRunner is the slice of worker.Pool the dispatcher needs.
type TaskRunner interface {
	SubmitWait(ctx context.Context, task worker.Task) error
}

type notificationUC struct {
	notes    repository.NotificationRepository
	notifier adapter.Notifier
	runner   TaskRunner
	log      *zerolog.Logger
}

func NewNotificationUseCase(notes repository.NotificationRepository, notifier adapter.Notifier, runner TaskRunner, logger *zerolog.Logger) *notificationUC {
	l := logging.Component(logger, "notifications")
	return &notificationUC{notes: notes, notifier: notifier, runner: runner, log: l}
}

func (n *notificationUC) DispatchPending(ctx context.Context, limit int) (int, error) {
	items, err := n.notes.ListUndelivered(ctx, repository.NoTX, limit)
	if err != nil {
		return 0, err
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, it := range items {
		it := it
		wg.Add(1)
		task := func(ctx context.Context) error {
			defer wg.Done()
			if n.deliver(ctx, it) {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
			return nil
		}
		if n.runner == nil {
			_ = task(ctx)
			continue
		}
		if err := n.runner.SubmitWait(ctx, task); err != nil {
			wg.Done()
			n.log.Warn().Err(err).Msg("dispatch interrupted")
			break
		}
	}

	// Queued tasks are dropped if the pool shuts down first.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	mu.Lock()
	defer mu.Unlock()
	return delivered, ctx.Err()
}

func (n *notificationUC) deliver(ctx context.Context, it *model.Notification) bool {
	if err := n.notifier.Notify(ctx, it); err != nil {
		metrics.IncNotification(string(it.Kind), "error")
		n.log.Warn().Err(err).Str("notification_id", it.ID).Str("kind", string(it.Kind)).Msg("delivery failed; will retry")
		return false
	}
	if err := n.notes.MarkDelivered(ctx, repository.NoTX, it.ID); err != nil {
		metrics.IncNotification(string(it.Kind), "error")
		n.log.Error().Err(err).Str("notification_id", it.ID).Msg("mark delivered failed")
		return false
	}
	metrics.IncNotification(string(it.Kind), "delivered")
	return true
}
