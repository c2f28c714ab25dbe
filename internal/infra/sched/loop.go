// Package sched runs the periodic background jobs: the notification outbox
// drain and the stale-hold sweep.
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"freelance-escrow/internal/infra/logging"
	"freelance-escrow/internal/usecase"
)

const (
	notificationBatch = 100
	reconcileBatch    = 200
)

// StepFunc does one round of work and reports how many items it handled.
type StepFunc func(ctx context.Context) (int, error)

// Loop calls step every interval until ctx ends. A failing step is logged
// and retried on the next tick.
type Loop struct {
	name       string
	interval   time.Duration
	runAtStart bool
	step       StepFunc
	log        *zerolog.Logger
}

func NewLoop(name string, interval time.Duration, runAtStart bool, step StepFunc, logger *zerolog.Logger) *Loop {
	return &Loop{
		name:       name,
		interval:   interval,
		runAtStart: runAtStart,
		step:       step,
		log:        logging.Component(logger, name),
	}
}

// NewNotificationWorker drains the notification outbox. It runs once at
// start so rows queued before a restart go out immediately.
func NewNotificationWorker(interval time.Duration, uc usecase.NotificationUseCase, logger *zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return NewLoop("notification_worker", interval, true, func(ctx context.Context) (int, error) {
		return uc.DispatchPending(ctx, notificationBatch)
	}, logger)
}

// NewPaymentReconciler settles payments still pending after staleAfter by
// asking the gateway for their state. It uses the same conditional writes
// as the webhook path, so racing a late delivery is harmless.
func NewPaymentReconciler(uc usecase.WebhookUseCase, interval, staleAfter time.Duration, logger *zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	l := NewLoop("payment_reconciler", interval, false, func(ctx context.Context) (int, error) {
		return uc.ReconcileStaleHolds(ctx, time.Now().Add(-staleAfter), reconcileBatch)
	}, logger)
	l.log.Debug().Dur("stale_after", staleAfter).Msg("configured")
	return l
}

func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Dur("interval", l.interval).Msg("started")
	if l.runAtStart {
		l.once(ctx)
	}

	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("stopped")
			return ctx.Err()
		case <-t.C:
			l.once(ctx)
		}
	}
}

func (l *Loop) once(ctx context.Context) {
	n, err := l.step(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Error().Err(err).Msg("step failed")
		}
		return
	}
	if n > 0 {
		l.log.Info().Int("count", n).Msg("step done")
	}
}
