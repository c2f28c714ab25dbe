// File: cmd/app/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freelance-escrow/internal/config"
	"freelance-escrow/internal/domain/model"
	"freelance-escrow/internal/domain/ports/adapter"
	"freelance-escrow/internal/domain/ports/repository"
	"freelance-escrow/internal/infra/adapters/notify"
	payAdapters "freelance-escrow/internal/infra/adapters/payment"
	"freelance-escrow/internal/infra/api"
	pg "freelance-escrow/internal/infra/db/postgres"
	"freelance-escrow/internal/infra/logging"
	"freelance-escrow/internal/infra/metrics"
	"freelance-escrow/internal/infra/payment"
	red "freelance-escrow/internal/infra/redis"
	"freelance-escrow/internal/infra/sched"
	"freelance-escrow/internal/infra/worker"
	"freelance-escrow/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

// devWebhookSecret lets a local stripe CLI forwarder sign events in dev mode.
const devWebhookSecret = "whsec_dev_local"

func main() {
	exitCode := 0
	// Registered first so it runs after every other deferred cleanup.
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Global.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Repositories ----
	var users repository.UserRepository = pg.NewUserRepo(pool)
	payments := pg.NewPaymentRepo(pool)
	jobs := pg.NewJobRepo(pool)
	ledger := pg.NewTransactionLogRepo(pool)
	events := pg.NewWebhookEventRepo(pool)
	notes := pg.NewNotificationRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Redis (cache, release lock, rate limit) ----
	var (
		locker  red.Locker
		limiter api.RateLimiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		users = pg.NewUserRepoCacheDecorator(users, redisClient, cfg.Redis.TTL)
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; running without user cache, release lock or rate limit")
	}

	// ---- Payment gateway ----
	var gateway adapter.PaymentGateway
	if cfg.Payment.SecretKey != "" {
		sg, err := payAdapters.NewStripeGateway(cfg.Payment.SecretKey, cfg.Payment.Currency)
		if err != nil {
			logger.Fatal().Err(err).Msg("stripe gateway")
		}
		gateway = sg
		logger.Info().Str("key", logging.Redact(cfg.Payment.SecretKey, cfg.Runtime.Dev)).Msg("payment gateway: stripe")
	} else {
		gateway = payAdapters.NewNoopPaymentGateway()
		logger.Warn().Msg("payment gateway: noop (dev)")
	}

	whSecret := cfg.Payment.WebhookSecret
	if whSecret == "" {
		whSecret = devWebhookSecret
		logger.Warn().Msg("payment.webhook_secret not set; using the local dev secret")
	}
	verifier, err := payment.NewStripeWebhookVerifier(whSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("webhook verifier")
	}

	prices := model.PriceCatalog{
		Monthly:   cfg.Payment.Prices.Monthly,
		Quarterly: cfg.Payment.Prices.Quarterly,
		Yearly:    cfg.Payment.Prices.Yearly,
	}

	// ---- Use cases ----
	escrowUC := usecase.NewEscrowUseCase(payments, jobs, users, notes, gateway, tm, locker,
		cfg.Payment.PlatformFeeRate, cfg.Payment.Currency, logger)
	connectUC := usecase.NewConnectUseCase(users, gateway, cfg.Platform.BaseURL, logger)
	subUC := usecase.NewSubscriptionUseCase(users, tm, gateway, prices, cfg.Platform.BaseURL, logger)
	webhookUC := usecase.NewWebhookUseCase(usecase.WebhookDeps{
		Verifier:      verifier,
		Gateway:       gateway,
		Payments:      payments,
		Jobs:          jobs,
		Users:         users,
		Ledger:        ledger,
		Events:        events,
		Notifications: notes,
		TxManager:     tm,
		Prices:        prices,
	}, logger)

	// ---- Background workers ----
	wp := worker.NewPool(cfg.Scheduler.Workers, logger)
	wp.Start(ctx)
	defer wp.Stop()

	notifUC := usecase.NewNotificationUseCase(notes, notify.NewLogNotifier(logger), wp, logger)
	notifWorker := sched.NewNotificationWorker(cfg.Scheduler.NotificationInterval, notifUC, logger)
	go func() { _ = notifWorker.Run(ctx) }()

	reconciler := sched.NewPaymentReconciler(webhookUC, cfg.Scheduler.SweepInterval, cfg.Scheduler.StaleAfter, logger)
	go func() { _ = reconciler.Run(ctx) }()

	// ---- HTTP ----
	srv := api.NewServer(cfg.HTTP, api.Deps{
		Escrow:        escrowUC,
		Connect:       connectUC,
		Subscriptions: subUC,
		Webhooks:      webhookUC,
		Auth:          api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Limiter:       limiter,
	}, logger)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			exitCode = 1
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
