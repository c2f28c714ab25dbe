package api

import (
	"freelance-escrow/internal/infra/logging"

	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"freelance-escrow/internal/config"
	"freelance-escrow/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Deps are the use cases served by the API. Limiter may be nil.
type Deps struct {
	Escrow        usecase.EscrowUseCase
	Connect       usecase.ConnectUseCase
	Subscriptions usecase.SubscriptionUseCase
	Webhooks      usecase.WebhookUseCase
	Auth          *AuthManager
	Limiter       RateLimiter
}

type Server struct {
	cfg     config.HTTPConfig
	handler http.Handler
	server  *http.Server
	logger  *zerolog.Logger
}

func NewServer(cfg config.HTTPConfig, d Deps, logger *zerolog.Logger) *Server {
	l := logging.Component(logger, "http")
	return &Server{cfg: cfg, handler: NewRouter(cfg, d, l), logger: l}
}

// NewRouter builds the full handler tree, CORS included.
func NewRouter(cfg config.HTTPConfig, d Deps, logger *zerolog.Logger) http.Handler {
	h := &handlers{
		escrow:  d.Escrow,
		connect: d.Connect,
		subs:    d.Subscriptions,
		hooks:   d.Webhooks,
		logger:  logger,
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(logger), Recover(logger), Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/webhooks/stripe", h.stripeWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(d.Auth), RateLimit(d.Limiter, cfg.RateLimit, logger))

		r.Route("/connect", func(r chi.Router) {
			r.Post("/accounts", h.createConnectAccount)
			r.Get("/accounts/{accountId}/status", h.connectStatus)
			r.Post("/account-links", h.createAccountLink)
		})
		r.Route("/payments", func(r chi.Router) {
			r.Post("/holds", h.createHold)
			r.Post("/release", h.release)
			r.Post("/refund", h.refund)
		})
		r.Post("/payouts", h.payout)
		r.Get("/balance", h.balance)
		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/checkout", h.checkout)
			r.Post("/cancel", h.cancelSubscription)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}).Handler(r)
}

func (s *Server) Handler() http.Handler { return s.handler }

// Start blocks until the server stops; a graceful Shutdown returns nil.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Int("port", s.cfg.Port).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
