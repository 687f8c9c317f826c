package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adrienverge/localstripe/internal"
	"github.com/adrienverge/localstripe/internal/billing"
	"github.com/adrienverge/localstripe/internal/event"
	"github.com/adrienverge/localstripe/internal/handler"
	"github.com/adrienverge/localstripe/internal/middleware"
	"github.com/adrienverge/localstripe/internal/payment"
	"github.com/adrienverge/localstripe/internal/resource"
	"github.com/adrienverge/localstripe/internal/router"
	"github.com/adrienverge/localstripe/internal/store"
)

func run() error {
	ctx := context.Background()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Pick the persistence backend.
	var backend store.Store
	switch cfg.Store {
	case "bolt":
		backend, err = store.NewBolt(cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("bolt store open failed: %w", err)
		}
		logger.Info("using bolt store", "path", cfg.BoltPath)
	case "postgres":
		backend, err = store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres store connection failed: %w", err)
		}
		logger.Info("using postgres store")
	default:
		backend = store.NewMemory()
		logger.Info("using in-memory store")
	}
	defer backend.Close()

	engine := resource.NewEngine(backend)
	registry := resource.NewRegistry()

	// One lock serializes API requests and scheduled settlement
	// callbacks. Webhook delivery stays outside it: delivery only reads
	// a frozen payload and must not hold the lock across network I/O.
	var mu sync.Mutex
	sched := middleware.LockingScheduler{Mu: &mu, Next: event.TimerScheduler{}}

	events := event.NewDispatcher(engine, logger, event.TimerScheduler{}, cfg.WebhookDelay)
	payments := payment.NewService(engine, events, sched, logger, cfg.SettleDelay, registry)
	billingSvc := billing.NewService(payments, events, logger, registry)

	h := handler.New(payments, billingSvc, events, engine, registry, logger)

	metrics := middleware.NewMetrics("localstripe")

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
		router.CORS(),
		router.Logger(logger),
	)

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		promhttp.Handler().ServeHTTP(w, req)
	})

	// The test-control routes skip API-key auth: the harness drives them.
	h.RegisterConfig(r)

	apiRouter := r.Group(middleware.APIKeyAuth, middleware.Serialize(&mu))
	h.Register(apiRouter)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting server", "address", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
