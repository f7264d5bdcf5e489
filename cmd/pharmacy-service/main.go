package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/alerts"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/audit"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/consumers"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/events"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/export"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/fefo"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/handler"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/kpi"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/ledger"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/repository"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/risk"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/messaging"
	"github.com/medflow/medflow-pharmacy/pkg/metrics"
)

const serviceName = "pharmacy-service"

// journal is both the ledger's write side and the KPI read side
type journal interface {
	ledger.Journal
	kpi.History
	handler.ExpenseRecorder
}

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("fefo_mode", cfg.Dispensing.FefoMode).Str("journal", cfg.Dispensing.Journal).Msg("starting Pharmacy Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		mcfg := metrics.DefaultConfig(serviceName)
		if cfg.Metrics.Namespace != "" {
			mcfg.Namespace = cfg.Metrics.Namespace
		}
		m = metrics.New(mcfg)
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(ctx, &cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	auditPublisher, err := events.NewRabbitAuditPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create audit publisher")
	}
	dispatcher := audit.NewDispatcher(auditPublisher, m, log, audit.WithTimeout(cfg.Dispensing.AuditTimeout))

	// Sale journal
	var j journal
	var db *database.DB
	switch cfg.Dispensing.Journal {
	case config.JournalPostgres:
		log.Info().Str("database", cfg.Database.Redacted()).Msg("journaling sales to postgres")
		db, err = database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if _, err := db.ExecContext(ctx, repository.Schema); err != nil {
			log.Fatal().Err(err).Msg("failed to apply journal schema")
		}
		j = repository.NewSaleJournal(db, log)
	default:
		j = repository.NewMemoryJournal()
	}

	mode, err := domain.ParseFefoMode(cfg.Dispensing.FefoMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fefo mode")
	}
	thresholds := domain.Thresholds{
		Critical: cfg.Dispensing.ExpiryAlertDays.Critical,
		Warning:  cfg.Dispensing.ExpiryAlertDays.Warning,
		Notice:   cfg.Dispensing.ExpiryAlertDays.Notice,
	}
	clock := domain.SystemClock{}

	// Engine
	l := ledger.New(j, log, ledger.WithAudit(dispatcher), ledger.WithMetrics(m), ledger.WithClock(clock))
	selector := fefo.New(l, mode, cfg.Dispensing.OverrideTTL, log,
		fefo.WithAudit(dispatcher), fefo.WithMetrics(m), fefo.WithClock(clock))
	scorer := risk.NewScorer(l, thresholds, clock, log)

	h := handler.New(handler.Services{
		Ledger:   l,
		Selector: selector,
		Scorer:   scorer,
		Alerts:   alerts.NewGenerator(l, scorer, log),
		KPIs:     kpi.NewAggregator(l, j, log),
		Exporter: export.NewExporter(l, j, log),
		Expenses: j,
	}, log)

	// Start purchase receiving consumer
	receiving, err := consumers.NewReceivingConsumer(rmq, l, cfg.RabbitMQ.MaxRetries, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create receiving consumer")
	}
	if err := receiving.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start receiving consumer")
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Actor)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(metrics.Middleware(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Email"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":    "healthy",
			"service":   serviceName,
			"fefo_mode": mode.String(),
			"rabbitmq":  rmq.Health(),
		}
		if db != nil {
			status["database"] = db.Health(r.Context())
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// API routes
	r.Route("/api/v1/pharmacy", h.Routes)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Flush audit events still in flight
	dispatcher.Wait()

	log.Info().Msg("server stopped")
}
