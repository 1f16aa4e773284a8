package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/karat-app/karat/internal"
	"github.com/karat-app/karat/internal/admission"
	"github.com/karat-app/karat/internal/bot"
	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/handler"
	"github.com/karat-app/karat/internal/metrics"
	"github.com/karat-app/karat/internal/middleware"
	"github.com/karat-app/karat/internal/repository"
	"github.com/karat-app/karat/internal/service"
	"github.com/karat-app/karat/internal/storage"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Initialize object storage
	store, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// ==========================================================================
	// Admission subsystem
	// ==========================================================================

	catalog := cfg.PlanCatalog()
	counters := admission.NewWindowCounterStore(logger)
	tenantCache := admission.NewTenantCache(cfg.TenantCacheTTL, cfg.TenantCacheMaxSize, logger)

	tenantService := service.NewTenantService(repo, tenantCache, logger)

	pipeline := admission.NewPipeline(
		tenantCache,
		tenantService,
		admission.NewRateLimitGate(counters, catalog, logger),
		admission.NewFeatureGate(catalog),
		admission.PipelineConfig{
			DefaultTenantID: cfg.DefaultTenantID,
			ResolveTimeout:  cfg.TenantResolveTimeout,
		},
		logger,
	)

	sweeper := admission.NewSweeper(counters, tenantCache, cfg.SweepSchedule, logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("sweeper start failed: %w", err)
	}
	defer sweeper.Stop()

	// Initialize services
	invoiceService := service.NewInvoiceService(db, repo, catalog, store, logger)
	photoService := service.NewPhotoService(store, logger)

	// Initialize middleware
	requestLogging := middleware.NewRequestLoggingMiddleware(logger)
	admissionMw := middleware.NewAdmissionMiddleware(pipeline, logger)
	apiKeyMw := middleware.NewAPIKeyMiddleware(tenantService, logger)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	// Initialize handlers
	invoiceHandler := handler.NewInvoiceHandler(invoiceService, logger)
	photoHandler := handler.NewPhotoHandler(photoService, logger)
	webhookHandler := handler.NewWebhookHandler(pipeline, bot.NewConversation(logger), cfg.WebhookSecret, logger)
	adminHandler := handler.NewAdminHandler(tenantService, cfg.AdminToken, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics (basic auth when configured)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Local storage is served directly in development
	if cfg.StorageProvider == storage.ProviderLocal {
		filesFS := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", filesFS))
	}

	// Chat webhook (public; authenticated by the shared secret)
	webhookHandler.RegisterRoutes(mux)

	// Operator provisioning (shared admin token; disabled when unset)
	adminHandler.RegisterRoutes(mux)

	// REST API: API key auth, then admission. Every API action requires
	// the api_access feature, which only the enterprise plan carries.
	apiGuard := middleware.Stack(
		apiKeyMw.Authenticate,
		admissionMw.Guard(admission.Action{Kind: "api.request", RequiredFeature: domain.FeatureAPIAccess}),
	)
	photoGuard := middleware.Stack(
		apiKeyMw.Authenticate,
		admissionMw.Guard(admission.Action{Kind: "api.photo", RequiredFeature: domain.FeaturePhotoInput}),
	)

	invoiceHandler.RegisterRoutes(mux, apiGuard)
	photoHandler.RegisterRoutes(mux, photoGuard)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: metrics.Middleware(requestLogging.Handler(mux)),
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// newStorage builds the configured storage backend.
func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
	default:
		return storage.NewLocal(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
