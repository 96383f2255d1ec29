package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-booking/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking/internal/api/router"
	"github.com/wolfman30/clinic-booking/internal/app/bootstrap"
	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/availability"
	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/catalog"
	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/internal/http/handlers"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/internal/sessionstore"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

func main() {
	// .env is optional outside local development.
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required for passcodes, sessions and the catalog")
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil || pool == nil {
		logger.Error("postgres is required for appointments", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	metricsHandler, bookingMetrics := setupMetrics()

	queue, memoryQueue, err := setupEventQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up event queue", "error", err)
		os.Exit(1)
	}
	if memoryQueue != nil {
		go logQueuedEvents(ctx, memoryQueue, logger, 5*time.Second)
	}
	publisher := events.NewPublisher(queue, logger)

	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		logger.Error("session tokens unavailable", "error", err)
		os.Exit(1)
	}
	tokens, err := sessionstore.NewTokenIssuer(secret, cfg.SessionTTL)
	if err != nil {
		logger.Error("session tokens unavailable", "error", err)
		os.Exit(1)
	}

	// Initialize repositories and services
	catalogStore := catalog.NewStore(redisClient)
	appointmentService := appointments.NewService(appointments.NewRepository(pool), logger)
	availabilityService := availability.NewService(catalogStore, appointmentService, cfg.SlotGranularityMinutes, logger)
	sessions := sessionstore.NewRedisStore(redisClient, cfg.SessionTTL)
	gateway, provider, reason := bootstrap.BuildOTPGateway(cfg, redisClient, logger)
	logger.Info("otp sender configured", "provider", provider, "fallback_reason", reason)

	registry := handlers.NewRegistry(cfg.BookingIdleTTL, logger)
	go registry.Run(ctx, time.Minute)

	factory := func(sessionKey string) *booking.Orchestrator {
		return booking.New(sessionKey, booking.Deps{
			Availability:       availabilityService,
			Gateway:            gateway,
			Appointments:       appointmentService,
			Sessions:           sessions,
			Publisher:          publisher,
			Metrics:            bookingMetrics,
			Logger:             logger,
			GranularityMinutes: cfg.SlotGranularityMinutes,
			ResendCooldown:     cfg.OTPResendCooldown,
		})
	}

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(handlers.BookingHandlerConfig{
		Catalog:  catalogStore,
		Registry: registry,
		Factory:  factory,
		Logger:   logger,
	})
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"redis":    handlers.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		"postgres": handlers.PingFunc(pool.Ping),
	})

	// Setup router
	routerCfg := &router.Config{
		Logger:             logger,
		Health:             healthHandler,
		Sessions:           handlers.NewSessionHandler(tokens, sessions, cfg.SessionTTL, logger),
		Bookings:           bookingHandler,
		Catalog:            handlers.NewCatalogHandler(catalogStore, appointmentService, logger),
		Availability:       handlers.NewAvailabilityHandler(availabilityService, logger),
		SessionParser:      tokens,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		OTPRateLimit:       cfg.OTPRateLimit,
		OTPRateBurst:       cfg.OTPRateBurst,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

// setupEventQueue uses SQS when a queue URL is configured and an in-process
// queue otherwise.
func setupEventQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (events.Queue, *events.MemoryQueue, error) {
	if strings.TrimSpace(cfg.BookingEventsQueueURL) == "" {
		logger.Info("booking events kept in memory; set BOOKING_EVENTS_QUEUE_URL to publish to SQS")
		q := events.NewMemoryQueue(256)
		return q, q, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	client := mainconfig.NewSQSClient(awsCfg, cfg)
	return events.NewSQSQueue(client, cfg.BookingEventsQueueURL), nil, nil
}

func logQueuedEvents(ctx context.Context, q *events.MemoryQueue, logger *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, body := range q.Drain() {
				env, err := events.Decode(body)
				if err != nil {
					logger.Warn("undecodable booking event", "error", err)
					continue
				}
				logger.Info("booking event", "event_id", env.ID, "type", env.Type)
			}
		}
	}
}

// sessionSecret requires SESSION_JWT_SECRET in production and generates an
// ephemeral one elsewhere.
func sessionSecret(cfg *appconfig.Config, logger *logging.Logger) (string, error) {
	if secret := strings.TrimSpace(cfg.SessionJWTSecret); secret != "" {
		return secret, nil
	}
	if cfg.IsProduction() {
		return "", errors.New("SESSION_JWT_SECRET is required in production")
	}
	logger.Warn("SESSION_JWT_SECRET not set; using an ephemeral secret")
	return uuid.NewString() + uuid.NewString(), nil
}
