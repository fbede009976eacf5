package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riteshkumar/booking-escrow/internal/config"
	"github.com/riteshkumar/booking-escrow/internal/events"
	"github.com/riteshkumar/booking-escrow/internal/handler"
	"github.com/riteshkumar/booking-escrow/internal/repository"
	"github.com/riteshkumar/booking-escrow/internal/repository/memory"
	"github.com/riteshkumar/booking-escrow/internal/service"
	"github.com/riteshkumar/booking-escrow/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	// Initialise logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialise storage
	store, auditRepo, closeStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise storage", "driver", cfg.StorageDriver, "error", err.Error())
		os.Exit(1)
	}
	defer closeStore()

	// Initialise event publisher
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RedisURL != "" {
		client := events.NewRedisClient(cfg.RedisURL)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, booking events will be dropped until it recovers", "error", err.Error())
		}
		publisher = events.NewRedisPublisher(client, cfg.EventsChannel)
		logger.Info("publishing booking events", "channel", cfg.EventsChannel)
	}

	// Initialise services
	auditLogger := service.NewAuditLogger(auditRepo, logger)
	walletService := service.NewWalletService(store, auditLogger, cfg.CommissionRate, cfg.PlatformOwnerID, logger)
	bookingService := service.NewBookingService(store, walletService, auditLogger, publisher, service.BookingRules{
		ConfirmationWindow: cfg.ConfirmationWindow,
		CheckInTimeout:     cfg.CheckInTimeout,
	}, logger)
	checkInService := service.NewCheckInService(store, bookingService, auditLogger, service.CheckInRules{
		RadiusMeters: cfg.CheckInRadiusMeters,
		LeadTime:     cfg.CheckInLeadTime,
		ClockSkew:    cfg.CheckInClockSkew,
	}, logger)

	if _, err := walletService.EnsurePlatformWallet(ctx); err != nil {
		logger.Error("failed to ensure platform wallet", "error", err.Error())
		os.Exit(1)
	}

	// Start deadline timer
	timer := worker.NewTimer(store, bookingService, cfg.TimerInterval, cfg.TimerBatchSize, logger)
	timer.Start(ctx)
	defer timer.Stop()

	// Setup router
	router := handler.NewRouter(
		handler.NewBookingHandler(bookingService, checkInService, logger),
		handler.NewWalletHandler(walletService, logger),
		handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.WithCORS(router, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a go routine
	go func() {
		logger.Info("starting server on port " + cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err.Error())
			stop()
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err.Error())
	}

	logger.Info("server exited gracefully")
}

// openStorage returns the store selected by STORAGE_DRIVER together with its
// audit repository and a close func.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, repository.AuditRepository, func(), error) {
	if cfg.StorageDriver == "memory" {
		logger.Warn("using in-memory storage, data will not survive a restart")
		return memory.NewStore(), memory.NewAuditRepository(), func() {}, nil
	}

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("connected to database successfully")

	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	closeDB := func() { db.Close() }
	return repository.NewPostgresStore(db, cfg.LockTimeout), repository.NewAuditRepository(db), closeDB, nil
}

// connectDB establishes a connection to the Postgres database
func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Confirm connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
