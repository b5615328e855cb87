package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yogapratama/chatwire/backend/internal/auth"
	"github.com/yogapratama/chatwire/backend/internal/config"
	"github.com/yogapratama/chatwire/backend/internal/directory"
	"github.com/yogapratama/chatwire/backend/internal/events"
	"github.com/yogapratama/chatwire/backend/internal/health"
	"github.com/yogapratama/chatwire/backend/internal/ingest"
	"github.com/yogapratama/chatwire/backend/internal/logger"
	"github.com/yogapratama/chatwire/backend/internal/metrics"
	"github.com/yogapratama/chatwire/backend/internal/middleware"
	"github.com/yogapratama/chatwire/backend/internal/poll"
	"github.com/yogapratama/chatwire/backend/internal/stream"
)

const version = "1.0.0"

func main() {
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Optional directory database. Without it the sweeper keeps all queues.
	var dbPool *pgxpool.Pool
	var dir events.Directory = directory.StaticDirectory{}
	if cfg.Database.URL != "" {
		dbPool, err = setupDatabase(cfg.Database.URL, log)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		dir = directory.NewPostgresDirectory(dbPool)
	} else {
		log.Info("no DATABASE_URL configured, scope queues are kept indefinitely")
	}

	// Event core
	bus := events.NewBus(events.Options{
		MaxQueueLength: cfg.Events.QueueMaxLength,
		Logger:         log,
	})
	emitter := events.NewEmitter(bus, metrics.PublishRecorder{})

	sweeper := events.NewSweeper(bus, dir, cfg.Events.SweepInterval, cfg.Events.MaxEventAge, metrics.SweepRecorder{}, log)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	// Services and middleware
	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret: cfg.JWT.AccessSecret,
		Issuer:       cfg.JWT.Issuer,
	})
	authMiddleware := middleware.NewAuthMiddleware(tokenService)
	pollLimiter := middleware.NewPollRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)

	streamManager := stream.NewManager()
	streamHandler := stream.NewHandler(bus, streamManager, tokenService, stream.Config{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		MaxBatch:          cfg.Poll.MaxBatch,
	}, log)

	pollHandler := poll.NewHandler(bus, sweeper, streamManager, poll.Config{
		DefaultTimeout: cfg.Poll.DefaultTimeout,
		MinTimeout:     cfg.Poll.MinTimeout,
		MaxTimeout:     cfg.Poll.MaxTimeout,
		MaxBatch:       cfg.Poll.MaxBatch,
	}, log)

	ingestHandler := ingest.NewHandler(emitter, log)

	healthHandler := health.NewHandler(health.Config{
		DBPool:  dbPool,
		Version: version,
	})

	statsCollector := metrics.NewBusStatsCollector(bus, streamManager, dbPool, log)
	statsCollector.Start(15 * time.Second)

	// Router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.StructuredLogger(log))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		poll.RegisterRoutes(r, pollHandler, authMiddleware.Authenticate, pollLimiter.Handler)
		stream.RegisterRoutes(r, streamHandler)
		ingest.RegisterRoutes(r, ingestHandler, authMiddleware.Authenticate)
	})

	// Server. No global write timeout: long polls and SSE streams hold the
	// response open far past any sane per-request deadline.
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	stopSweeper()
	statsCollector.Stop()
	streamManager.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(url string, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to directory database")
	return pool, nil
}
