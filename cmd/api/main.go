// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/clockguard/internal/alert"
	"github.com/onnwee/clockguard/internal/anomaly"
	"github.com/onnwee/clockguard/internal/api"
	"github.com/onnwee/clockguard/internal/attendance"
	"github.com/onnwee/clockguard/internal/audit"
	"github.com/onnwee/clockguard/internal/auth"
	"github.com/onnwee/clockguard/internal/config"
	"github.com/onnwee/clockguard/internal/db"
	"github.com/onnwee/clockguard/internal/device"
	"github.com/onnwee/clockguard/internal/evidence"
	"github.com/onnwee/clockguard/internal/health"
	"github.com/onnwee/clockguard/internal/idempotency"
	"github.com/onnwee/clockguard/internal/jobs"
	"github.com/onnwee/clockguard/internal/middleware"
	"github.com/onnwee/clockguard/internal/tracing"
	"github.com/onnwee/clockguard/internal/verify"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("ClockGuard API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx := context.Background()

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "clockguard-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracer", "error", err)
		}
	}()

	// Repositories: Postgres when a database is configured, in-memory otherwise.
	var (
		auditRepo   audit.Repository
		anomalyRepo anomaly.Repository
		eventRepo   attendance.Repository
		deviceRepo  device.Repository
		dbChecker   api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		auditRepo = audit.NewPostgresRepository(conn, logger)
		anomalyRepo = anomaly.NewPostgresRepository(conn, logger)
		eventRepo = attendance.NewPostgresRepository(conn, logger)
		deviceRepo = device.NewPostgresRepository(conn, logger)
		dbChecker = health.NewDBChecker(conn)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
		auditRepo = audit.NewInMemoryRepository()
		anomalyRepo = anomaly.NewInMemoryRepository()
		eventRepo = attendance.NewInMemoryRepository(anomalyRepo)
		deviceRepo = device.NewInMemoryRepository()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	// Rate limit store: Redis when configured, so limits hold across replicas.
	var (
		limitStore   middleware.RateLimitStore
		redisChecker api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		limitStore = middleware.NewRedisRateLimitStore(client)
		redisChecker = health.NewRedisChecker(client)
	} else {
		store := middleware.NewInMemoryRateLimitStore()
		go func() {
			for range time.Tick(5 * time.Minute) {
				start := time.Now()
				store.Cleanup()
				jobMetrics.ObserveJob(jobs.JobTypeRateLimitCleanup, time.Since(start), nil)
			}
		}()
		limitStore = store
	}

	// Replayed submissions are deduplicated by Idempotency-Key; expired keys
	// are reaped in the background.
	idemRepo := idempotency.NewInMemoryRepository()
	stopIdemCleanup := make(chan struct{})
	defer close(stopIdemCleanup)
	go idempotency.RunPeriodicCleanup(idemRepo, time.Hour, idempotency.DefaultExpiry, jobMetrics, stopIdemCleanup)

	trail := audit.NewTrail(auditRepo, logger)
	if err := trail.Register(registry); err != nil {
		logger.Error("failed to register audit metrics", "error", err)
		os.Exit(1)
	}

	// Stand-in for an HR directory service; without seeded oversight users
	// fleet-wide alerts reach nobody.
	directory := alert.NewInMemoryDirectory()
	for _, userID := range cfg.OversightUserIDs {
		directory.Grant(auth.RoleOversight, userID)
	}
	if len(cfg.OversightUserIDs) == 0 {
		logger.Warn("OVERSIGHT_USER_IDS not set, oversight alerts have no recipients")
	}
	fanout := alert.NewFanout(alert.NewLogNotifier(logger), directory, trail, logger,
		time.Duration(cfg.FanoutTimeoutSecs)*time.Second)
	if err := fanout.Register(registry); err != nil {
		logger.Error("failed to register alert metrics", "error", err)
		os.Exit(1)
	}

	deviceRegistry := device.NewRegistry(deviceRepo, trail, fanout, logger)

	var scorer verify.Scorer
	var scorerChecker api.HealthChecker
	if cfg.ScorerURL != "" {
		scorer = verify.NewHTTPScorer(cfg.ScorerURL)
		scorerChecker = health.NewScorerChecker(cfg.ScorerURL)
	} else {
		logger.Warn("SCORER_URL not set, photo submissions will fail closed")
		scorer = &verify.StaticScorer{Confidence: 0}
	}
	// Reference photos come from an enrollment system that is not part of
	// this service; until one is wired, an empty store means every photo
	// verification fails closed.
	verifier := verify.NewAdapter(scorer, verify.NewInMemoryReferenceStore(), trail, logger, verify.Config{
		MatchThreshold: cfg.MatchThreshold,
		PhotoMinBytes:  int(cfg.PhotoMinBytes),
		PhotoMaxBytes:  int(cfg.PhotoMaxBytes),
	})

	evaluator := anomaly.NewEvaluator(anomaly.Config{
		ReviewThreshold:  cfg.ReviewThreshold,
		QuietHourStart:   cfg.QuietHourStart,
		QuietHourEnd:     cfg.QuietHourEnd,
		DuplicateWindow:  time.Duration(cfg.DuplicateWindowMins) * time.Minute,
		ChurnDeviceLimit: cfg.ChurnDeviceLimit,
	})

	var evidenceStore attendance.EvidenceStore
	if cfg.EvidenceEnabled() {
		store, err := evidence.NewStore(evidence.StoreConfig{
			BucketName:      cfg.EvidenceBucket,
			AccessKeyID:     cfg.EvidenceAccessKeyID,
			SecretAccessKey: cfg.EvidenceSecretAccessKey,
			Endpoint:        cfg.EvidenceEndpoint,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize evidence store", "error", err)
			os.Exit(1)
		}
		evidenceStore = store
	}

	recorderMetrics := attendance.NewMetrics()
	if err := recorderMetrics.Register(registry); err != nil {
		logger.Error("failed to register recorder metrics", "error", err)
		os.Exit(1)
	}
	recorder := attendance.NewRecorder(eventRepo, verifier, deviceRegistry, evaluator,
		trail, fanout, evidenceStore, recorderMetrics, logger, attendance.RecorderConfig{
			ChurnWindow:     time.Duration(cfg.ChurnWindowDays) * 24 * time.Hour,
			ReviewThreshold: cfg.ReviewThreshold,
		})

	review := anomaly.NewReviewService(anomalyRepo, trail)

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTPreviousSecret)

	submitLimit := middleware.DefaultSubmitLimit()
	if cfg.SubmitRateLimit > 0 {
		submitLimit.RequestsPerWindow = cfg.SubmitRateLimit
	}

	mux := api.NewRouter(api.RouterConfig{
		Attendance: api.NewAttendanceHandlers(recorder, idemRepo),
		Anomalies:  api.NewAnomalyHandlers(review, anomalyRepo),
		Devices:    api.NewDeviceHandlers(deviceRegistry),
		Audit:      api.NewAuditHandlers(auditRepo),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:     dbChecker,
			RedisChecker:  redisChecker,
			ScorerChecker: scorerChecker,
		}),
		Metrics:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Auth:             middleware.Auth(jwtService),
		RequireOversight: middleware.RequireRole(auth.RoleOversight),
		SubmitLimiter:    middleware.RateLimiter(limitStore, submitLimit, middleware.ActorKeyFunc()),
	})

	// Apply middleware: RequestID -> Tracing -> Logging
	var handler http.Handler = middleware.Logging(logger)(mux)
	if cfg.TracingEnabled {
		handler = middleware.Tracing("clockguard-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
