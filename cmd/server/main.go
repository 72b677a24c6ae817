package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/database"
	"github.com/stemsi/exstem-session-engine/internal/events"
	"github.com/stemsi/exstem-session-engine/internal/handler"
	"github.com/stemsi/exstem-session-engine/internal/logger"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/repository"
	"github.com/stemsi/exstem-session-engine/internal/router"
	"github.com/stemsi/exstem-session-engine/internal/service"
	"github.com/stemsi/exstem-session-engine/internal/validator"
	"github.com/stemsi/exstem-session-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem session engine")

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Event Bus ─────────────────────────────────────────────────────
	publisher, err := events.NewPublisher(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	bus := events.NewBus(publisher, rdb, cfg.EventTopicPrefix, log)
	defer bus.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewSessionRepository(pool)
	stores := service.Stores{
		Templates:   repository.NewTemplateRepository(pool),
		Sessions:    sessionRepo,
		Questions:   repository.NewQuestionRepository(pool),
		Students:    repository.NewStudentRepository(pool),
		Submissions: repository.NewSubmissionRepository(pool),
		Answers:     repository.NewAnswerRepository(pool),
	}
	papers := repository.NewPaperCache(rdb, cfg.PaperCacheTTL)
	auditQueue := worker.NewAuditQueue(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	gradingService := service.NewGradingService(stores, bus, log)
	attemptService := service.NewAttemptService(stores, papers, gradingService, bus, auditQueue, log)
	integrityService := service.NewIntegrityService(attemptService, log)
	assemblyService := service.NewAssemblyService(stores, papers, bus, log)
	monitorService := service.NewMonitorService(stores, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt:    handler.NewAttemptHandler(attemptService, integrityService, log),
		WS:         handler.NewWSHandler(attemptService, integrityService, log, cfg.AllowedOrigins),
		Session:    handler.NewSessionHandler(handler.NewSessionOps(assemblyService, attemptService, gradingService), log),
		Submission: handler.NewSubmissionHandler(gradingService, attemptService, log),
		Monitor:    handler.NewMonitorHandler(rdb, monitorService, log),
		System:     handler.NewSystemHandler(pool, rdb, log),
	}

	// Autosave fires every few seconds per student; violations come in bursts
	// when a browser loses focus repeatedly.
	limiters := &router.Limiters{
		Answers:    middleware.NewRateLimiter(20, 500*time.Millisecond),
		Violations: middleware.NewRateLimiter(10, 2*time.Second),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	auditWorker := worker.NewAuditWorker(pool, rdb, cfg, log)
	expiryWorker := worker.NewExpiryWorker(sessionRepo, attemptService, cfg.ExpirySweepInterval, log)

	for _, run := range []func(context.Context){auditWorker.Start, expiryWorker.Start} {
		workers.Add(1)
		go func(run func(context.Context)) {
			defer workers.Done()
			run(workerCtx)
		}(run)
	}
	go limiters.Answers.Cleanup(workerCtx.Done(), 10*time.Minute)
	go limiters.Violations.Cleanup(workerCtx.Done(), 10*time.Minute)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiters, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; the audit worker flushes its buffer.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
