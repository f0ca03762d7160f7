package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/esign-workflow/internal/audit"
	"github.com/iliyamo/esign-workflow/internal/backup"
	"github.com/iliyamo/esign-workflow/internal/config"
	"github.com/iliyamo/esign-workflow/internal/database"
	"github.com/iliyamo/esign-workflow/internal/handler"
	"github.com/iliyamo/esign-workflow/internal/idempotency"
	"github.com/iliyamo/esign-workflow/internal/logger"
	"github.com/iliyamo/esign-workflow/internal/queue"
	"github.com/iliyamo/esign-workflow/internal/repository"
	"github.com/iliyamo/esign-workflow/internal/router"
	"github.com/iliyamo/esign-workflow/internal/service"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := config.Load()
	wcfg := config.LoadWorkflowConfig()

	lg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		lg.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		lg.Fatal("migrate database", zap.Error(err))
	}

	// Without Redis, backups and idempotency records live in process and
	// the limiter and cache are off.
	var (
		backupStore backup.Store      = backup.NewMemoryStore()
		idemStore   idempotency.Store = idempotency.NewMemoryStore()
	)
	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		lg.Warn("redis unavailable; using in-process stores", zap.Error(err))
	} else {
		defer rdb.Close()
		backupStore = backup.NewRedisStore(rdb)
		idemStore = idempotency.NewRedisStore(rdb, wcfg.IdempotencyTTL)
	}

	backups := backup.NewManager(backupStore, wcfg.BackupTTL)
	autosaver := backup.NewAutoSaver(backups, wcfg.AutosaveDebounce, logger.Component(lg, "autosave"))

	docs := repository.NewDocumentRepo(db)
	fields := repository.NewFieldRepo(db)
	signers := repository.NewSignerRepo(db)
	recorder := audit.NewRecorder(repository.NewAuditRepo(db))

	go func() {
		if err := queue.StartNotificationConsumer(ctx, cfg.RabbitURL, logger.Component(lg, "notifications")); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("notification consumer stopped", zap.Error(err))
		}
	}()

	wf := service.NewWorkflow(service.Deps{
		Store:       repository.NewWorkflowRepo(db),
		Recorder:    recorder,
		Backups:     backups,
		AutoSaver:   autosaver,
		Idempotency: idemStore,
		Publisher:   queue.NewPublisher(cfg.RabbitURL, logger.Component(lg, "publisher")),
		Logger:      lg,
	}, service.Options{
		Retry:        service.RetryPolicy{Attempts: wcfg.RetryAttempts, Base: wcfg.RetryBase, Max: wcfg.RetryMax},
		HistoryDepth: wcfg.SignatureHistoryDepth,
		TokenSecret:  cfg.JWTSecret,
		LinkTTL:      cfg.SigningLinkTTL,
		BaseURL:      cfg.PublicBaseURL,
	})

	e := echo.New()
	e.HideBanner = true
	router.RegisterAll(e, router.Deps{
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Health:    db,
		Author:    handler.NewAuthorHandler(docs, fields, signers, recorder, wf, cfg.BcryptCost),
		Signing:   handler.NewSigningHandler(wf),
		Logger:    lg,
	})

	addr := ":" + cfg.Port
	go func() {
		lg.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown", zap.Error(err))
	}
	// Write pending autosaves before the stores close.
	autosaver.Close()
}
