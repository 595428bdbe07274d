package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleet-ledger/internal/audit"
	"fleet-ledger/internal/auth"
	"fleet-ledger/internal/config"
	"fleet-ledger/internal/export"
	"fleet-ledger/internal/gateway"
	"fleet-ledger/internal/httpapi"
	"fleet-ledger/internal/metrics"
	"fleet-ledger/internal/projection"
	"fleet-ledger/internal/storage"
	"fleet-ledger/pkg/logger"
	"fleet-ledger/pkg/retry"
	"fleet-ledger/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	defer func() { _ = logger.ShutdownFlush(log) }()

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("api stopped", zap.Error(err))
		_ = logger.ShutdownFlush(log)
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, log *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), cfg.DB.Pool())
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer db.Close()
	if cfg.DB.MigrationsPath != "" {
		if err := utils.RunMigrations(ctx, db, cfg.DB.MigrationsPath, log); err != nil {
			return err
		}
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}
	defer rdb.Close()

	halts, err := audit.NewRedisHalts(rdb)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	store := storage.NewPostgresStore(db)
	chain := audit.NewChain(store, halts, log.Named("audit"), recorder)
	chain.SetPageSize(cfg.Ledger.VerifyPageSize)

	gw := gateway.New(store, chain, log.Named("gateway"), recorder, gateway.Config{
		MaxBatchSize: cfg.Ledger.MaxBatchSize,
		Retry: &retry.Config{
			MaxRetries:   cfg.Ledger.MaxAppendRetries,
			InitialDelay: cfg.Ledger.RetryInitialDelay,
			MaxDelay:     cfg.Ledger.RetryMaxDelay,
			Multiplier:   2,
			JitterFactor: 0.2,
		},
	})

	var archiver *export.Archiver
	if cfg.ArchiveEnabled() {
		sink, err := export.NewS3Sink(ctx, export.S3Config{
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			PathStyle: cfg.Archive.PathStyle,
		}, log.Named("archive"))
		if err != nil {
			return fmt.Errorf("archive init: %w", err)
		}
		archiver = export.NewArchiver(chain, sink, log.Named("archive"))
	}

	var limiter httpapi.Limiter
	if cfg.Ledger.TenantWriteCap > 0 {
		limiter = utils.NewConcurrencyLimiter(rdb, cfg.Ledger.TenantWriteCap, cfg.Ledger.WriteSlotTTL)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerPublicRoutes(r, db, rdb, recorder)
	httpapi.Mount(r, httpapi.Handlers{
		Auth:     authManager,
		Ops:      gw,
		Views:    projection.NewService(store),
		Chain:    chain,
		Archiver: archiver,
	}, auth.RequireAccessToken(authManager), limiter, !cfg.IsProduction())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
