package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/grantkeeper/grantkeeper/internal/app"
	"github.com/grantkeeper/grantkeeper/internal/audit"
	"github.com/grantkeeper/grantkeeper/internal/auth"
	"github.com/grantkeeper/grantkeeper/internal/observability"
	"github.com/grantkeeper/grantkeeper/internal/platform/cache"
	"github.com/grantkeeper/grantkeeper/internal/platform/db"
	"github.com/grantkeeper/grantkeeper/internal/rbac"
	"github.com/grantkeeper/grantkeeper/internal/shared"
	"github.com/grantkeeper/grantkeeper/internal/users"
	"github.com/grantkeeper/grantkeeper/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("grantkeeper stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, StatementTimeout: cfg.PGStatementTimeout})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	grants := rbac.NewRepository(pool)
	if err := grants.SeedCatalog(ctx, cfg.CatalogModules); err != nil {
		return err
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	rbacService := rbac.NewService(grants, shared.NewAuditLogger(pool), rbac.NewMetrics(metrics.Registerer()), logger)
	rbacMiddleware := rbac.Middleware{Subjects: grants, Logger: logger}

	usersService := users.NewService(users.NewRepository(pool), rbacService, logger)
	if cfg.SuperadminEmail != "" {
		if _, err := usersService.BootstrapSuperadmin(ctx, cfg.SuperadminEmail, cfg.SuperadminPassword); err != nil {
			return err
		}
	}

	sessionManager := shared.NewSessionManager(redisClient, "grantkeeper_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	authService := auth.NewService(auth.NewRepository(pool))

	queueClient := jobs.NewClient(cfg.AsynqRedis())
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("queue inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		AuthHandler:    auth.NewHandler(logger, authService, sessionManager),
		RBACHandler:    rbac.NewHandler(logger, rbacService, rbacMiddleware),
		UsersHandler:   users.NewHandler(logger, usersService, rbacMiddleware),
		JobsHandler:    jobs.NewHandler(inspector, queueClient, rbacMiddleware, logger),
		AuditHandler:   audit.NewHandler(logger, audit.NewService(audit.NewRepository(pool)), rbacMiddleware),
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
		Health: []app.Pinger{
			pool,
			app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
