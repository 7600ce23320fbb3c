package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grantkeeper/grantkeeper/internal/app"
	jobmetrics "github.com/grantkeeper/grantkeeper/internal/jobs"
	"github.com/grantkeeper/grantkeeper/internal/platform/db"
	"github.com/grantkeeper/grantkeeper/internal/rbac"
	"github.com/grantkeeper/grantkeeper/jobs"
	"github.com/grantkeeper/grantkeeper/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, StatementTimeout: cfg.PGStatementTimeout})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rbacService := rbac.NewService(rbac.NewRepository(pool), nil, nil, logger)

	pdfClient := report.NewClient(cfg.GotenbergURL, 0)
	if err := pdfClient.Ping(ctx); err != nil {
		logger.Warn("gotenberg ping", slog.Any("error", err))
	}
	renderer, err := report.NewRenderer(pdfClient)
	if err != nil {
		logger.Error("init report renderer", slog.Any("error", err))
		os.Exit(1)
	}

	reportJob := jobs.NewGrantReportJob(jobs.GrantReportConfig{
		Resolver:   rbacService,
		Renderer:   renderer,
		StorageDir: cfg.ReportDir,
		Logger:     logger,
		Metrics:    jobmetrics.NewMetrics(prometheus.DefaultRegisterer),
	})

	reportTask, err := jobs.NewGrantReportTask(jobs.GrantReportPayload{Reason: "scheduled"})
	if err != nil {
		logger.Error("build grant report task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.AsynqRedis(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGrantReport, Handler: reportJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReportCron, Task: reportTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
