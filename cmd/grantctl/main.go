package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grantkeeper/grantkeeper/cmd/grantctl/cli"
	"github.com/grantkeeper/grantkeeper/internal/app"
	"github.com/grantkeeper/grantkeeper/internal/platform/db"
	"github.com/grantkeeper/grantkeeper/internal/rbac"
	"github.com/grantkeeper/grantkeeper/internal/users"
)

const usage = `usage: grantctl <command> [flags]

commands:
  migrate   apply schema migrations (-status to only print the version)
  seed      seed the module catalog and bootstrap the superadmin
  report    enqueue a grant report run
  queue     show job queue statistics
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
		fs.SetOutput(stderr)
		status := fs.Bool("status", false, "print the current version only")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		pool, code := connect(ctx, cfg, stderr)
		if pool == nil {
			return code
		}
		defer pool.Close()
		return cli.MigrateCommand(ctx, migrator{pool: pool, logger: logger}, cli.MigrateOptions{StatusOnly: *status, Stdout: stdout, Stderr: stderr})

	case "seed":
		fs := flag.NewFlagSet("seed", flag.ContinueOnError)
		fs.SetOutput(stderr)
		modules := fs.String("modules", strings.Join(cfg.CatalogModules, ","), "comma separated module names")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		pool, code := connect(ctx, cfg, stderr)
		if pool == nil {
			return code
		}
		defer pool.Close()
		grants := rbac.NewRepository(pool)
		accounts := users.NewService(users.NewRepository(pool), nil, logger)
		return cli.SeedCommand(ctx, grants, accounts, cli.SeedOptions{
			Modules:            splitModules(*modules),
			SuperadminEmail:    cfg.SuperadminEmail,
			SuperadminPassword: cfg.SuperadminPassword,
			Stdout:             stdout,
			Stderr:             stderr,
		})

	case "report":
		fs := flag.NewFlagSet("report", flag.ContinueOnError)
		fs.SetOutput(stderr)
		reason := fs.String("reason", "manual", "reason recorded with the run")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.AsynqRedis())
		defer func() { _ = jobsCLI.Close() }()
		return jobsCLI.ReportCommand(ctx, cli.ReportOptions{Reason: *reason, Stdout: stdout, Stderr: stderr})

	case "queue":
		fs := flag.NewFlagSet("queue", flag.ContinueOnError)
		fs.SetOutput(stderr)
		scheduled := fs.Int("scheduled", 0, "list up to N scheduled tasks")
		jsonOut := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.AsynqRedis())
		defer func() { _ = jobsCLI.Close() }()
		return jobsCLI.QueueCommand(ctx, cli.QueueOptions{Scheduled: *scheduled, JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})

	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func connect(ctx context.Context, cfg *app.Config, stderr io.Writer) (*pgxpool.Pool, int) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2, StatementTimeout: cfg.PGStatementTimeout})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "connect database: %v\n", err)
		return nil, 1
	}
	return pool, 0
}

type migrator struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func (m migrator) Migrate(ctx context.Context) error { return db.Migrate(ctx, m.pool, m.logger) }

func (m migrator) Version(ctx context.Context) (int64, error) {
	return db.MigrationVersion(ctx, m.pool, m.logger)
}

func splitModules(raw string) []string {
	var out []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			out = append(out, name)
		}
	}
	return out
}
