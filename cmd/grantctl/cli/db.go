package cli

import (
	"context"
	"fmt"
	"io"
)

// Migrator applies and reports schema migrations.
type Migrator interface {
	Migrate(ctx context.Context) error
	Version(ctx context.Context) (int64, error)
}

// CatalogSeeder inserts the module and action catalog.
type CatalogSeeder interface {
	SeedCatalog(ctx context.Context, modules []string) error
}

// SuperadminBootstrapper creates the single superadmin when missing.
type SuperadminBootstrapper interface {
	BootstrapSuperadmin(ctx context.Context, email, password string) (bool, error)
}

// MigrateOptions configures the migrate command.
type MigrateOptions struct {
	StatusOnly bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// MigrateCommand applies pending migrations, or only prints the version.
func MigrateCommand(ctx context.Context, m Migrator, opts MigrateOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	if !opts.StatusOnly {
		if err := m.Migrate(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
			return 1
		}
	}
	version, err := m.Version(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: version: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "schema version %d\n", version)
	return 0
}

// SeedOptions configures the seed command.
type SeedOptions struct {
	Modules            []string
	SuperadminEmail    string
	SuperadminPassword string
	Stdout             io.Writer
	Stderr             io.Writer
}

// SeedCommand seeds the catalog and, when credentials are given, the superadmin.
func SeedCommand(ctx context.Context, catalog CatalogSeeder, accounts SuperadminBootstrapper, opts SeedOptions) int {
	stdout, stderr := streams(opts.Stdout, opts.Stderr)
	if len(opts.Modules) == 0 {
		_, _ = fmt.Fprintln(stderr, "seed: at least one module is required")
		return 1
	}
	if err := catalog.SeedCatalog(ctx, opts.Modules); err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: catalog: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "catalog seeded with %d modules\n", len(opts.Modules))
	if opts.SuperadminEmail == "" {
		return 0
	}
	created, err := accounts.BootstrapSuperadmin(ctx, opts.SuperadminEmail, opts.SuperadminPassword)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: superadmin: %v\n", err)
		return 1
	}
	if created {
		_, _ = fmt.Fprintf(stdout, "superadmin %s created\n", opts.SuperadminEmail)
	} else {
		_, _ = fmt.Fprintln(stdout, "superadmin already present")
	}
	return 0
}
