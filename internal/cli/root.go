// Package cli implements rangectl, the operator tool for the claims service.
package cli

import (
	"context"
	"database/sql"
	"time"

	"github.com/spf13/cobra"

	"rangeclaims/api/internal/config"
	"rangeclaims/api/internal/store"
)

// env carries what every subcommand needs. Tests replace openDB.
type env struct {
	cfg    config.Config
	openDB func(ctx context.Context, url string) (*sql.DB, error)
}

// NewRootCommand builds the rangectl command tree on top of cfg.
func NewRootCommand(cfg config.Config) *cobra.Command {
	return newRootCommand(&env{cfg: cfg, openDB: openOperatorDB(cfg.DB.PingTimeout)})
}

// openOperatorDB opens a small pool; rangectl runs one statement at a time.
func openOperatorDB(pingTimeout time.Duration) func(context.Context, string) (*sql.DB, error) {
	return func(ctx context.Context, url string) (*sql.DB, error) {
		return store.Open(ctx, url, store.PoolConfig{AppName: "rangectl", MaxOpenConns: 2, PingTimeout: pingTimeout})
	}
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "rangectl",
		Short: "Operator tool for the listing claims service",
		Long: `rangectl runs schema migrations, audits listing data quality and
mints operator tokens for the listing claims API.

Connection settings come from the same environment variables as the API
(DATABASE_URL, MIGRATIONS_DIR, JWT_SECRET).`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&e.cfg.DatabaseURL, "database-url", e.cfg.DatabaseURL, "postgres connection string")

	root.AddCommand(
		newMigrateCommand(e),
		newAuditCommand(e),
		newTokenCommand(e),
	)
	return root
}
