// cmd/migrate/main.go
// Creates the ra_* tables, foreign keys and indexes in PostgreSQL. Safe to
// re-run; every statement is IF NOT EXISTS.
//
// Usage:
//
//	DB_PASS=secret go run ./cmd/migrate
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/padraicbc/dhworkers/config"
	bundb "github.com/padraicbc/dhworkers/db"
)

func main() {
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Create or update the database schema",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := bundb.Setup(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := bundb.CreateTables(ctx, db); err != nil {
				return fmt.Errorf("create tables: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready: %d tables\n", len(bundb.Models()))
			return nil
		},
	}
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
