// cmd/stats/main.go
// Recomputes entity form statistics from stored runner rows.
//
// Usage:
//
//	go run ./cmd/stats --kind horse --id hrs_123 --as-of 2024-02-01
//	go run ./cmd/stats --kind all
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/padraicbc/dhworkers/config"
	"github.com/padraicbc/dhworkers/db"
	applog "github.com/padraicbc/dhworkers/logger"
	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/sink"
	"github.com/padraicbc/dhworkers/stats"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "stats:", err)
		stop()
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var kind, id, asOf string
	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Recompute entity form statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds, day, err := parseArgs(kind, id, asOf, time.Now())
			if err != nil {
				return err
			}
			return execute(cmd.Context(), kinds, id, day)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "entity kind (horse, jockey, trainer, owner, sire, dam, damsire) or all")
	cmd.Flags().StringVar(&id, "id", "", "single entity id; requires a single --kind")
	cmd.Flags().StringVar(&asOf, "as-of", "", "count runs strictly before this day (YYYY-MM-DD); default today")
	return cmd
}

func parseArgs(kind, id, asOf string, now time.Time) ([]models.EntityKind, time.Time, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if asOf != "" {
		var err error
		if day, err = time.Parse(time.DateOnly, asOf); err != nil {
			return nil, day, fmt.Errorf("--as-of: %w", err)
		}
	}

	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "all" {
		if id != "" {
			return nil, day, errors.New("--id needs a single --kind")
		}
		return models.StatsKinds, day, nil
	}
	k, ok := models.ParseKind(kind)
	if !ok || !slices.Contains(models.StatsKinds, k) {
		return nil, day, fmt.Errorf("--kind: %q has no statistics", kind)
	}
	return []models.EntityKind{k}, day, nil
}

func execute(ctx context.Context, kinds []models.EntityKind, id string, asOf time.Time) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := applog.New("stats", cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	bdb, err := db.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer bdb.Close()
	if err := db.CreateTables(ctx, bdb); err != nil {
		return err
	}

	agg := stats.New(stats.NewBunReader(bdb), sink.NewBun(bdb), log)
	if id != "" {
		s, err := agg.Recompute(ctx, kinds[0], id, asOf)
		if err != nil {
			return err
		}
		rate := "n/a"
		if s.WinRate != nil {
			rate = s.WinRate.StringFixed(2) + "%"
		}
		fmt.Printf("%s %s: %d runs, %d wins, win rate %s\n", kinds[0], id, s.TotalRuns, s.Wins, rate)
		return nil
	}

	for _, k := range kinds {
		n, err := agg.RecomputeAll(ctx, k, asOf)
		if err != nil {
			log.Error("recompute failed", zap.String("kind", string(k)), zap.Error(err))
			return err
		}
		fmt.Printf("%-8s %s\n", k, color.GreenString("%d refreshed", n))
	}
	return nil
}
