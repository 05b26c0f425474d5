// cmd/backfill/main.go
// Backfills Racing API results for a date range into PostgreSQL, one day
// per committed unit, resumable from its checkpoint.
//
// Usage:
//
//	go run ./cmd/backfill --start-date 2024-01-01 --end-date 2024-01-31
//	go run ./cmd/backfill --start-date 2024-01-01 --end-date 2024-01-31 --resume
//	go run ./cmd/backfill --start-date 2024-01-01 --end-date 2024-01-31 --retry-skipped
//	go run ./cmd/backfill --check-status --run-name backfill
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/padraicbc/dhworkers/backfill"
	"github.com/padraicbc/dhworkers/checkpoint"
	"github.com/padraicbc/dhworkers/config"
	"github.com/padraicbc/dhworkers/db"
	"github.com/padraicbc/dhworkers/extract"
	applog "github.com/padraicbc/dhworkers/logger"
	"github.com/padraicbc/dhworkers/racingapi"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailed      = 1
	exitInterrupted = 130
)

type flags struct {
	start, end  string
	runName     string
	resume      bool
	fresh       bool
	retrySkip   bool
	checkStatus bool
	dryRun      bool
	skipFailed  bool
	yes         bool
	enrich      bool
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	var f flags
	cmd := &cobra.Command{
		Use:           "backfill",
		Short:         "Backfill Racing API results into PostgreSQL day by day",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.start, "start-date", "", "first day to backfill (YYYY-MM-DD)")
	fl.StringVar(&f.end, "end-date", "", "last day to backfill, inclusive (YYYY-MM-DD)")
	fl.StringVar(&f.runName, "run-name", "backfill", "checkpoint name; one run name per independent backfill")
	fl.BoolVar(&f.resume, "resume", false, "continue after an existing checkpoint inside the range")
	fl.BoolVar(&f.fresh, "fresh", false, "discard the checkpoint and start at --start-date")
	fl.BoolVar(&f.retrySkip, "retry-skipped", false, "re-run only the skipped days inside the range; the checkpoint does not move")
	fl.BoolVar(&f.checkStatus, "check-status", false, "print checkpoint, errors and pending days, then exit")
	fl.BoolVar(&f.dryRun, "dry-run", false, "fetch and extract into memory without touching the database or checkpoint")
	fl.BoolVar(&f.skipFailed, "skip-failed", false, "offer to skip a day that exhausts its retries instead of halting")
	fl.BoolVar(&f.yes, "yes", false, "with --skip-failed, skip without prompting")
	fl.BoolVar(&f.enrich, "enrich", false, "look up details of horses not yet stored")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.MarkFlagsMutuallyExclusive("resume", "fresh", "retry-skipped")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "retry-skipped")
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil && !errors.Is(err, errReported) {
		fmt.Fprintln(os.Stderr, "backfill:", err)
	}
	return code
}

// errReported marks a failure already described by the printed summary.
var errReported = errors.New("run failed")

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, backfill.ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailed
	}
}

func execute(ctx context.Context, f flags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := applog.New("backfill", cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := checkpoint.Open(ctx, cfg)
	if err != nil {
		return err
	}
	errlog := checkpoint.NewErrorLog(cfg.ErrorLogPath)

	if f.checkStatus {
		var rng backfill.Range
		if f.start != "" || f.end != "" {
			if rng, err = backfill.ParseRange(f.start, f.end); err != nil {
				return err
			}
		}
		st, err := backfill.ReadStatus(ctx, store, errlog, f.runName, rng)
		if err != nil {
			return err
		}
		printStatus(os.Stdout, st)
		return nil
	}

	rng, err := backfill.ParseRange(f.start, f.end)
	if err != nil {
		return err
	}
	if err := cfg.RequireAPI(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := backfill.NewMetrics(reg)
	if f.metricsAddr != "" {
		srv := serveMetrics(f.metricsAddr, reg, log)
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
	}

	api := racingapi.New(racingapi.Options{
		BaseURL:     cfg.APIBaseURL,
		Username:    cfg.APIUsername,
		Password:    cfg.APIPassword,
		RPS:         cfg.APIRPS,
		MaxAttempts: cfg.APIMaxAttempts,
		Timeout:     cfg.APITimeout,
		Logger:      log,
		OnRequest:   metrics.ObserveRequest,
	})

	dcfg := backfill.Config{
		API:             api,
		Store:           store,
		ErrorLog:        errlog,
		Extractor:       extract.New(log),
		Logger:          log,
		Metrics:         metrics,
		UnitMaxAttempts: cfg.UnitMaxAttempts,
	}
	if !f.dryRun {
		bdb, err := db.Setup(ctx, cfg)
		if err != nil {
			return err
		}
		defer bdb.Close()
		if err := db.CreateTables(ctx, bdb); err != nil {
			return err
		}
		dcfg.Committer = backfill.NewDBCommitter(bdb)
		dcfg.Lock = func(ctx context.Context, run string) (func(), error) {
			l, err := db.TryLock(ctx, bdb, "backfill:"+run)
			if err != nil {
				return nil, err
			}
			return func() { _ = l.Release(context.Background()) }, nil
		}
	}

	driver, err := backfill.New(dcfg)
	if err != nil {
		return err
	}

	opts := backfill.Options{
		RunName:      f.runName,
		Resume:       f.resume,
		Fresh:        f.fresh,
		SkipFailed:   f.skipFailed,
		Enrich:       f.enrich,
		DryRun:       f.dryRun,
		RetrySkipped: f.retrySkip,
	}
	if f.skipFailed {
		opts.Ack = prompt(os.Stdin, os.Stderr, f.yes)
	}

	sum, err := driver.Run(ctx, rng, opts)
	printSummary(os.Stdout, sum)
	if err != nil {
		if errors.Is(err, backfill.ErrInterrupted) || errors.Is(err, backfill.ErrUnitFailed) {
			log.Error("backfill stopped", zap.Error(err))
			return fmt.Errorf("%w: %w", errReported, err)
		}
		return err
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server exited", zap.Error(err))
		}
	}()
	return srv
}
