// Command dhworkers serves the read-only status API: backfill progress per
// run, stored entity statistics, Prometheus metrics and a health check.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/padraicbc/dhworkers/checkpoint"
	"github.com/padraicbc/dhworkers/config"
	"github.com/padraicbc/dhworkers/db"
	"github.com/padraicbc/dhworkers/handlers"
	applog "github.com/padraicbc/dhworkers/logger"
	mw "github.com/padraicbc/dhworkers/middleware"
	"github.com/padraicbc/dhworkers/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := applog.New("api", cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := cfg.RequireJWT(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bdb, err := db.Setup(ctx, cfg)
	if err != nil {
		logger.Fatal("open database failed", zap.Error(err))
	}
	defer bdb.Close()

	if err := db.CreateTables(ctx, bdb); err != nil {
		logger.Fatal("create tables failed", zap.Error(err))
	}

	store, err := checkpoint.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("open checkpoint store failed", zap.Error(err))
	}

	h := handlers.New(stats.NewBunReader(bdb), store, checkpoint.NewErrorLog(cfg.ErrorLogPath), bdb)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.Int("status", v.Status),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			switch {
			case v.Status >= 500:
				logger.Error("http request", fields...)
			case v.Status >= 400:
				logger.Warn("http request", fields...)
			default:
				logger.Debug("http request", fields...)
			}
			return nil
		},
	}))
	e.Use(echomw.Recover())

	// Public
	e.GET("/healthz", h.Healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Protected – require valid JWT in Authorization header
	api := e.Group("/api", mw.JWT(cfg.JWTKey()))
	api.GET("/status/:run", h.Status)
	api.GET("/stats/:kind/:id", h.EntityStats)

	s := &http.Server{
		Addr:         cfg.Port,
		Handler:      e,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdown); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("addr", cfg.Port), zap.Bool("debug", cfg.Debug))
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}
