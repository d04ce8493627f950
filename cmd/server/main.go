package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"marketref/internal/config"
	"marketref/internal/httpx"
	"marketref/internal/logger"
	"marketref/internal/ratelimit"
	"marketref/internal/refresh"
	"marketref/internal/schedule"
	"marketref/internal/search"
	"marketref/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := logger.Init(logger.Config{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		FileEnabled:   cfg.Logging.FileEnabled,
		FilePath:      cfg.Logging.FilePath,
		RotationSize:  cfg.Logging.RotationSize,
		RetentionDays: cfg.Logging.RetentionDays,
		ServiceName:   "marketref",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	if cfg.Sources.EuronextURL == "" {
		log.Warn().Msg("EURONEXT_DATA_URL not set, remote stock refresh disabled")
	}
	if cfg.Sources.RatesURL == "" {
		log.Warn().Msg("EURFX_RATES_URL not set, remote rates refresh disabled")
	}

	st := store.New()
	httpClient := httpx.New(time.Duration(cfg.Sources.FetchTimeoutSec) * time.Second)
	orch := refresh.New(httpClient, st, cfg.DataDir, cfg.Sources.EuronextURL, cfg.Sources.RatesURL)
	engine := search.New(st)

	// Warm the cache from the canonical files of the previous run.
	orch.LoadDir()

	var sched *schedule.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = schedule.New(schedule.Config{
			Timezone:   cfg.Schedule.Timezone,
			StocksSpec: cfg.Schedule.StocksSpec,
			RatesSpec:  cfg.Schedule.RatesSpec,
		}, orch)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up scheduled jobs")
		}
		sched.Start()
	}

	var limiter *ratelimit.TokenBucket
	if cfg.Refresh.MaxPerMinute > 0 {
		limiter = ratelimit.NewTokenBucket(float64(cfg.Refresh.MaxPerMinute)/60.0, cfg.Refresh.Burst)
	}

	s := &server{engine: engine, orch: orch, limiter: limiter}
	handler := withGzip(recoverPanic(accessLog(requestID(limitBody(s.routes(cfg.Auth.APIKeys))))))

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec+5) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Server listening")
		log.Info().Msgf("API documentation available at http://%s/api-docs", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if sched != nil {
		sched.Stop()
	}
	log.Info().Msg("Server stopped")
}
