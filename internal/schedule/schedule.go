package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"marketref/internal/refresh"
)

// Refresher is the part of the orchestrator the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context, sourceID string) (refresh.Result, error)
}

// Config pins the job times to a fixed time zone; the upstream feeds
// publish on Brussels time.
type Config struct {
	Timezone   string
	StocksSpec string
	RatesSpec  string
	JobTimeout time.Duration
}

// Scheduler fires the stock and rates refreshes independently at their
// configured daily times. Job failures are logged and swallowed: a failed
// run must never take the process down or block the next run.
type Scheduler struct {
	cron       *cron.Cron
	refresher  Refresher
	jobTimeout time.Duration
}

func New(cfg Config, r Refresher) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		refresher:  r,
		jobTimeout: timeout,
	}
	if _, err := s.cron.AddFunc(cfg.StocksSpec, func() { s.run(refresh.SourceEuronext) }); err != nil {
		return nil, fmt.Errorf("stocks schedule %q: %w", cfg.StocksSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.RatesSpec, func() { s.run(refresh.SourceRates) }); err != nil {
		return nil, fmt.Errorf("rates schedule %q: %w", cfg.RatesSpec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Msg("Scheduled jobs for daily data refresh are active")
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// run executes one scheduled refresh with its own timeout.
func (s *Scheduler) run(sourceID string) {
	log.Info().Str("source", sourceID).Msg("Running scheduled refresh")
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	res, err := s.refresher.Refresh(ctx, sourceID)
	switch {
	case errors.Is(err, refresh.ErrNotConfigured):
		log.Warn().Str("source", sourceID).Msg("Source URL not set, skipping scheduled refresh")
	case err != nil:
		log.Error().Str("source", sourceID).Err(err).Msg("Scheduled refresh failed")
	default:
		log.Info().
			Str("source", res.Source).
			Int("records", res.RecordsLoaded).
			Int("currencies", res.CurrenciesLoaded).
			Msg("Scheduled refresh completed")
	}
}
