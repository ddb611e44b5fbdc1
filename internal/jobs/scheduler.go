// Package jobs runs the engine's periodic background work.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"rental/internal/service"
)

// ContractPoller refreshes contracts awaiting a regulatory decision.
type ContractPoller interface {
	PollSubmitted(ctx context.Context) (service.PollResult, error)
}

// Scheduler manages cron job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	poller  ContractPoller
	timeout time.Duration
	log     zerolog.Logger
}

// NewScheduler creates a scheduler that polls contract status on pollSpec
// (six-field cron, seconds first). Each run is bounded by timeout; a run
// still going when the next one fires is skipped.
func NewScheduler(pollSpec string, poller ContractPoller, timeout time.Duration, log zerolog.Logger) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	s := &Scheduler{
		cron:    c,
		poller:  poller,
		timeout: timeout,
		log:     log.With().Str("component", "scheduler").Logger(),
	}

	if _, err := s.cron.AddFunc(pollSpec, s.PollContracts); err != nil {
		return nil, fmt.Errorf("register contract poll %q: %w", pollSpec, err)
	}
	return s, nil
}

// PollContracts runs one contract status pass.
func (s *Scheduler) PollContracts() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.poller.PollSubmitted(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("contract status poll failed")
		return
	}
	s.log.Info().
		Int("checked", res.Checked).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("contract status poll finished")
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("starting cron scheduler")
	s.cron.Start()
}

// Stop stops scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("cron scheduler stopped")
}
