package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/pkg/checkpoint"
)

const (
	DefaultSchedule = "0 3 * * *" // daily, 03:00
	DefaultKeep     = 500
)

// Sweeper periodically prunes old checkpoints, keeping the most recent ones
// per session. The latest checkpoint is always retained, so a sweep never
// changes visible session state.
type Sweeper struct {
	store    *checkpoint.Store
	logger   zerolog.Logger
	schedule string
	keep     int
	cron     *cron.Cron
	entry    cron.EntryID
}

// NewSweeper builds a sweeper over store. schedule is a standard five-field
// cron expression; keep is how many checkpoints each session retains.
func NewSweeper(store *checkpoint.Store, schedule string, keep int, logger zerolog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Sweeper{
		store:    store,
		logger:   logger.With().Str("component", "retention").Logger(),
		schedule: schedule,
		keep:     keep,
	}
}

// Start registers the sweep on the schedule and begins running it.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return fmt.Errorf("sweeper is already running")
	}

	c := cron.New()
	entry, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.SweepNow(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Checkpoint sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron = c
	s.entry = entry
	c.Start()

	s.logger.Info().
		Str("schedule", s.schedule).
		Int("keep", s.keep).
		Msg("Checkpoint retention started")
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info().Msg("Checkpoint retention stopped")
}

// SweepNow runs one sweep immediately and reports how many checkpoints were
// removed.
func (s *Sweeper) SweepNow(ctx context.Context) (int64, error) {
	started := time.Now()
	pruned, err := s.store.Prune(ctx, s.keep)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.logger.Info().
			Int64("pruned", pruned).
			Dur("took", time.Since(started)).
			Msg("Old checkpoints pruned")
	}
	return pruned, nil
}
