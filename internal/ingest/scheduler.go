package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often the scheduler looks for pending files.
const DefaultInterval = 60 * time.Second

// Scheduler runs the pipeline on a fixed interval with an explicit
// single-flight guarantee: at most one run is ever in progress, and a
// tick that fires while a run executes is skipped, not queued.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
	inFlight atomic.Bool
	logger   *slog.Logger
}

// NewScheduler builds a Scheduler. interval <= 0 selects DefaultInterval.
func NewScheduler(pipeline *Pipeline, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pipeline: pipeline,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, firing one tick per interval.
// time.Ticker coalesces delayed ticks, so a slow run is followed by at
// most one catch-up tick rather than a backlog.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("ingestion scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingestion scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts one pipeline run unless a run is already in flight.
// Reports whether a run was started.
func (s *Scheduler) tick(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Info("previous run still in progress, skipping tick")
		return false
	}
	go func() {
		defer s.inFlight.Store(false)
		processed, err := s.pipeline.RunOnce(ctx)
		if err != nil {
			s.logger.Error("scheduler run failed", "error", err)
			return
		}
		if !processed {
			s.logger.Debug("no files pending")
		}
	}()
	return true
}
