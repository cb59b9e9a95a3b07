package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/volantino-labs/flyer-extractor/constants"
	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/repository"
)

// Sweeper recovers jobs whose worker died mid-processing. A stalled job
// gets requeued once; if it stalls again it is failed for good, so a
// poison flyer cannot loop forever.
type Sweeper struct {
	jobs repository.JobRepository
	cfg  common.SweeperConfig
	log  *slog.Logger
	now  func() time.Time
}

// NewSweeper builds a Sweeper.
func NewSweeper(jobs repository.JobRepository, cfg common.SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{jobs: jobs, cfg: cfg, log: logger, now: time.Now}
}

// Run sweeps on the configured interval until ctx is cancelled. One sweep
// fires immediately so a restart recovers stuck jobs without waiting a
// full interval.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("sweeper.started",
		"interval", s.cfg.Interval.String(),
		"threshold", s.cfg.StuckThreshold.String(),
	)
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("sweeper.sweep_error", "error", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper.stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweeper.sweep_error", "error", err)
			}
		}
	}
}

// Sweep runs one recovery pass and returns how many jobs it touched.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.StuckThreshold)
	stuck, err := s.jobs.ListStuck(ctx, cutoff, s.cfg.BandLow, s.cfg.BandHigh, s.cfg.BandOnly)
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, job := range stuck {
		if job.RequeuedCount >= 1 {
			err := s.jobs.Finalize(ctx, job.ID, constants.JobFailed,
				"Processing stalled twice, giving up", 0)
			if err != nil {
				s.log.Error("sweeper.fail_error", "job_id", job.ID, "error", err)
				continue
			}
			s.log.Warn("sweeper.job_failed",
				"job_id", job.ID,
				"progress", job.Progress,
				"requeued_count", job.RequeuedCount,
			)
			touched++
			continue
		}

		won, err := s.jobs.Requeue(ctx, job.ID, "Recovered from stall, requeued")
		if err != nil {
			s.log.Error("sweeper.requeue_error", "job_id", job.ID, "error", err)
			continue
		}
		if !won {
			// the job moved on between the list and the update, nothing to do
			continue
		}
		s.log.Info("sweeper.job_requeued",
			"job_id", job.ID,
			"progress", job.Progress,
			"age", job.Age(s.now()).String(),
		)
		touched++
	}

	if s.cfg.RetentionDays > 0 {
		retCutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
		if n, err := s.jobs.DeleteOlderThan(ctx, retCutoff); err != nil {
			s.log.Error("sweeper.retention_error", "error", err)
		} else if n > 0 {
			s.log.Info("sweeper.retention", "deleted", n)
		}
	}
	return touched, nil
}
