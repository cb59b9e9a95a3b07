package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/volantino-labs/flyer-extractor/internal/jobs"
	"github.com/volantino-labs/flyer-extractor/internal/services"
)

// Runner polls the queue table and drives claimed jobs through the
// processor. The database is the queue: workers race on the claim update,
// so multiple daemon instances can share one table, and requeued jobs are
// picked up with no extra plumbing.
type Runner struct {
	manager  *jobs.Manager
	proc     *services.Processor
	logger   *slog.Logger
	workers  int
	poll     time.Duration
	deadline time.Duration
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithJobDeadline bounds a single job's wall-clock time. A job that
// runs past the deadline is failed with a timeout message.
func WithJobDeadline(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.deadline = d
		}
	}
}

// NewRunner builds a Runner.
func NewRunner(manager *jobs.Manager, proc *services.Processor, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		manager:  manager,
		proc:     proc,
		logger:   logger,
		workers:  2,
		poll:     3 * time.Second,
		deadline: 20 * time.Minute,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run starts the worker loops and blocks until ctx is cancelled and all
// in-flight jobs have finished.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.logger.Info("worker started", "worker_id", workerID)
			r.workerLoop(ctx, workerID)
			r.logger.Info("worker stopped", "worker_id", workerID)
		}(i + 1)
	}
	wg.Wait()
}

func (r *Runner) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		job, err := r.manager.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("claim failed", "worker_id", workerID, "error", err)
		} else if job != nil {
			jobCtx, cancel := context.WithTimeout(ctx, r.deadline)
			if procErr := r.proc.Process(jobCtx, job); procErr != nil {
				r.logger.Error("processing failed", "worker_id", workerID, "job_id", job.ID, "error", procErr)
			} else {
				r.logger.Info("processed job successfully", "worker_id", workerID, "job_id", job.ID)
			}
			cancel()
			// drain the queue before going back to sleep
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
