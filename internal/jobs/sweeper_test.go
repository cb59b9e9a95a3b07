package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/volantino-labs/flyer-extractor/constants"
	"github.com/volantino-labs/flyer-extractor/internal/common"
	"github.com/volantino-labs/flyer-extractor/internal/repository"
)

func sweeperConfig() common.SweeperConfig {
	return common.SweeperConfig{
		Interval:       time.Minute,
		StuckThreshold: 15 * time.Minute,
	}
}

func markProcessingSince(t *testing.T, store *repository.Store, jobID string, since time.Time) {
	t.Helper()
	_, err := store.DB.Exec("UPDATE jobs SET status = ?, started_at = ?, progress = 55 WHERE id = ?",
		string(constants.JobProcessing), since, jobID)
	if err != nil {
		t.Fatalf("marking job processing: %v", err)
	}
}

func TestSweepRequeuesStalledJob(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	jobRepo := repository.NewJobRepository(store)
	sweeper := NewSweeper(jobRepo, sweeperConfig(), nil)

	job, err := m.Enqueue(ctx, EnqueueParams{Filename: "f.pdf", FilePath: "/f.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	markProcessingSince(t, store, job.ID, time.Now().UTC().Add(-time.Hour))

	touched, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if touched != 1 {
		t.Fatalf("touched %d jobs, want 1", touched)
	}

	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constants.JobQueued || got.RequeuedCount != 1 || got.Progress != 0 {
		t.Errorf("requeued job mismatch: %+v", got)
	}
	if got.StartedAt != nil {
		t.Error("requeue must clear started_at")
	}
}

func TestSweepFailsSecondStall(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	jobRepo := repository.NewJobRepository(store)
	sweeper := NewSweeper(jobRepo, sweeperConfig(), nil)

	job, err := m.Enqueue(ctx, EnqueueParams{Filename: "f.pdf", FilePath: "/f.pdf"})
	if err != nil {
		t.Fatal(err)
	}

	// first stall: recovered
	markProcessingSince(t, store, job.ID, time.Now().UTC().Add(-time.Hour))
	if _, err := sweeper.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	// the retry stalls too
	markProcessingSince(t, store, job.ID, time.Now().UTC().Add(-time.Hour))
	if _, err := sweeper.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constants.JobFailed {
		t.Fatalf("second stall should fail the job, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("failed job must carry completed_at")
	}
}

func TestSweepIgnoresHealthyJobs(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	sweeper := NewSweeper(repository.NewJobRepository(store), sweeperConfig(), nil)

	queued, err := m.Enqueue(ctx, EnqueueParams{Filename: "a.pdf", FilePath: "/a.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	active, err := m.Enqueue(ctx, EnqueueParams{Filename: "b.pdf", FilePath: "/b.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	markProcessingSince(t, store, active.ID, time.Now().UTC().Add(-time.Minute))

	touched, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if touched != 0 {
		t.Fatalf("healthy jobs touched: %d", touched)
	}
	for _, id := range []string{queued.ID, active.ID} {
		got, err := m.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.RequeuedCount != 0 {
			t.Errorf("job %s was requeued", id)
		}
	}
}

func TestSweepBandFilter(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	cfg := sweeperConfig()
	cfg.BandOnly = true
	cfg.BandLow = 40
	cfg.BandHigh = 60
	sweeper := NewSweeper(repository.NewJobRepository(store), cfg, nil)

	inBand, err := m.Enqueue(ctx, EnqueueParams{Filename: "a.pdf", FilePath: "/a.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	outOfBand, err := m.Enqueue(ctx, EnqueueParams{Filename: "b.pdf", FilePath: "/b.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	markProcessingSince(t, store, inBand.ID, time.Now().UTC().Add(-time.Hour))
	if _, err := store.DB.Exec("UPDATE jobs SET status = ?, started_at = ?, progress = 95 WHERE id = ?",
		string(constants.JobProcessing), time.Now().UTC().Add(-time.Hour), outOfBand.ID); err != nil {
		t.Fatal(err)
	}

	touched, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if touched != 1 {
		t.Fatalf("touched %d jobs, want only the in-band one", touched)
	}
	got, err := m.Get(ctx, outOfBand.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constants.JobProcessing {
		t.Errorf("out-of-band job was touched: %+v", got)
	}
}
