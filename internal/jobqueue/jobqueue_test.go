package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docketsync/docketsync/internal/docket"
)

func newTestQueue(t *testing.T, store docket.Store) *Queue {
	t.Helper()
	queue, err := NewQueue(QueueOptions{Store: store})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return queue
}

func waitForJobState(t *testing.T, store docket.Store, id, want string) docket.SyncJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("get job %s: %v", id, err)
		}
		if job.State == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), id)
	t.Fatalf("job %s never reached %s, last state %s", id, want, job.State)
	return docket.SyncJob{}
}

func TestQueueEnqueueRejectsUnknownType(t *testing.T) {
	queue := newTestQueue(t, docket.NewMemoryStore())
	_, err := queue.Enqueue(context.Background(), "mystery", nil, 0)
	if !errors.Is(err, docket.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestQueueEnqueuePersistsPendingJob(t *testing.T) {
	store := docket.NewMemoryStore()
	queue := newTestQueue(t, store)
	job, err := queue.Enqueue(context.Background(), docket.JobTypeJudge, map[string]string{"since": "2025-01-01"}, 5)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.ID == "" || job.State != docket.JobStatePending || job.Priority != 5 {
		t.Fatalf("unexpected job: %+v", job)
	}
	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Options["since"] != "2025-01-01" {
		t.Fatalf("options not persisted: %+v", stored.Options)
	}
}

func TestPoolRunsJobToSuccess(t *testing.T) {
	store := docket.NewMemoryStore()
	queue := newTestQueue(t, store)

	var mu sync.Mutex
	var seen []string
	pool, err := NewPool(PoolOptions{
		Store: store,
		Runners: map[string]Runner{
			docket.JobTypeJudge: func(ctx context.Context, job docket.SyncJob) error {
				mu.Lock()
				seen = append(seen, job.ID)
				mu.Unlock()
				return nil
			},
		},
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	job, err := queue.Enqueue(context.Background(), docket.JobTypeJudge, nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	finished := waitForJobState(t, store, job.ID, docket.JobStateSucceeded)
	if finished.FinishedAt == nil {
		t.Fatalf("finished job missing timestamp: %+v", finished)
	}
	mu.Lock()
	ran := len(seen)
	mu.Unlock()
	if ran != 1 {
		t.Fatalf("runner ran %d times, want 1", ran)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("pool run returned %v", err)
	}
}

func TestPoolMarksFailedJobWithError(t *testing.T) {
	store := docket.NewMemoryStore()
	queue := newTestQueue(t, store)
	pool, err := NewPool(PoolOptions{
		Store: store,
		Runners: map[string]Runner{
			docket.JobTypeCourt: func(ctx context.Context, job docket.SyncJob) error {
				return errors.New("upstream 502 after 4 attempts")
			},
		},
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	job, err := queue.Enqueue(context.Background(), docket.JobTypeCourt, nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed := waitForJobState(t, store, job.ID, docket.JobStateFailed)
	if failed.Error != "upstream 502 after 4 attempts" {
		t.Fatalf("error = %q", failed.Error)
	}
}

func TestPoolFailsJobWithoutRunner(t *testing.T) {
	store := docket.NewMemoryStore()
	queue, err := NewQueue(QueueOptions{Store: store, JobTypes: []string{"special"}})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	pool, err := NewPool(PoolOptions{
		Store: store,
		Runners: map[string]Runner{
			docket.JobTypeJudge: func(context.Context, docket.SyncJob) error { return nil },
		},
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	job, err := queue.Enqueue(context.Background(), "special", nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed := waitForJobState(t, store, job.ID, docket.JobStateFailed)
	if failed.Error == "" {
		t.Fatalf("expected error detail for unroutable job")
	}
}

func TestCancelByIDStopsRunningJob(t *testing.T) {
	store := docket.NewMemoryStore()
	queue := newTestQueue(t, store)

	started := make(chan struct{})
	pool, err := NewPool(PoolOptions{
		Store: store,
		Runners: map[string]Runner{
			docket.JobTypeDecision: func(ctx context.Context, job docket.SyncJob) error {
				close(started)
				<-ctx.Done()
				return ctx.Err()
			},
		},
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	queue.SetRunningCanceller(pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	job, err := queue.Enqueue(context.Background(), docket.JobTypeDecision, nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("job never started")
	}
	if err := queue.CancelByID(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForJobState(t, store, job.ID, docket.JobStateCancelled)
}

func TestCancelByTypeCancelsPendingAndRunning(t *testing.T) {
	store := docket.NewMemoryStore()
	queue := newTestQueue(t, store)

	started := make(chan struct{})
	release := make(chan struct{})
	pool, err := NewPool(PoolOptions{
		Store: store,
		Runners: map[string]Runner{
			docket.JobTypeJudge: func(ctx context.Context, job docket.SyncJob) error {
				close(started)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-release:
					return nil
				}
			},
		},
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	queue.SetRunningCanceller(pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	running, err := queue.Enqueue(context.Background(), docket.JobTypeJudge, nil, 10)
	if err != nil {
		t.Fatalf("enqueue running: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("first job never started")
	}
	pending, err := queue.Enqueue(context.Background(), docket.JobTypeJudge, nil, 0)
	if err != nil {
		t.Fatalf("enqueue pending: %v", err)
	}

	cancelled, err := queue.CancelByType(context.Background(), docket.JobTypeJudge)
	if err != nil {
		t.Fatalf("cancel by type: %v", err)
	}
	if cancelled != 2 {
		t.Fatalf("cancelled %d jobs, want 2", cancelled)
	}
	waitForJobState(t, store, running.ID, docket.JobStateCancelled)

	pendingJob, err := store.GetJob(context.Background(), pending.ID)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if pendingJob.State != docket.JobStateCancelled {
		t.Fatalf("pending job state = %s, want cancelled", pendingJob.State)
	}
	close(release)
}

func TestPoolJobTimeoutFailsStuckJob(t *testing.T) {
	store := docket.NewMemoryStore()
	queue := newTestQueue(t, store)
	pool, err := NewPool(PoolOptions{
		Store: store,
		Runners: map[string]Runner{
			docket.JobTypeJudge: func(ctx context.Context, job docket.SyncJob) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		JobTimeout:   30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	job, err := queue.Enqueue(context.Background(), docket.JobTypeJudge, nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed := waitForJobState(t, store, job.ID, docket.JobStateFailed)
	if failed.Error == "" {
		t.Fatalf("expected deadline error detail")
	}
}

func TestPoolSweepPurgesOldTerminalJobsAndWebhooks(t *testing.T) {
	store := docket.NewMemoryStore()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	if err := store.InsertJob(ctx, docket.SyncJob{ID: "old", Type: docket.JobTypeJudge}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.FinishJob(ctx, "old", docket.JobStateSucceeded, "", old); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := store.RecordWebhook(ctx, docket.ProcessedWebhook{WebhookID: "old", ProcessedAt: old}); err != nil {
		t.Fatalf("record webhook: %v", err)
	}

	pool, err := NewPool(PoolOptions{
		Store: store,
		Runners: map[string]Runner{
			docket.JobTypeJudge: func(context.Context, docket.SyncJob) error { return nil },
		},
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		Retention:    24 * time.Hour,
		SweepEvery:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(runCtx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.GetJob(ctx, "old"); errors.Is(err, docket.ErrNotFound) {
			// Webhook record must be re-creatable once purged.
			if created, _ := store.RecordWebhook(ctx, docket.ProcessedWebhook{WebhookID: "old"}); created {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sweep never purged expired records")
}
