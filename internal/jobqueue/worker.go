package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docketsync/docketsync/internal/docket"
)

// Runner executes one job to completion, including every API-client retry.
// It must observe ctx so cancellation is seen at the next retry checkpoint.
type Runner func(ctx context.Context, job docket.SyncJob) error

// Pool is the bounded worker pool consuming the job backlog. Each worker
// processes one job fully before claiming the next; the upstream rate
// limiter, not the queue, is the real backpressure.
type Pool struct {
	store        docket.Store
	runners      map[string]Runner
	workers      int
	pollInterval time.Duration
	jobTimeout   time.Duration
	retention    time.Duration
	sweepEvery   time.Duration
	logger       Logger
	now          func() time.Time

	mu       sync.Mutex
	inFlight map[string]*inFlightJob
}

type inFlightJob struct {
	jobType string
	cancel  context.CancelFunc
}

type PoolOptions struct {
	Store        docket.Store
	Runners      map[string]Runner
	Workers      int
	PollInterval time.Duration
	// JobTimeout aborts a stuck reconciliation run; zero disables it.
	JobTimeout time.Duration
	// Retention bounds the audit window for terminal jobs and processed
	// webhook records.
	Retention  time.Duration
	SweepEvery time.Duration
	Logger     Logger
}

func NewPool(opts PoolOptions) (*Pool, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(opts.Runners) == 0 {
		return nil, fmt.Errorf("at least one runner is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 2
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	sweepEvery := opts.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}
	return &Pool{
		store:        opts.Store,
		runners:      opts.Runners,
		workers:      workers,
		pollInterval: pollInterval,
		jobTimeout:   opts.JobTimeout,
		retention:    retention,
		sweepEvery:   sweepEvery,
		logger:       opts.Logger,
		now:          time.Now,
		inFlight:     map[string]*inFlightJob{},
	}, nil
}

// Run blocks until ctx is cancelled, driving the workers and the retention
// sweeper.
func (p *Pool) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		group.Go(func() error {
			return p.workerLoop(groupCtx, worker)
		})
	}
	group.Go(func() error {
		return p.sweepLoop(groupCtx)
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) workerLoop(ctx context.Context, worker int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := p.store.ClaimNextJob(ctx)
		if errors.Is(err, docket.ErrNotFound) {
			if waitErr := sleepContext(ctx, p.pollInterval); waitErr != nil {
				return waitErr
			}
			continue
		}
		if err != nil {
			p.logf("worker %d: claim failed: %v", worker, err)
			if waitErr := sleepContext(ctx, p.pollInterval); waitErr != nil {
				return waitErr
			}
			continue
		}
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job docket.SyncJob) {
	runner, ok := p.runners[job.Type]
	if !ok {
		_ = p.store.FinishJob(ctx, job.ID, docket.JobStateFailed,
			fmt.Sprintf("no runner registered for job type %q", job.Type), p.now().UTC())
		return
	}

	var jobCtx context.Context
	var cancel context.CancelFunc
	if p.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	p.track(job, cancel)
	started := p.now()
	err := runner(jobCtx, job)
	duration := p.now().Sub(started)
	cancelledByRequest := p.untrack(job.ID)
	cancel()

	finishedAt := p.now().UTC()
	switch {
	case err == nil:
		_ = p.store.FinishJob(context.WithoutCancel(ctx), job.ID, docket.JobStateSucceeded, "", finishedAt)
		p.logf("job %s (%s) succeeded in %s", job.ID, job.Type, duration.Round(time.Millisecond))
	case cancelledByRequest || errors.Is(err, context.Canceled):
		_ = p.store.FinishJob(context.WithoutCancel(ctx), job.ID, docket.JobStateCancelled, err.Error(), finishedAt)
		p.logf("job %s (%s) cancelled after %s", job.ID, job.Type, duration.Round(time.Millisecond))
	default:
		_ = p.store.FinishJob(context.WithoutCancel(ctx), job.ID, docket.JobStateFailed, err.Error(), finishedAt)
		p.logf("job %s (%s) failed after %s: %v", job.ID, job.Type, duration.Round(time.Millisecond), err)
	}
}

// CancelRunning cancels the contexts of in-flight jobs matching the type
// ("" matches all) and returns how many were signalled.
func (p *Pool) CancelRunning(jobType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancelled := 0
	for id, entry := range p.inFlight {
		if jobType != "" && entry.jobType != jobType {
			continue
		}
		entry.cancel()
		delete(p.inFlight, id)
		cancelled++
	}
	return cancelled
}

func (p *Pool) CancelRunningByID(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.inFlight[id]
	if !ok {
		return false
	}
	entry.cancel()
	delete(p.inFlight, id)
	return true
}

func (p *Pool) track(job docket.SyncJob, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight[job.ID] = &inFlightJob{jobType: job.Type, cancel: cancel}
}

// untrack removes the job and reports whether a cancellation request had
// already fired its context.
func (p *Pool) untrack(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, present := p.inFlight[id]
	delete(p.inFlight, id)
	return !present
}

func (p *Pool) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := p.now().UTC().Add(-p.retention)
			if purged, err := p.store.PurgeTerminalJobs(ctx, cutoff); err != nil {
				p.logf("sweep: purge jobs failed: %v", err)
			} else if purged > 0 {
				p.logf("sweep: purged %d terminal jobs", purged)
			}
			if purged, err := p.store.PurgeProcessedWebhooks(ctx, cutoff); err != nil {
				p.logf("sweep: purge webhooks failed: %v", err)
			} else if purged > 0 {
				p.logf("sweep: purged %d processed webhooks", purged)
			}
		}
	}
}

func (p *Pool) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
