package jobqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docketsync/docketsync/internal/docket"
)

// Logger is the minimal logging surface injected through options.
type Logger interface {
	Printf(format string, args ...any)
}

// RunningCanceller lets the queue reach jobs that are already executing;
// the worker pool implements it.
type RunningCanceller interface {
	CancelRunning(jobType string) int
	CancelRunningByID(id string) bool
}

// Queue is the control surface over the persisted job backlog. State
// transitions of SyncJobs happen only here and in the worker pool.
type Queue struct {
	store    docket.Store
	logger   Logger
	running  RunningCanceller
	now      func() time.Time
	newJobID func() string
	jobTypes map[string]struct{}
}

type QueueOptions struct {
	Store  docket.Store
	Logger Logger
	// JobTypes restricts what may be enqueued; empty means the default
	// reconciliation job types.
	JobTypes []string
}

func NewQueue(opts QueueOptions) (*Queue, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	jobTypes := opts.JobTypes
	if len(jobTypes) == 0 {
		jobTypes = []string{docket.JobTypeJudge, docket.JobTypeCourt, docket.JobTypeDecision}
	}
	allowed := make(map[string]struct{}, len(jobTypes))
	for _, jobType := range jobTypes {
		allowed[jobType] = struct{}{}
	}
	return &Queue{
		store:    opts.Store,
		logger:   opts.Logger,
		now:      time.Now,
		newJobID: func() string { return "job_" + uuid.NewString() },
		jobTypes: allowed,
	}, nil
}

// SetRunningCanceller attaches the worker pool after both exist.
func (q *Queue) SetRunningCanceller(canceller RunningCanceller) {
	q.running = canceller
}

// Enqueue persists a new pending job. Higher priority runs first.
func (q *Queue) Enqueue(ctx context.Context, jobType string, options map[string]string, priority int) (docket.SyncJob, error) {
	jobType = strings.TrimSpace(jobType)
	if _, ok := q.jobTypes[jobType]; !ok {
		return docket.SyncJob{}, fmt.Errorf("%w: unknown job type %q", docket.ErrInvalidInput, jobType)
	}
	job := docket.SyncJob{
		ID:         q.newJobID(),
		Type:       jobType,
		Priority:   priority,
		Options:    options,
		State:      docket.JobStatePending,
		EnqueuedAt: q.now().UTC(),
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return docket.SyncJob{}, err
	}
	q.logf("queue: enqueued %s job %s priority=%d", job.Type, job.ID, job.Priority)
	return job, nil
}

// CancelByType cancels every pending job of the type ("" matches all) and
// signals any matching running jobs so their retry loops stop at the next
// checkpoint. Returns how many jobs were affected.
func (q *Queue) CancelByType(ctx context.Context, jobType string) (int, error) {
	cancelled, err := q.store.CancelPendingJobs(ctx, jobType)
	if err != nil {
		return 0, err
	}
	if q.running != nil {
		cancelled += q.running.CancelRunning(jobType)
	}
	q.logf("queue: cancelled %d %s jobs", cancelled, displayType(jobType))
	return cancelled, nil
}

// CancelByID cancels one job whether pending or running.
func (q *Queue) CancelByID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return docket.ErrInvalidInput
	}
	if q.running != nil && q.running.CancelRunningByID(id) {
		return nil
	}
	return q.store.CancelJob(ctx, id)
}

// Stats reports the aggregate queue counts.
func (q *Queue) Stats(ctx context.Context) (docket.QueueStats, error) {
	return q.store.JobStats(ctx)
}

// Job fetches one job for inspection.
func (q *Queue) Job(ctx context.Context, id string) (docket.SyncJob, error) {
	return q.store.GetJob(ctx, id)
}

func (q *Queue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}

func displayType(jobType string) string {
	if jobType == "" {
		return "all"
	}
	return jobType
}
