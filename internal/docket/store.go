package docket

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("duplicate record")
)

// Store is the persistence boundary for everything the reconciliation core
// reads and writes. Concrete schemas live behind it; the core only depends
// on this interface.
type Store interface {
	JudgeStore
	CourtStore
	DecisionStore
	AssignmentStore
	JobStore
	WebhookStore
	Close() error
}

type JudgeStore interface {
	GetJudge(ctx context.Context, remoteID string) (Judge, error)
	// PutJudge creates or replaces the judge keyed by its remote ID.
	PutJudge(ctx context.Context, judge Judge) error
}

type CourtStore interface {
	GetCourt(ctx context.Context, remoteID string) (Court, error)
	PutCourt(ctx context.Context, court Court) error
	// FindCourtByName resolves a court by its upstream display name.
	FindCourtByName(ctx context.Context, name string) (Court, error)
}

type DecisionStore interface {
	GetDecision(ctx context.Context, remoteID string) (Decision, error)
	PutDecision(ctx context.Context, decision Decision) error
}

type AssignmentStore interface {
	HasAssignment(ctx context.Context, judgeRemoteID, courtRemoteID string) (bool, error)
	// CreateAssignment inserts the pair; ErrDuplicate if it already exists.
	CreateAssignment(ctx context.Context, assignment CourtAssignment) error
}

type JobStore interface {
	InsertJob(ctx context.Context, job SyncJob) error
	GetJob(ctx context.Context, id string) (SyncJob, error)
	// ClaimNextJob atomically moves the highest-priority pending job to
	// running and returns it; ErrNotFound when the backlog is empty. Ties
	// break by enqueue order.
	ClaimNextJob(ctx context.Context) (SyncJob, error)
	// FinishJob records a terminal state with optional error detail.
	FinishJob(ctx context.Context, id, state, errMsg string, finishedAt time.Time) error
	// CancelPendingJobs cancels pending jobs matching the type ("" matches
	// all) and returns how many were cancelled.
	CancelPendingJobs(ctx context.Context, jobType string) (int, error)
	CancelJob(ctx context.Context, id string) error
	JobStats(ctx context.Context) (QueueStats, error)
	// PurgeTerminalJobs removes jobs that reached a terminal state before
	// the cutoff and returns how many were removed.
	PurgeTerminalJobs(ctx context.Context, cutoff time.Time) (int, error)
}

type WebhookStore interface {
	// RecordWebhook inserts the dedup record; created=false when the
	// webhook ID has been seen before.
	RecordWebhook(ctx context.Context, record ProcessedWebhook) (created bool, err error)
	// DeleteWebhook removes the dedup record so a later redelivery of the
	// same webhook ID is treated as new. Missing IDs are not an error.
	DeleteWebhook(ctx context.Context, webhookID string) error
	PurgeProcessedWebhooks(ctx context.Context, cutoff time.Time) (int, error)
}
