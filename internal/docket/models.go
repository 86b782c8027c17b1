package docket

import "time"

// Judge status values. Judges are never deleted; they move between soft
// statuses only.
const (
	JudgeStatusActive  = "active"
	JudgeStatusRetired = "retired"
)

type Judge struct {
	RemoteID     string
	Name         string
	Status       string
	DateModified time.Time
	Positions    []Position
}

// HasActivePosition reports whether at least one position carries no
// termination date.
func (j Judge) HasActivePosition() bool {
	for _, p := range j.Positions {
		if p.DateTermination == nil {
			return true
		}
	}
	return false
}

// Position is a judge's role at a court. CourtName is the upstream's
// human-readable court reference used to resolve assignments.
type Position struct {
	CourtRemoteID   string
	CourtName       string
	DateStart       *time.Time
	DateTermination *time.Time
}

type Court struct {
	RemoteID     string
	Name         string
	Type         string
	Jurisdiction string
	DateModified time.Time
}

type Decision struct {
	RemoteID     string
	CaseName     string
	Disposition  string
	Precedential bool
	DateFiled    *time.Time
	DateModified time.Time
	PlainText    string
}

// CourtAssignment materializes a judge-court relationship. At most one
// exists per (judge, court) pair.
type CourtAssignment struct {
	JudgeRemoteID string
	CourtRemoteID string
	CreatedAt     time.Time
}

// SyncJob states. Transitions are owned exclusively by the job queue.
const (
	JobStatePending   = "pending"
	JobStateRunning   = "running"
	JobStateSucceeded = "succeeded"
	JobStateFailed    = "failed"
	JobStateCancelled = "cancelled"
)

// Job types understood by the worker pool.
const (
	JobTypeJudge    = "judge"
	JobTypeCourt    = "court"
	JobTypeDecision = "decision"
)

type SyncJob struct {
	ID         string
	Type       string
	Priority   int
	Options    map[string]string
	State      string
	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Error      string
}

// Terminal reports whether the job has reached a final state.
func (j SyncJob) Terminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// ProcessedWebhook is the idempotency record for one webhook delivery.
type ProcessedWebhook struct {
	WebhookID   string
	Event       string
	ProcessedAt time.Time
	Outcome     string
}

// QueueStats is the aggregate view exposed on the queue control surface.
type QueueStats struct {
	Pending   int            `json:"pending"`
	Running   int            `json:"running"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Cancelled int            `json:"cancelled"`
	ByType    map[string]int `json:"byType"`
	LastError string         `json:"lastError,omitempty"`
}
