package docket

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by tests and single-node
// deployments without a database.
type MemoryStore struct {
	mu          sync.Mutex
	judges      map[string]Judge
	courts      map[string]Court
	decisions   map[string]Decision
	assignments map[string]CourtAssignment
	jobs        map[string]SyncJob
	jobOrder    []string
	webhooks    map[string]ProcessedWebhook
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		judges:      map[string]Judge{},
		courts:      map[string]Court{},
		decisions:   map[string]Decision{},
		assignments: map[string]CourtAssignment{},
		jobs:        map[string]SyncJob{},
		webhooks:    map[string]ProcessedWebhook{},
		now:         time.Now,
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) GetJudge(_ context.Context, remoteID string) (Judge, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return Judge{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	judge, ok := s.judges[remoteID]
	if !ok {
		return Judge{}, ErrNotFound
	}
	return cloneJudge(judge), nil
}

func (s *MemoryStore) PutJudge(_ context.Context, judge Judge) error {
	if strings.TrimSpace(judge.RemoteID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judges[judge.RemoteID] = cloneJudge(judge)
	return nil
}

func (s *MemoryStore) GetCourt(_ context.Context, remoteID string) (Court, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return Court{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	court, ok := s.courts[remoteID]
	if !ok {
		return Court{}, ErrNotFound
	}
	return court, nil
}

func (s *MemoryStore) PutCourt(_ context.Context, court Court) error {
	if strings.TrimSpace(court.RemoteID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courts[court.RemoteID] = court
	return nil
}

func (s *MemoryStore) FindCourtByName(_ context.Context, name string) (Court, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Court{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, court := range s.courts {
		if strings.EqualFold(court.Name, name) {
			return court, nil
		}
	}
	return Court{}, ErrNotFound
}

func (s *MemoryStore) GetDecision(_ context.Context, remoteID string) (Decision, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return Decision{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	decision, ok := s.decisions[remoteID]
	if !ok {
		return Decision{}, ErrNotFound
	}
	return decision, nil
}

func (s *MemoryStore) PutDecision(_ context.Context, decision Decision) error {
	if strings.TrimSpace(decision.RemoteID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[decision.RemoteID] = decision
	return nil
}

func (s *MemoryStore) HasAssignment(_ context.Context, judgeRemoteID, courtRemoteID string) (bool, error) {
	if strings.TrimSpace(judgeRemoteID) == "" || strings.TrimSpace(courtRemoteID) == "" {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assignments[assignmentKey(judgeRemoteID, courtRemoteID)]
	return ok, nil
}

func (s *MemoryStore) CreateAssignment(_ context.Context, assignment CourtAssignment) error {
	if strings.TrimSpace(assignment.JudgeRemoteID) == "" || strings.TrimSpace(assignment.CourtRemoteID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey(assignment.JudgeRemoteID, assignment.CourtRemoteID)
	if _, exists := s.assignments[key]; exists {
		return ErrDuplicate
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = s.now()
	}
	s.assignments[key] = assignment
	return nil
}

func (s *MemoryStore) InsertJob(_ context.Context, job SyncJob) error {
	if strings.TrimSpace(job.ID) == "" || strings.TrimSpace(job.Type) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicate
	}
	if job.State == "" {
		job.State = JobStatePending
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = s.now()
	}
	s.jobs[job.ID] = cloneJob(job)
	s.jobOrder = append(s.jobOrder, job.ID)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (SyncJob, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SyncJob{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return SyncJob{}, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ClaimNextJob(_ context.Context) (SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]string, 0)
	for _, id := range s.jobOrder {
		if s.jobs[id].State == JobStatePending {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return SyncJob{}, ErrNotFound
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return s.jobs[candidates[i]].Priority > s.jobs[candidates[j]].Priority
	})
	job := s.jobs[candidates[0]]
	started := s.now()
	job.State = JobStateRunning
	job.StartedAt = &started
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (s *MemoryStore) FinishJob(_ context.Context, id, state, errMsg string, finishedAt time.Time) error {
	switch state {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
	default:
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if finishedAt.IsZero() {
		finishedAt = s.now()
	}
	job.State = state
	job.Error = errMsg
	job.FinishedAt = &finishedAt
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) CancelPendingJobs(_ context.Context, jobType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled := 0
	now := s.now()
	for id, job := range s.jobs {
		if job.State != JobStatePending {
			continue
		}
		if jobType != "" && job.Type != jobType {
			continue
		}
		job.State = JobStateCancelled
		job.FinishedAt = &now
		s.jobs[id] = job
		cancelled++
	}
	return cancelled, nil
}

func (s *MemoryStore) CancelJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Terminal() {
		return nil
	}
	now := s.now()
	job.State = JobStateCancelled
	job.FinishedAt = &now
	s.jobs[id] = job
	return nil
}

func (s *MemoryStore) JobStats(_ context.Context) (QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := QueueStats{ByType: map[string]int{}}
	var lastFailure time.Time
	for _, job := range s.jobs {
		stats.ByType[job.Type]++
		switch job.State {
		case JobStatePending:
			stats.Pending++
		case JobStateRunning:
			stats.Running++
		case JobStateSucceeded:
			stats.Succeeded++
		case JobStateFailed:
			stats.Failed++
			if job.FinishedAt != nil && job.FinishedAt.After(lastFailure) {
				lastFailure = *job.FinishedAt
				stats.LastError = job.Error
			}
		case JobStateCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (s *MemoryStore) PurgeTerminalJobs(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	kept := s.jobOrder[:0]
	for _, id := range s.jobOrder {
		job := s.jobs[id]
		if job.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			purged++
			continue
		}
		kept = append(kept, id)
	}
	s.jobOrder = kept
	return purged, nil
}

func (s *MemoryStore) RecordWebhook(_ context.Context, record ProcessedWebhook) (bool, error) {
	if strings.TrimSpace(record.WebhookID) == "" {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.webhooks[record.WebhookID]; exists {
		return false, nil
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = s.now()
	}
	s.webhooks[record.WebhookID] = record
	return true, nil
}

func (s *MemoryStore) DeleteWebhook(_ context.Context, webhookID string) error {
	if strings.TrimSpace(webhookID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.webhooks, webhookID)
	return nil
}

func (s *MemoryStore) PurgeProcessedWebhooks(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, record := range s.webhooks {
		if record.ProcessedAt.Before(cutoff) {
			delete(s.webhooks, id)
			purged++
		}
	}
	return purged, nil
}

func assignmentKey(judgeRemoteID, courtRemoteID string) string {
	return strings.TrimSpace(judgeRemoteID) + "|" + strings.TrimSpace(courtRemoteID)
}

func cloneJudge(judge Judge) Judge {
	judge.Positions = append([]Position(nil), judge.Positions...)
	return judge
}

func cloneJob(job SyncJob) SyncJob {
	if job.Options != nil {
		options := make(map[string]string, len(job.Options))
		for key, value := range job.Options {
			options[key] = value
		}
		job.Options = options
	}
	if job.StartedAt != nil {
		started := *job.StartedAt
		job.StartedAt = &started
	}
	if job.FinishedAt != nil {
		finished := *job.FinishedAt
		job.FinishedAt = &finished
	}
	return job
}
