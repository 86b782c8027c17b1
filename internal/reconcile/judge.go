package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/docketsync/docketsync/internal/docket"
)

// JudgeSource merges remote judge records, runs retirement detection, and
// materializes court assignments from position data.
type JudgeSource struct {
	store       docket.Store
	assignments *AssignmentReconciler
	logger      Logger
}

func NewJudgeSource(store docket.Store, logger Logger) *JudgeSource {
	return &JudgeSource{
		store:       store,
		assignments: NewAssignmentReconciler(store, logger),
		logger:      logger,
	}
}

func (s *JudgeSource) EntityType() string {
	return docket.JobTypeJudge
}

func (s *JudgeSource) ListPath() string {
	return "/judges/"
}

func (s *JudgeSource) Merge(ctx context.Context, raw json.RawMessage) (Stats, error) {
	var stats Stats
	var remote remoteJudge
	if err := json.Unmarshal(raw, &remote); err != nil {
		return stats, fmt.Errorf("decode judge record: %w", err)
	}
	remote.ID = strings.TrimSpace(remote.ID)
	if remote.ID == "" {
		return stats, fmt.Errorf("judge record missing id")
	}

	local, err := s.store.GetJudge(ctx, remote.ID)
	switch {
	case errors.Is(err, docket.ErrNotFound):
		local = docket.Judge{
			RemoteID: remote.ID,
			Status:   docket.JudgeStatusActive,
		}
		stats.Created++
	case err != nil:
		return stats, err
	default:
		// Newer-wins: stale or equal remote timestamps never regress
		// fresher local data.
		if !remote.DateModified.After(local.DateModified) {
			stats.Skipped++
			return stats, nil
		}
		stats.Updated++
	}

	local.Name = remote.Name
	local.DateModified = remote.DateModified.Time
	local.Positions = local.Positions[:0]
	for _, position := range remote.Positions {
		local.Positions = append(local.Positions, docket.Position{
			CourtRemoteID:   strings.TrimSpace(position.Court),
			CourtName:       strings.TrimSpace(position.CourtName),
			DateStart:       optionalTime(position.DateStart),
			DateTermination: optionalTime(position.DateTermination),
		})
	}

	if retired := s.detectRetirement(&local); retired {
		stats.Retired++
	}

	if err := s.store.PutJudge(ctx, local); err != nil {
		return stats, err
	}

	created, misses, err := s.assignments.Ensure(ctx, local)
	stats.AssignmentsCreated += created
	stats.AssignmentMisses += misses
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// detectRetirement transitions an active judge whose positions are all
// terminated to retired. Idempotent: an already-retired judge is left
// untouched, and a judge with any open position stays (or becomes) active.
func (s *JudgeSource) detectRetirement(judge *docket.Judge) bool {
	if judge.HasActivePosition() {
		judge.Status = docket.JudgeStatusActive
		return false
	}
	if len(judge.Positions) == 0 || judge.Status != docket.JudgeStatusActive {
		return false
	}
	judge.Status = docket.JudgeStatusRetired
	s.logf("judge %s: all positions terminated, active -> retired", judge.RemoteID)
	return true
}

func (s *JudgeSource) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
