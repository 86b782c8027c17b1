package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/docketsync/docketsync/internal/docket"
)

// AssignmentReconciler materializes judge-court relationships discovered in
// position data. Creation is check-then-insert; the store's uniqueness
// constraint absorbs the race when two workers discover the same pair.
type AssignmentReconciler struct {
	store  docket.Store
	logger Logger
}

func NewAssignmentReconciler(store docket.Store, logger Logger) *AssignmentReconciler {
	return &AssignmentReconciler{store: store, logger: logger}
}

// Ensure links the judge to every court its positions reference. Courts
// without a remote ID are resolved by name; unresolvable courts are counted
// as misses without failing the run.
func (r *AssignmentReconciler) Ensure(ctx context.Context, judge docket.Judge) (created, misses int, err error) {
	for _, position := range judge.Positions {
		courtID := strings.TrimSpace(position.CourtRemoteID)
		if courtID == "" {
			name := strings.TrimSpace(position.CourtName)
			if name == "" {
				misses++
				continue
			}
			court, findErr := r.store.FindCourtByName(ctx, name)
			if errors.Is(findErr, docket.ErrNotFound) {
				misses++
				r.logf("assignment: court %q not resolvable for judge %s", name, judge.RemoteID)
				continue
			}
			if findErr != nil {
				return created, misses, findErr
			}
			courtID = court.RemoteID
		}

		exists, hasErr := r.store.HasAssignment(ctx, judge.RemoteID, courtID)
		if hasErr != nil {
			return created, misses, hasErr
		}
		if exists {
			continue
		}
		createErr := r.store.CreateAssignment(ctx, docket.CourtAssignment{
			JudgeRemoteID: judge.RemoteID,
			CourtRemoteID: courtID,
		})
		if errors.Is(createErr, docket.ErrDuplicate) {
			// Another worker won the race; the invariant still holds.
			continue
		}
		if createErr != nil {
			return created, misses, createErr
		}
		created++
	}
	return created, misses, nil
}

func (r *AssignmentReconciler) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
