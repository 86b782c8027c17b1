package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/docketsync/docketsync/internal/docket"
)

// CourtSource merges remote court records under the newer-wins rule.
type CourtSource struct {
	store docket.Store
}

func NewCourtSource(store docket.Store) *CourtSource {
	return &CourtSource{store: store}
}

func (s *CourtSource) EntityType() string {
	return docket.JobTypeCourt
}

func (s *CourtSource) ListPath() string {
	return "/courts/"
}

func (s *CourtSource) Merge(ctx context.Context, raw json.RawMessage) (Stats, error) {
	var stats Stats
	var remote remoteCourt
	if err := json.Unmarshal(raw, &remote); err != nil {
		return stats, fmt.Errorf("decode court record: %w", err)
	}
	remote.ID = strings.TrimSpace(remote.ID)
	if remote.ID == "" {
		return stats, fmt.Errorf("court record missing id")
	}

	local, err := s.store.GetCourt(ctx, remote.ID)
	switch {
	case errors.Is(err, docket.ErrNotFound):
		local = docket.Court{RemoteID: remote.ID}
		stats.Created++
	case err != nil:
		return stats, err
	default:
		if !remote.DateModified.After(local.DateModified) {
			stats.Skipped++
			return stats, nil
		}
		stats.Updated++
	}

	local.Name = remote.FullName
	local.Type = remote.Type
	local.Jurisdiction = remote.Jurisdiction
	local.DateModified = remote.DateModified.Time
	if err := s.store.PutCourt(ctx, local); err != nil {
		return stats, err
	}
	return stats, nil
}
