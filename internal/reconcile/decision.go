package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/docketsync/docketsync/internal/docket"
	"github.com/docketsync/docketsync/internal/upstream"
)

// DecisionSource merges decision metadata and then pulls opinion text in a
// second call, so a metadata refresh is never skipped because only the text
// changed. Text is re-fetched on later passes while it is still empty, so a
// transient text failure never strands a decision without its opinion.
type DecisionSource struct {
	store  docket.Store
	client *upstream.Client
	logger Logger
}

func NewDecisionSource(store docket.Store, client *upstream.Client, logger Logger) *DecisionSource {
	return &DecisionSource{store: store, client: client, logger: logger}
}

func (s *DecisionSource) EntityType() string {
	return docket.JobTypeDecision
}

func (s *DecisionSource) ListPath() string {
	return "/decisions/"
}

func (s *DecisionSource) Merge(ctx context.Context, raw json.RawMessage) (Stats, error) {
	var stats Stats
	var remote remoteDecision
	if err := json.Unmarshal(raw, &remote); err != nil {
		return stats, fmt.Errorf("decode decision record: %w", err)
	}
	remote.ID = strings.TrimSpace(remote.ID)
	if remote.ID == "" {
		return stats, fmt.Errorf("decision record missing id")
	}

	local, err := s.store.GetDecision(ctx, remote.ID)
	switch {
	case errors.Is(err, docket.ErrNotFound):
		local = docket.Decision{RemoteID: remote.ID}
		stats.Created++
	case err != nil:
		return stats, err
	default:
		if !remote.DateModified.After(local.DateModified) {
			stats.Skipped++
			// A prior text fetch may have failed after the metadata
			// landed; keep trying until text arrives.
			if local.PlainText == "" {
				if err := s.fetchText(ctx, &local); err != nil {
					return stats, err
				}
			}
			return stats, nil
		}
		stats.Updated++
	}

	// Metadata is persisted first so a later text-fetch failure cannot
	// cost the refresh.
	local.CaseName = remote.CaseName
	local.Disposition = remote.Disposition
	local.Precedential = remote.Precedential
	local.DateFiled = optionalTime(remote.DateFiled)
	local.DateModified = remote.DateModified.Time
	if err := s.store.PutDecision(ctx, local); err != nil {
		return stats, err
	}

	// Opinion text follows metadata; a missing text endpoint is tolerated
	// and leaves the previous text in place.
	if err := s.fetchText(ctx, &local); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *DecisionSource) fetchText(ctx context.Context, local *docket.Decision) error {
	var text remoteDecisionText
	textPath := fmt.Sprintf("/decisions/%s/text/", local.RemoteID)
	ok, err := s.client.Get(ctx, textPath, nil, &text, upstream.RequestOptions{
		TolerateMissing: true,
		WaitForSlot:     true,
	})
	if err != nil {
		return fmt.Errorf("fetch decision text %s: %w", local.RemoteID, err)
	}
	if !ok {
		return nil
	}
	local.PlainText = text.PlainText
	return s.store.PutDecision(ctx, *local)
}
