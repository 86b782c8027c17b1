package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/docketsync/docketsync/internal/upstream"
)

// Logger is the minimal logging surface injected through options.
type Logger interface {
	Printf(format string, args ...any)
}

// Stats aggregates one reconciliation run for observability. Per-record
// failures are counted here instead of aborting the batch.
type Stats struct {
	Fetched            int `json:"fetched"`
	Created            int `json:"created"`
	Updated            int `json:"updated"`
	Skipped            int `json:"skipped"`
	Retired            int `json:"retired"`
	AssignmentsCreated int `json:"assignmentsCreated"`
	AssignmentMisses   int `json:"assignmentMisses"`
	Errors             int `json:"errors"`
}

func (s *Stats) add(other Stats) {
	s.Fetched += other.Fetched
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Retired += other.Retired
	s.AssignmentsCreated += other.AssignmentsCreated
	s.AssignmentMisses += other.AssignmentMisses
	s.Errors += other.Errors
}

// Source is the per-entity strategy plugged into the shared reconciliation
// loop: where to fetch the collection and how to merge one remote record.
type Source interface {
	EntityType() string
	ListPath() string
	Merge(ctx context.Context, raw json.RawMessage) (Stats, error)
}

// Manager drives the shared pagination loop for any Source. The upstream
// returns records ordered by modification time; each record is merged
// independently and individual failures are logged and counted.
type Manager struct {
	client *upstream.Client
	source Source
	logger Logger
	// maxPages bounds a single run; zero means no bound.
	maxPages int
}

type ManagerOptions struct {
	Client   *upstream.Client
	Source   Source
	Logger   Logger
	MaxPages int
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("upstream client is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	return &Manager{
		client:   opts.Client,
		source:   opts.Source,
		logger:   opts.Logger,
		maxPages: opts.MaxPages,
	}, nil
}

// Run pulls the source's collection page by page and merges every record.
// A failed page fetch is fatal (the queue marks the job failed); a failed
// record is counted and the loop proceeds.
func (m *Manager) Run(ctx context.Context, options map[string]string) (Stats, error) {
	var stats Stats
	params := url.Values{}
	params.Set("order_by", "date_modified")
	if since := options["since"]; since != "" {
		params.Set("date_modified__gte", since)
	}
	if id := options["remote_id"]; id != "" {
		params.Set("id", id)
	}

	path := m.source.ListPath()
	pages := 0
	for path != "" {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		page, err := m.client.GetPage(ctx, path, params, upstream.RequestOptions{WaitForSlot: true})
		if err != nil {
			return stats, fmt.Errorf("fetch %s page: %w", m.source.EntityType(), err)
		}
		params = nil // cursor URLs already carry the query

		for _, raw := range page.Results {
			stats.Fetched++
			recordStats, err := m.source.Merge(ctx, raw)
			stats.add(recordStats)
			if err != nil {
				stats.Errors++
				m.logf("reconcile %s: record failed: %v", m.source.EntityType(), err)
			}
		}
		pages++
		if m.maxPages > 0 && pages >= m.maxPages {
			break
		}
		path = page.Next
	}
	m.logf("reconcile %s: fetched=%d created=%d updated=%d skipped=%d retired=%d assignments=%d errors=%d",
		m.source.EntityType(), stats.Fetched, stats.Created, stats.Updated, stats.Skipped,
		stats.Retired, stats.AssignmentsCreated, stats.Errors)
	return stats, nil
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
