package docket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	postgresJudgesTable      = "docketsync_judges"
	postgresCourtsTable      = "docketsync_courts"
	postgresDecisionsTable   = "docketsync_decisions"
	postgresAssignmentsTable = "docketsync_assignments"
	postgresJobsTable        = "docketsync_jobs"
	postgresWebhooksTable    = "docketsync_webhooks"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore persists every reconciled entity and the job/webhook
// bookkeeping in Postgres. Schema is created lazily on first use.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					remote_id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					status TEXT NOT NULL,
					date_modified TIMESTAMPTZ NOT NULL,
					positions JSONB NOT NULL DEFAULT '[]'
				)`, quoteIdentifier(postgresJudgesTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					remote_id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					court_type TEXT NOT NULL DEFAULT '',
					jurisdiction TEXT NOT NULL DEFAULT '',
					date_modified TIMESTAMPTZ NOT NULL
				)`, quoteIdentifier(postgresCourtsTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					remote_id TEXT PRIMARY KEY,
					case_name TEXT NOT NULL DEFAULT '',
					disposition TEXT NOT NULL DEFAULT '',
					precedential BOOLEAN NOT NULL DEFAULT FALSE,
					date_filed TIMESTAMPTZ,
					date_modified TIMESTAMPTZ NOT NULL,
					plain_text TEXT NOT NULL DEFAULT ''
				)`, quoteIdentifier(postgresDecisionsTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					judge_remote_id TEXT NOT NULL,
					court_remote_id TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (judge_remote_id, court_remote_id)
				)`, quoteIdentifier(postgresAssignmentsTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id TEXT PRIMARY KEY,
					job_type TEXT NOT NULL,
					priority INTEGER NOT NULL DEFAULT 0,
					options JSONB NOT NULL DEFAULT '{}',
					state TEXT NOT NULL,
					enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					started_at TIMESTAMPTZ,
					finished_at TIMESTAMPTZ,
					error_message TEXT NOT NULL DEFAULT ''
				)`, quoteIdentifier(postgresJobsTable)),
			fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s (state, priority DESC, enqueued_at ASC)",
				quoteIdentifier(postgresJobsTable+"_claim_idx"),
				quoteIdentifier(postgresJobsTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					webhook_id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					outcome TEXT NOT NULL DEFAULT ''
				)`, quoteIdentifier(postgresWebhooksTable)),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) GetJudge(ctx context.Context, remoteID string) (Judge, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return Judge{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Judge{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"SELECT remote_id, name, status, date_modified, positions FROM %s WHERE remote_id = $1",
		quoteIdentifier(postgresJudgesTable))
	var judge Judge
	var positions []byte
	err := s.db.QueryRowContext(opCtx, query, remoteID).Scan(
		&judge.RemoteID, &judge.Name, &judge.Status, &judge.DateModified, &positions)
	if errors.Is(err, sql.ErrNoRows) {
		return Judge{}, ErrNotFound
	}
	if err != nil {
		return Judge{}, err
	}
	if err := json.Unmarshal(positions, &judge.Positions); err != nil {
		return Judge{}, err
	}
	return judge, nil
}

func (s *PostgresStore) PutJudge(ctx context.Context, judge Judge) error {
	if strings.TrimSpace(judge.RemoteID) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	positions, err := json.Marshal(judge.Positions)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (remote_id, name, status, date_modified, positions)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (remote_id)
		DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status,
			date_modified = EXCLUDED.date_modified, positions = EXCLUDED.positions`,
		quoteIdentifier(postgresJudgesTable))
	_, err = s.db.ExecContext(opCtx, query, judge.RemoteID, judge.Name, judge.Status, judge.DateModified, positions)
	return err
}

func (s *PostgresStore) GetCourt(ctx context.Context, remoteID string) (Court, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return Court{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Court{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"SELECT remote_id, name, court_type, jurisdiction, date_modified FROM %s WHERE remote_id = $1",
		quoteIdentifier(postgresCourtsTable))
	var court Court
	err := s.db.QueryRowContext(opCtx, query, remoteID).Scan(
		&court.RemoteID, &court.Name, &court.Type, &court.Jurisdiction, &court.DateModified)
	if errors.Is(err, sql.ErrNoRows) {
		return Court{}, ErrNotFound
	}
	if err != nil {
		return Court{}, err
	}
	return court, nil
}

func (s *PostgresStore) PutCourt(ctx context.Context, court Court) error {
	if strings.TrimSpace(court.RemoteID) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (remote_id, name, court_type, jurisdiction, date_modified)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (remote_id)
		DO UPDATE SET name = EXCLUDED.name, court_type = EXCLUDED.court_type,
			jurisdiction = EXCLUDED.jurisdiction, date_modified = EXCLUDED.date_modified`,
		quoteIdentifier(postgresCourtsTable))
	_, err := s.db.ExecContext(opCtx, query, court.RemoteID, court.Name, court.Type, court.Jurisdiction, court.DateModified)
	return err
}

func (s *PostgresStore) FindCourtByName(ctx context.Context, name string) (Court, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Court{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Court{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"SELECT remote_id, name, court_type, jurisdiction, date_modified FROM %s WHERE LOWER(name) = LOWER($1) LIMIT 1",
		quoteIdentifier(postgresCourtsTable))
	var court Court
	err := s.db.QueryRowContext(opCtx, query, name).Scan(
		&court.RemoteID, &court.Name, &court.Type, &court.Jurisdiction, &court.DateModified)
	if errors.Is(err, sql.ErrNoRows) {
		return Court{}, ErrNotFound
	}
	if err != nil {
		return Court{}, err
	}
	return court, nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, remoteID string) (Decision, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return Decision{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Decision{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		SELECT remote_id, case_name, disposition, precedential, date_filed, date_modified, plain_text
		FROM %s WHERE remote_id = $1`, quoteIdentifier(postgresDecisionsTable))
	var decision Decision
	var dateFiled sql.NullTime
	err := s.db.QueryRowContext(opCtx, query, remoteID).Scan(
		&decision.RemoteID, &decision.CaseName, &decision.Disposition, &decision.Precedential,
		&dateFiled, &decision.DateModified, &decision.PlainText)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, ErrNotFound
	}
	if err != nil {
		return Decision{}, err
	}
	if dateFiled.Valid {
		filed := dateFiled.Time
		decision.DateFiled = &filed
	}
	return decision, nil
}

func (s *PostgresStore) PutDecision(ctx context.Context, decision Decision) error {
	if strings.TrimSpace(decision.RemoteID) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	var dateFiled any
	if decision.DateFiled != nil {
		dateFiled = *decision.DateFiled
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (remote_id, case_name, disposition, precedential, date_filed, date_modified, plain_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (remote_id)
		DO UPDATE SET case_name = EXCLUDED.case_name, disposition = EXCLUDED.disposition,
			precedential = EXCLUDED.precedential, date_filed = EXCLUDED.date_filed,
			date_modified = EXCLUDED.date_modified, plain_text = EXCLUDED.plain_text`,
		quoteIdentifier(postgresDecisionsTable))
	_, err := s.db.ExecContext(opCtx, query,
		decision.RemoteID, decision.CaseName, decision.Disposition, decision.Precedential,
		dateFiled, decision.DateModified, decision.PlainText)
	return err
}

func (s *PostgresStore) HasAssignment(ctx context.Context, judgeRemoteID, courtRemoteID string) (bool, error) {
	if strings.TrimSpace(judgeRemoteID) == "" || strings.TrimSpace(courtRemoteID) == "" {
		return false, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE judge_remote_id = $1 AND court_remote_id = $2",
		quoteIdentifier(postgresAssignmentsTable))
	var count int
	if err := s.db.QueryRowContext(opCtx, query, judgeRemoteID, courtRemoteID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *PostgresStore) CreateAssignment(ctx context.Context, assignment CourtAssignment) error {
	if strings.TrimSpace(assignment.JudgeRemoteID) == "" || strings.TrimSpace(assignment.CourtRemoteID) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	createdAt := assignment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (judge_remote_id, court_remote_id, created_at) VALUES ($1, $2, $3)",
		quoteIdentifier(postgresAssignmentsTable))
	_, err := s.db.ExecContext(opCtx, query, assignment.JudgeRemoteID, assignment.CourtRemoteID, createdAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) InsertJob(ctx context.Context, job SyncJob) error {
	if strings.TrimSpace(job.ID) == "" || strings.TrimSpace(job.Type) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	if job.State == "" {
		job.State = JobStatePending
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (id, job_type, priority, options, state, enqueued_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, '')`, quoteIdentifier(postgresJobsTable))
	_, err = s.db.ExecContext(opCtx, query, job.ID, job.Type, job.Priority, options, job.State, job.EnqueuedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (SyncJob, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SyncJob{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return SyncJob{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		SELECT id, job_type, priority, options, state, enqueued_at, started_at, finished_at, error_message
		FROM %s WHERE id = $1`, quoteIdentifier(postgresJobsTable))
	return scanJob(s.db.QueryRowContext(opCtx, query, id))
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context) (SyncJob, error) {
	if err := s.ensureReady(); err != nil {
		return SyncJob{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(opCtx, nil)
	if err != nil {
		return SyncJob{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	query := fmt.Sprintf(`
		SELECT id, job_type, priority, options, state, enqueued_at, started_at, finished_at, error_message
		FROM %s
		WHERE state = $1
		ORDER BY priority DESC, enqueued_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, quoteIdentifier(postgresJobsTable))
	job, err := scanJob(tx.QueryRowContext(opCtx, query, JobStatePending))
	if err != nil {
		return SyncJob{}, err
	}
	started := time.Now().UTC()
	update := fmt.Sprintf(
		"UPDATE %s SET state = $1, started_at = $2 WHERE id = $3",
		quoteIdentifier(postgresJobsTable))
	if _, err := tx.ExecContext(opCtx, update, JobStateRunning, started, job.ID); err != nil {
		return SyncJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return SyncJob{}, err
	}
	committed = true
	job.State = JobStateRunning
	job.StartedAt = &started
	return job, nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, id, state, errMsg string, finishedAt time.Time) error {
	switch state {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
	default:
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"UPDATE %s SET state = $1, error_message = $2, finished_at = $3 WHERE id = $4",
		quoteIdentifier(postgresJobsTable))
	result, err := s.db.ExecContext(opCtx, query, state, errMsg, finishedAt, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) CancelPendingJobs(ctx context.Context, jobType string) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	now := time.Now().UTC()
	var (
		result sql.Result
		err    error
	)
	if jobType == "" {
		query := fmt.Sprintf(
			"UPDATE %s SET state = $1, finished_at = $2 WHERE state = $3",
			quoteIdentifier(postgresJobsTable))
		result, err = s.db.ExecContext(opCtx, query, JobStateCancelled, now, JobStatePending)
	} else {
		query := fmt.Sprintf(
			"UPDATE %s SET state = $1, finished_at = $2 WHERE state = $3 AND job_type = $4",
			quoteIdentifier(postgresJobsTable))
		result, err = s.db.ExecContext(opCtx, query, JobStateCancelled, now, JobStatePending, jobType)
	}
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (s *PostgresStore) CancelJob(ctx context.Context, id string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"UPDATE %s SET state = $1, finished_at = $2 WHERE id = $3 AND state IN ($4, $5)",
		quoteIdentifier(postgresJobsTable))
	result, err := s.db.ExecContext(opCtx, query, JobStateCancelled, time.Now().UTC(), id, JobStatePending, JobStateRunning)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either unknown or already terminal; distinguish for callers.
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (s *PostgresStore) JobStats(ctx context.Context) (QueueStats, error) {
	if err := s.ensureReady(); err != nil {
		return QueueStats{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	stats := QueueStats{ByType: map[string]int{}}
	query := fmt.Sprintf("SELECT job_type, state, COUNT(*) FROM %s GROUP BY job_type, state", quoteIdentifier(postgresJobsTable))
	rows, err := s.db.QueryContext(opCtx, query)
	if err != nil {
		return QueueStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var jobType, state string
		var count int
		if err := rows.Scan(&jobType, &state, &count); err != nil {
			return QueueStats{}, err
		}
		stats.ByType[jobType] += count
		switch state {
		case JobStatePending:
			stats.Pending += count
		case JobStateRunning:
			stats.Running += count
		case JobStateSucceeded:
			stats.Succeeded += count
		case JobStateFailed:
			stats.Failed += count
		case JobStateCancelled:
			stats.Cancelled += count
		}
	}
	if err := rows.Err(); err != nil {
		return QueueStats{}, err
	}
	lastErrQuery := fmt.Sprintf(`
		SELECT error_message FROM %s
		WHERE state = $1 AND error_message <> ''
		ORDER BY finished_at DESC NULLS LAST LIMIT 1`, quoteIdentifier(postgresJobsTable))
	var lastError string
	err = s.db.QueryRowContext(opCtx, lastErrQuery, JobStateFailed).Scan(&lastError)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return QueueStats{}, err
	}
	stats.LastError = lastError
	return stats, nil
}

func (s *PostgresStore) PurgeTerminalJobs(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE state IN ($1, $2, $3) AND finished_at < $4",
		quoteIdentifier(postgresJobsTable))
	result, err := s.db.ExecContext(opCtx, query, JobStateSucceeded, JobStateFailed, JobStateCancelled, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (s *PostgresStore) RecordWebhook(ctx context.Context, record ProcessedWebhook) (bool, error) {
	if strings.TrimSpace(record.WebhookID) == "" {
		return false, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (webhook_id, event_type, processed_at, outcome)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (webhook_id) DO NOTHING`, quoteIdentifier(postgresWebhooksTable))
	result, err := s.db.ExecContext(opCtx, query, record.WebhookID, record.Event, record.ProcessedAt, record.Outcome)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, webhookID string) error {
	if strings.TrimSpace(webhookID) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("DELETE FROM %s WHERE webhook_id = $1", quoteIdentifier(postgresWebhooksTable))
	_, err := s.db.ExecContext(opCtx, query, webhookID)
	return err
}

func (s *PostgresStore) PurgeProcessedWebhooks(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("DELETE FROM %s WHERE processed_at < $1", quoteIdentifier(postgresWebhooksTable))
	result, err := s.db.ExecContext(opCtx, query, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func scanJob(row *sql.Row) (SyncJob, error) {
	var job SyncJob
	var options []byte
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&job.ID, &job.Type, &job.Priority, &options, &job.State,
		&job.EnqueuedAt, &startedAt, &finishedAt, &job.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncJob{}, ErrNotFound
	}
	if err != nil {
		return SyncJob{}, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return SyncJob{}, err
		}
	}
	if startedAt.Valid {
		started := startedAt.Time
		job.StartedAt = &started
	}
	if finishedAt.Valid {
		finished := finishedAt.Time
		job.FinishedAt = &finished
	}
	return job, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
