package docket

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreJudgeRoundTripIsolatesPositions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	judge := Judge{
		RemoteID: "J1",
		Name:     "Hon. Ada Example",
		Status:   JudgeStatusActive,
		Positions: []Position{
			{CourtRemoteID: "C1", CourtName: "Ninth Circuit"},
		},
	}
	if err := store.PutJudge(ctx, judge); err != nil {
		t.Fatalf("put judge: %v", err)
	}
	got, err := store.GetJudge(ctx, "J1")
	if err != nil {
		t.Fatalf("get judge: %v", err)
	}
	got.Positions[0].CourtRemoteID = "mutated"

	again, err := store.GetJudge(ctx, "J1")
	if err != nil {
		t.Fatalf("get judge again: %v", err)
	}
	if again.Positions[0].CourtRemoteID != "C1" {
		t.Fatalf("stored positions were mutated through a returned copy")
	}
}

func TestMemoryStoreGetJudgeMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetJudge(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetJudge(context.Background(), "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank ID, got %v", err)
	}
}

func TestMemoryStoreFindCourtByNameIsCaseInsensitive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.PutCourt(ctx, Court{RemoteID: "C2", Name: "Supreme Court of Ohio"}); err != nil {
		t.Fatalf("put court: %v", err)
	}
	court, err := store.FindCourtByName(ctx, "supreme court of ohio")
	if err != nil {
		t.Fatalf("find court: %v", err)
	}
	if court.RemoteID != "C2" {
		t.Fatalf("resolved %q, want C2", court.RemoteID)
	}
	if _, err := store.FindCourtByName(ctx, "No Such Court"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCreateAssignmentRejectsDuplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	assignment := CourtAssignment{JudgeRemoteID: "J1", CourtRemoteID: "C1"}
	if err := store.CreateAssignment(ctx, assignment); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := store.CreateAssignment(ctx, assignment); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	has, err := store.HasAssignment(ctx, "J1", "C1")
	if err != nil || !has {
		t.Fatalf("has = %v, err = %v", has, err)
	}
}

func TestMemoryStoreClaimOrdersByPriorityThenEnqueueOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	jobs := []SyncJob{
		{ID: "low-first", Type: JobTypeJudge, Priority: 0},
		{ID: "high", Type: JobTypeCourt, Priority: 10},
		{ID: "low-second", Type: JobTypeJudge, Priority: 0},
	}
	for _, job := range jobs {
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert %s: %v", job.ID, err)
		}
	}

	wantOrder := []string{"high", "low-first", "low-second"}
	for _, want := range wantOrder {
		job, err := store.ClaimNextJob(ctx)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if job.ID != want {
			t.Fatalf("claimed %s, want %s", job.ID, want)
		}
		if job.State != JobStateRunning || job.StartedAt == nil {
			t.Fatalf("claimed job not marked running: %+v", job)
		}
	}
	if _, err := store.ClaimNextJob(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected empty backlog, got %v", err)
	}
}

func TestMemoryStoreFinishJobValidatesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.InsertJob(ctx, SyncJob{ID: "j", Type: JobTypeJudge}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.FinishJob(ctx, "j", "running", "", time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for non-terminal state, got %v", err)
	}
	if err := store.FinishJob(ctx, "j", JobStateFailed, "boom", time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	job, err := store.GetJob(ctx, "j")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != JobStateFailed || job.Error != "boom" || job.FinishedAt == nil {
		t.Fatalf("unexpected job after finish: %+v", job)
	}
}

func TestMemoryStoreCancelPendingJobsByType(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, job := range []SyncJob{
		{ID: "a", Type: JobTypeJudge},
		{ID: "b", Type: JobTypeJudge},
		{ID: "c", Type: JobTypeCourt},
	} {
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert %s: %v", job.ID, err)
		}
	}
	cancelled, err := store.CancelPendingJobs(ctx, JobTypeJudge)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled != 2 {
		t.Fatalf("cancelled %d, want 2", cancelled)
	}
	remaining, err := store.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("claim survivor: %v", err)
	}
	if remaining.ID != "c" {
		t.Fatalf("survivor = %s, want c", remaining.ID)
	}
}

func TestMemoryStoreJobStatsAndLastError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, job := range []SyncJob{
		{ID: "a", Type: JobTypeJudge},
		{ID: "b", Type: JobTypeCourt},
	} {
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("insert %s: %v", job.ID, err)
		}
	}
	if err := store.FinishJob(ctx, "b", JobStateFailed, "upstream 502", time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	stats, err := store.JobStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.LastError != "upstream 502" {
		t.Fatalf("last error = %q", stats.LastError)
	}
	if stats.ByType[JobTypeJudge] != 1 || stats.ByType[JobTypeCourt] != 1 {
		t.Fatalf("unexpected by-type counts: %+v", stats.ByType)
	}
}

func TestMemoryStorePurgeTerminalJobsHonorsCutoff(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"old", "fresh", "pending"} {
		if err := store.InsertJob(ctx, SyncJob{ID: id, Type: JobTypeJudge}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	now := time.Now()
	if err := store.FinishJob(ctx, "old", JobStateSucceeded, "", now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("finish old: %v", err)
	}
	if err := store.FinishJob(ctx, "fresh", JobStateSucceeded, "", now); err != nil {
		t.Fatalf("finish fresh: %v", err)
	}

	purged, err := store.PurgeTerminalJobs(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d, want 1", purged)
	}
	if _, err := store.GetJob(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old job should be gone, got %v", err)
	}
	if _, err := store.GetJob(ctx, "fresh"); err != nil {
		t.Fatalf("fresh job should survive: %v", err)
	}
	if _, err := store.GetJob(ctx, "pending"); err != nil {
		t.Fatalf("pending job should survive: %v", err)
	}
}

func TestMemoryStoreRecordWebhookDeduplicates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	record := ProcessedWebhook{WebhookID: "wh_1", Event: "judge.updated"}
	created, err := store.RecordWebhook(ctx, record)
	if err != nil || !created {
		t.Fatalf("first record: created=%v err=%v", created, err)
	}
	created, err = store.RecordWebhook(ctx, record)
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if created {
		t.Fatalf("duplicate webhook ID should not create a new record")
	}
}

func TestMemoryStoreDeleteWebhookAllowsReRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.RecordWebhook(ctx, ProcessedWebhook{WebhookID: "wh_1", Event: "judge.updated"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.DeleteWebhook(ctx, "wh_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	created, err := store.RecordWebhook(ctx, ProcessedWebhook{WebhookID: "wh_1", Event: "judge.updated"})
	if err != nil || !created {
		t.Fatalf("deleted ID should be recordable again: created=%v err=%v", created, err)
	}
	if err := store.DeleteWebhook(ctx, "wh_missing"); err != nil {
		t.Fatalf("deleting a missing ID should be a no-op: %v", err)
	}
	if err := store.DeleteWebhook(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank ID: %v", err)
	}
}

func TestMemoryStorePurgeProcessedWebhooks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	if _, err := store.RecordWebhook(ctx, ProcessedWebhook{WebhookID: "old", ProcessedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("record old: %v", err)
	}
	if _, err := store.RecordWebhook(ctx, ProcessedWebhook{WebhookID: "fresh", ProcessedAt: now}); err != nil {
		t.Fatalf("record fresh: %v", err)
	}
	purged, err := store.PurgeProcessedWebhooks(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d, want 1", purged)
	}
	created, err := store.RecordWebhook(ctx, ProcessedWebhook{WebhookID: "old", ProcessedAt: now})
	if err != nil || !created {
		t.Fatalf("purged ID should be recordable again: created=%v err=%v", created, err)
	}
}

func TestBuildStoreFromDSN(t *testing.T) {
	store, err := BuildStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory dsn: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected MemoryStore, got %T", store)
	}
	store, err = BuildStoreFromDSN("")
	if err != nil {
		t.Fatalf("empty dsn: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected MemoryStore for empty dsn, got %T", store)
	}
	if _, err := BuildStoreFromDSN("redis://localhost"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
