package pipeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kaifeng/apkmorph/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "registry", "jobs.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleJob(id string, state models.JobState, updated time.Time) *models.Job {
	return &models.Job{
		ID:             id,
		SourceName:     "app.apk",
		SourceSize:     1234,
		RequestedModes: []models.Mode{models.ModeDebug, models.ModeSandbox},
		State:          state,
		PackageID:      "com.example.app",
		WorkDir:        "/tmp/apkmorph/" + id,
		CreatedAt:      updated.Add(-time.Minute),
		UpdatedAt:      updated,
		Results: map[models.Mode]*models.ModeResult{
			models.ModeDebug: {
				Mode:       models.ModeDebug,
				Status:     models.ModeStatusSuccess,
				OutputPath: "/tmp/out/debug.apk",
				SizeBytes:  4096,
				SHA256:     "abc",
				FinishedAt: updated,
			},
			models.ModeSandbox: {
				Mode:   models.ModeSandbox,
				Status: models.ModeStatusFailed,
				Error:  "signing failed",
			},
		},
	}
}

func TestStoreSaveAndGet(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	job := sampleJob("job-1", models.JobStatePartial, now)

	if err := store.SaveJob(job); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.SourceName != "app.apk" || loaded.State != models.JobStatePartial {
		t.Fatalf("job fields wrong: %+v", loaded)
	}
	if loaded.PackageID != "com.example.app" || loaded.WorkDir != job.WorkDir {
		t.Fatalf("job fields wrong: %+v", loaded)
	}
	if !loaded.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %v, want %v", loaded.UpdatedAt, now)
	}

	if len(loaded.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(loaded.Results))
	}
	debug := loaded.Results[models.ModeDebug]
	if debug == nil || debug.Status != models.ModeStatusSuccess || debug.SHA256 != "abc" {
		t.Fatalf("debug result wrong: %+v", debug)
	}
	sandbox := loaded.Results[models.ModeSandbox]
	if sandbox == nil || sandbox.Status != models.ModeStatusFailed || sandbox.Error != "signing failed" {
		t.Fatalf("sandbox result wrong: %+v", sandbox)
	}
	if len(loaded.RequestedModes) != 2 {
		t.Fatalf("requested modes not rebuilt: %v", loaded.RequestedModes)
	}
}

func TestStoreSaveIsUpsert(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	job := sampleJob("job-1", models.JobStateProcessing, now)
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("first save: %v", err)
	}

	job.State = models.JobStateCompleted
	job.Results[models.ModeSandbox].Status = models.ModeStatusSuccess
	job.Results[models.ModeSandbox].Error = ""
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.State != models.JobStateCompleted {
		t.Fatalf("state not updated: %s", loaded.State)
	}
	if loaded.Results[models.ModeSandbox].Status != models.ModeStatusSuccess {
		t.Fatalf("result not updated: %+v", loaded.Results[models.ModeSandbox])
	}
	if len(loaded.Results) != 2 {
		t.Fatalf("results duplicated on upsert: %d", len(loaded.Results))
	}
}

func TestStoreGetUnknownJob(t *testing.T) {
	store := testStore(t)
	if _, err := store.GetJob("missing"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := testStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	older := sampleJob("older", models.JobStateCompleted, base.Add(-2*time.Hour))
	newer := sampleJob("newer", models.JobStateCompleted, base)
	if err := store.SaveJob(older); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := store.SaveJob(newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "newer" || jobs[1].ID != "older" {
		t.Fatalf("order wrong: %s, %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestTerminalBeforeFiltersCandidates(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	cutoff := now.Add(-time.Hour)

	stale := sampleJob("stale", models.JobStateCompleted, now.Add(-2*time.Hour))
	fresh := sampleJob("fresh", models.JobStateCompleted, now)
	running := sampleJob("running", models.JobStateProcessing, now.Add(-2*time.Hour))
	cleaned := sampleJob("cleaned", models.JobStateFailed, now.Add(-2*time.Hour))
	cleaned.WorkDir = ""

	for _, job := range []*models.Job{stale, fresh, running, cleaned} {
		if err := store.SaveJob(job); err != nil {
			t.Fatalf("save %s: %v", job.ID, err)
		}
	}

	candidates, err := store.TerminalBefore(cutoff)
	if err != nil {
		t.Fatalf("terminal before: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "stale" {
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
		}
		t.Fatalf("candidates = %v, want [stale]", ids)
	}
}

func TestMarkCleanedClearsWorkDir(t *testing.T) {
	store := testStore(t)
	job := sampleJob("job-1", models.JobStateCompleted, time.Now().UTC())
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.MarkCleaned("job-1"); err != nil {
		t.Fatalf("mark cleaned: %v", err)
	}
	loaded, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.WorkDir != "" {
		t.Fatalf("work dir not cleared: %q", loaded.WorkDir)
	}
}
