package pipeline

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kaifeng/apkmorph/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    source_name TEXT NOT NULL DEFAULT '',
    source_size INTEGER NOT NULL DEFAULT 0,
    state       TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    package_id  TEXT NOT NULL DEFAULT '',
    work_dir    TEXT NOT NULL DEFAULT '',
    icon_path   TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mode_results (
    job_id      TEXT NOT NULL,
    mode        TEXT NOT NULL,
    status      TEXT NOT NULL,
    output_path TEXT NOT NULL DEFAULT '',
    size_bytes  INTEGER NOT NULL DEFAULT 0,
    sha256      TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    finished_at TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (job_id, mode)
);
`

// Store persists jobs and their per-mode results so the jobs listing and
// the reaper survive process restarts.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewStore opens (creating if needed) the registry database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveJob upserts the job and all its mode results in one transaction.
func (s *Store) SaveJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO jobs
		(id, source_name, source_size, state, error, package_id, work_dir, icon_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SourceName, job.SourceSize, string(job.State), job.Error,
		job.PackageID, job.WorkDir, job.IconPath,
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM mode_results WHERE job_id = ?", job.ID); err != nil {
		return err
	}
	for _, result := range job.Results {
		finished := ""
		if !result.FinishedAt.IsZero() {
			finished = result.FinishedAt.Format(time.RFC3339)
		}
		_, err := tx.Exec(`
			INSERT INTO mode_results
			(job_id, mode, status, output_path, size_bytes, sha256, error, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, string(result.Mode), string(result.Status), result.OutputPath,
			result.SizeBytes, result.SHA256, result.Error, finished)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetJob loads one job with its mode results.
func (s *Store) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, source_name, source_size, state, error, package_id, work_dir, icon_path, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadResults(job); err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns every known job, newest first.
func (s *Store) ListJobs() ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, source_name, source_size, state, error, package_id, work_dir, icon_path, created_at, updated_at
		FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		if err := s.loadResults(job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// TerminalBefore returns terminal jobs last updated before the cutoff
// that still have a working area on record. These are the reaper's
// candidates.
func (s *Store) TerminalBefore(cutoff time.Time) ([]*models.Job, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	var out []*models.Job
	for _, job := range jobs {
		if job.State.Terminal() && job.WorkDir != "" && job.UpdatedAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	return out, nil
}

// MarkCleaned clears the job's working-area reference after cleanup.
func (s *Store) MarkCleaned(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"UPDATE jobs SET work_dir = '', updated_at = ? WHERE id = ?",
		time.Now().Format(time.RFC3339), id)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var state, createdAt, updatedAt string
	err := row.Scan(&job.ID, &job.SourceName, &job.SourceSize, &state, &job.Error,
		&job.PackageID, &job.WorkDir, &job.IconPath, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.State = models.JobState(state)
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	job.Results = make(map[models.Mode]*models.ModeResult)
	return &job, nil
}

func (s *Store) loadResults(job *models.Job) error {
	rows, err := s.db.Query(`
		SELECT mode, status, output_path, size_bytes, sha256, error, finished_at
		FROM mode_results WHERE job_id = ?`, job.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var result models.ModeResult
		var mode, status, finished string
		if err := rows.Scan(&mode, &status, &result.OutputPath,
			&result.SizeBytes, &result.SHA256, &result.Error, &finished); err != nil {
			return err
		}
		result.Mode = models.Mode(mode)
		result.Status = models.ModeStatus(status)
		if finished != "" {
			result.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		job.Results[result.Mode] = &result
		job.RequestedModes = append(job.RequestedModes, result.Mode)
	}
	return nil
}
