// Package jobstore provides persistent storage for analysis job state and
// results using SQLite.
package jobstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus represents the current state of an analysis job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Pair is an ordered (from, to) phenotype pair as submitted by the client.
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AnalysisJobParams contains the parameters for a pairwise analysis job.
type AnalysisJobParams struct {
	DatasetID string                 `json:"dataset_id"`
	Pairs     []Pair                 `json:"pairs"`
	Rules     map[string]interface{} `json:"rules,omitempty"`
	Mutual    bool                   `json:"mutual,omitempty"`
	Radii     []float64              `json:"radii,omitempty"`
}

// AnalysisJobProgress represents the progress of an analysis job.
type AnalysisJobProgress struct {
	Phase string `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// AnalysisJob represents a pairwise analysis job.
type AnalysisJob struct {
	ID         string              `json:"job_id"`
	DatasetID  string              `json:"dataset_id"`
	Status     JobStatus           `json:"status"`
	Params     AnalysisJobParams   `json:"params"`
	Progress   AnalysisJobProgress `json:"progress"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// PairResultRow contains the stored result for a single phenotype pair.
// ResultJSON holds the full distance relation; the remaining columns are the
// summary used for listings.
type PairResultRow struct {
	PairIndex     int     `json:"pair_index"`
	FromPhenotype string  `json:"from"`
	ToPhenotype   string  `json:"to"`
	FromCount     int     `json:"from_count"`
	ToCount       int     `json:"to_count"`
	Matched       int     `json:"matched"`
	MeanDistance  float64 `json:"mean_distance"`
	MinDistance   float64 `json:"min_distance"`
	MaxDistance   float64 `json:"max_distance"`
	ResultJSON    string  `json:"-"`
}

// Store provides persistent storage for analysis jobs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based job store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_jobs (
		job_id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		phase TEXT DEFAULT '',
		done INTEGER DEFAULT 0,
		total INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_analysis_jobs_dataset ON analysis_jobs(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_analysis_jobs_finished ON analysis_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS pair_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		pair_index INTEGER NOT NULL,
		from_phenotype TEXT NOT NULL,
		to_phenotype TEXT NOT NULL,
		from_count INTEGER NOT NULL,
		to_count INTEGER NOT NULL,
		matched INTEGER NOT NULL,
		mean_distance REAL NOT NULL,
		min_distance REAL NOT NULL,
		max_distance REAL NOT NULL,
		result_json TEXT NOT NULL,
		FOREIGN KEY (job_id) REFERENCES analysis_jobs(job_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_pair_results_job ON pair_results(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob creates a new job record with status=queued.
func (s *Store) CreateJob(job *AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO analysis_jobs (job_id, dataset_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.Params.DatasetID,
		string(job.Status),
		string(paramsJSON),
		job.Progress.Phase,
		job.Progress.Done,
		job.Progress.Total,
		job.Error,
		job.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(jobID string) (*AnalysisJob, error) {
	row := s.db.QueryRow(`
		SELECT job_id, dataset_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at
		FROM analysis_jobs WHERE job_id = ?
	`, jobID)

	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobStatus updates the job status and optional error message.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE analysis_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE analysis_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), now, jobID)
	return err
}

// UpdateJobProgress updates the progress fields.
func (s *Store) UpdateJobProgress(jobID string, phase string, done, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE analysis_jobs SET phase = ?, done = ?, total = ?
		WHERE job_id = ?
	`, phase, done, total, jobID)
	return err
}

// InsertPairResults inserts pair results in a batch transaction.
func (s *Store) InsertPairResults(jobID string, results []*PairResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO pair_results (job_id, pair_index, from_phenotype, to_phenotype, from_count, to_count, matched, mean_distance, min_distance, max_distance, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.Exec(
			jobID, r.PairIndex, r.FromPhenotype, r.ToPhenotype,
			r.FromCount, r.ToCount, r.Matched,
			r.MeanDistance, r.MinDistance, r.MaxDistance,
			r.ResultJSON,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// QueryPairResults returns all pair results for a job in pair order.
func (s *Store) QueryPairResults(jobID string) ([]*PairResultRow, error) {
	rows, err := s.db.Query(`
		SELECT pair_index, from_phenotype, to_phenotype, from_count, to_count, matched, mean_distance, min_distance, max_distance, result_json
		FROM pair_results
		WHERE job_id = ?
		ORDER BY pair_index ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*PairResultRow
	for rows.Next() {
		var r PairResultRow
		err := rows.Scan(
			&r.PairIndex, &r.FromPhenotype, &r.ToPhenotype,
			&r.FromCount, &r.ToCount, &r.Matched,
			&r.MeanDistance, &r.MinDistance, &r.MaxDistance,
			&r.ResultJSON,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, &r)
	}

	return results, rows.Err()
}

// ListJobsByDataset returns all jobs for a dataset, newest first.
func (s *Store) ListJobsByDataset(datasetID string) ([]*AnalysisJob, error) {
	rows, err := s.db.Query(`
		SELECT job_id, dataset_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at
		FROM analysis_jobs WHERE dataset_id = ?
		ORDER BY created_at DESC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*AnalysisJob, error) {
	rows, err := s.db.Query(`
		SELECT job_id, dataset_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at
		FROM analysis_jobs WHERE status = ?
		ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE analysis_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now, string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	// Delete results first (foreign key)
	_, err := s.db.Exec(`
		DELETE FROM pair_results WHERE job_id IN (
			SELECT job_id FROM analysis_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM analysis_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// DeleteJob deletes a job and its results.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM pair_results WHERE job_id = ?", jobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("DELETE FROM analysis_jobs WHERE job_id = ?", jobID)
	return err
}

func scanJobs(rows *sql.Rows) ([]*AnalysisJob, error) {
	var jobs []*AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scan func(dest ...interface{}) error) (*AnalysisJob, error) {
	var job AnalysisJob
	var paramsJSON string
	var createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := scan(
		&job.ID,
		&job.DatasetID,
		&job.Status,
		&paramsJSON,
		&job.Progress.Phase,
		&job.Progress.Done,
		&job.Progress.Total,
		&job.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		job.FinishedAt = &t
	}

	return &job, nil
}
