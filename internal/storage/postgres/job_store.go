package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/outreach-core/internal/crawler"
)

// JobStore persists crawl jobs in Postgres.
//
// Expected schema:
//
//	CREATE TABLE crawl_jobs (
//		id                TEXT PRIMARY KEY,
//		user_id           TEXT NOT NULL,
//		seed_urls         TEXT[] NOT NULL,
//		status            TEXT NOT NULL,
//		discovered_emails TEXT[] NOT NULL DEFAULT '{}',
//		error_text        TEXT NOT NULL DEFAULT '',
//		created_at        TIMESTAMPTZ NOT NULL,
//		started_at        TIMESTAMPTZ,
//		completed_at      TIMESTAMPTZ
//	);
type JobStore struct {
	pool  Pool
	table string
}

// NewJobStore builds a JobStore over pool. An empty table defaults to crawl_jobs.
func NewJobStore(pool Pool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "crawl_jobs")
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: name}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	emails := job.DiscoveredEmails
	if emails == nil {
		emails = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, seed_urls, status, discovered_emails, error_text, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.table)
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.SeedURLs,
		string(job.Status),
		emails,
		job.ErrorText,
		job.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// MarkProcessing moves a job to Processing and clears any earlier result.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, started_at = $3, completed_at = NULL, error_text = ''
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(crawler.JobStatusProcessing), startedAt)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark processing %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// FinishJob records the terminal status and the full email list.
func (s *JobStore) FinishJob(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	emails []string,
	errText string,
	at time.Time,
) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job %s: status %q is not terminal", jobID, status)
	}
	if emails == nil {
		emails = []string{}
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, discovered_emails = $3, error_text = $4, completed_at = $5
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), emails, errText, at)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, user_id, seed_urls, status, discovered_emails, error_text, created_at, started_at, completed_at
FROM %s
WHERE id = $1`, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
		}
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns a user's jobs, newest first. A non-positive limit lists all.
func (s *JobStore) ListJobs(ctx context.Context, userID string, limit, offset int) ([]crawler.Job, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	query := fmt.Sprintf(`
SELECT id, user_id, seed_urls, status, discovered_emails, error_text, created_at, started_at, completed_at
FROM %s
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, s.table)
	rows, err := s.pool.Query(ctx, query, userID, limitArg, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]crawler.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job    crawler.Job
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.SeedURLs,
		&status,
		&job.DiscoveredEmails,
		&job.ErrorText,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	return job, nil
}
