// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/outreach-core/internal/crawler"
)

// JobStore provides an in-memory crawler.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]crawler.Job),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// MarkProcessing moves a job to Processing. A re-run of a terminal job clears
// its previous result.
func (s *JobStore) MarkProcessing(_ context.Context, jobID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("mark processing %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Status = crawler.JobStatusProcessing
	job.StartedAt = pointerTime(startedAt)
	job.CompletedAt = nil
	job.ErrorText = ""
	s.jobs[jobID] = job
	return nil
}

// FinishJob records the terminal status and the full email list.
func (s *JobStore) FinishJob(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	emails []string,
	errText string,
	at time.Time,
) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job %s: status %q is not terminal", jobID, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("finish job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Status = status
	job.DiscoveredEmails = append([]string{}, emails...)
	job.ErrorText = errText
	job.CompletedAt = pointerTime(at)
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return cloneJob(job), nil
}

// ListJobs returns a user's jobs, newest first.
func (s *JobStore) ListJobs(_ context.Context, userID string, limit, offset int) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0)
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneJob(job crawler.Job) crawler.Job {
	job.SeedURLs = append([]string(nil), job.SeedURLs...)
	if job.DiscoveredEmails != nil {
		job.DiscoveredEmails = append([]string{}, job.DiscoveredEmails...)
	}
	return job
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
