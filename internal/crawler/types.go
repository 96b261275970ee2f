// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further orchestrator writes are expected for the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job is the persisted record for one email discovery crawl.
type Job struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	SeedURLs         []string   `json:"seed_urls"`
	Status           JobStatus  `json:"status"`
	DiscoveredEmails []string   `json:"discovered_emails"`
	ErrorText        string     `json:"error_text,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// QueueItem is the task dispatch payload handed to workers.
type QueueItem struct {
	JobID     string   `json:"job_id"`
	UserID    string   `json:"user_id"`
	URLs      []string `json:"urls"`
	Attempt   int      `json:"attempt"`
	Submitted int64    `json:"submitted"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
