package crawler

import (
	"context"
	"io"
	"time"
)

// JobStore persists crawl job records.
//
// The orchestrator calls MarkProcessing once before any network activity and
// FinishJob exactly once when the run ends.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error
	FinishJob(ctx context.Context, jobID string, status JobStatus, emails []string, errText string, at time.Time) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, userID string, limit, offset int) ([]Job, error)
}

// BlobStore keeps raw page snapshots and returns where each was written.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher announces finished jobs to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves one page. Failures are *FetchError; a failed page is
// skipped by the orchestrator, never retried.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a fetched page needs rendering before
// its addresses can be extracted.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// Queue carries crawl tasks from the API to workers. Delivery is
// at-least-once, so the same job may be dequeued more than once.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Limiter paces requests per host. A Wait error means the page is skipped.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for snapshot paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock stamps job transitions.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and campaign IDs.
type IDGenerator interface {
	NewID() (string, error)
}
