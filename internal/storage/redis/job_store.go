// Package redis provides a Redis-backed job store for deployments that keep
// crawl job status in a cache rather than a database.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/outreach-core/internal/crawler"
)

// DefaultPrefix namespaces job keys when Config.Prefix is empty.
const DefaultPrefix = "outreach:"

// Config controls the Redis job store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires job records; zero keeps them forever.
	TTL time.Duration
}

type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	ZAdd(ctx context.Context, key string, members ...goredis.Z) *goredis.IntCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *goredis.StringSliceCmd
	Close() error
}

// JobStore stores each job as a JSON document under prefix+"job:"+id and
// indexes a user's jobs in a sorted set scored by creation time. Updates are
// read-modify-write without locking.
type JobStore struct {
	client client
	prefix string
	ttl    time.Duration
}

// NewJobStore connects to Redis.
func NewJobStore(cfg Config) (*JobStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	c := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newJobStore(c, cfg.Prefix, cfg.TTL), nil
}

func newJobStore(c client, prefix string, ttl time.Duration) *JobStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &JobStore{client: c, prefix: prefix, ttl: ttl}
}

// Close closes the Redis client.
func (s *JobStore) Close() error {
	return s.client.Close()
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.jobKey(job.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	if !created {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	member := goredis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID}
	if err := s.client.ZAdd(ctx, s.userKey(job.UserID), member).Err(); err != nil {
		return fmt.Errorf("index job: %w", err)
	}
	return nil
}

// MarkProcessing moves a job to Processing and clears any earlier result.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error {
	return s.update(ctx, jobID, func(job *crawler.Job) {
		job.Status = crawler.JobStatusProcessing
		job.StartedAt = &startedAt
		job.CompletedAt = nil
		job.ErrorText = ""
	})
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
	return s.update(ctx, jobID, func(job *crawler.Job) {
		job.Status = status
		job.DiscoveredEmails = append([]string{}, emails...)
		job.ErrorText = errText
		job.CompletedAt = &at
	})
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	val, err := s.client.Get(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
		}
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	var job crawler.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// ListJobs returns a user's jobs, newest first. Jobs whose records expired
// are skipped.
func (s *JobStore) ListJobs(ctx context.Context, userID string, limit, offset int) ([]crawler.Job, error) {
	start := int64(max(offset, 0))
	stop := int64(-1)
	if limit > 0 {
		stop = start + int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]crawler.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, crawler.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *JobStore) update(ctx context.Context, jobID string, mutate func(*crawler.Job)) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	mutate(&job)
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, s.jobKey(jobID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

func (s *JobStore) jobKey(id string) string {
	return s.prefix + "job:" + id
}

func (s *JobStore) userKey(userID string) string {
	return s.prefix + "user:" + userID + ":jobs"
}
