package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-core/internal/crawler"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := crawler.Job{ID: "job-1", UserID: "u-1", SeedURLs: []string{"https://a.example"}, Status: crawler.JobStatusPending}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), crawler.ErrJobExists)

	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkProcessing(ctx, job.ID, started))
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusProcessing, got.Status)
	require.Equal(t, started, *got.StartedAt)

	finished := started.Add(time.Minute)
	require.NoError(t, store.FinishJob(ctx, job.ID, crawler.JobStatusCompleted,
		[]string{"info@a.example"}, "", finished))
	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Equal(t, []string{"info@a.example"}, got.DiscoveredEmails)
	require.Equal(t, finished, *got.CompletedAt)

	got.DiscoveredEmails[0] = "mutated"
	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "info@a.example", again.DiscoveredEmails[0])
}

func TestJobStoreRerunClearsTerminalState(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	at := time.Unix(100, 0).UTC()
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "job-1", Status: crawler.JobStatusPending}))
	require.NoError(t, store.MarkProcessing(ctx, "job-1", at))
	require.NoError(t, store.FinishJob(ctx, "job-1", crawler.JobStatusFailed, nil, "db down", at))

	require.NoError(t, store.MarkProcessing(ctx, "job-1", at.Add(time.Hour)))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusProcessing, got.Status)
	require.Nil(t, got.CompletedAt)
	require.Empty(t, got.ErrorText)
}

func TestJobStoreErrors(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	_, err := store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.ErrorIs(t, store.MarkProcessing(ctx, "missing", time.Now()), crawler.ErrJobNotFound)
	require.ErrorIs(t, store.FinishJob(ctx, "missing", crawler.JobStatusCompleted, nil, "", time.Now()), crawler.ErrJobNotFound)
	require.Error(t, store.FinishJob(ctx, "missing", crawler.JobStatusProcessing, nil, "", time.Now()))
}

func TestJobStoreListJobsNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Unix(1000, 0).UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: id, UserID: "u-1", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "other", UserID: "u-2", CreatedAt: base}))

	jobs, err := store.ListJobs(ctx, "u-1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, jobIDs(jobs))

	page, err := store.ListJobs(ctx, "u-1", 1, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, jobIDs(page))

	empty, err := store.ListJobs(ctx, "u-1", 10, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func jobIDs(jobs []crawler.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
