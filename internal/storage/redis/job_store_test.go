package redis

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-core/internal/crawler"
)

type fakeClient struct {
	values map[string]string
	ttls   map[string]time.Duration
	sets   map[string]map[string]float64
	err    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		sets:   make(map[string]map[string]float64),
	}
}

func (f *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	val, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(val, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, ttl time.Duration) *goredis.StatusCmd {
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) SetNX(_ context.Context, key string, value any, ttl time.Duration) *goredis.BoolCmd {
	if f.err != nil {
		return goredis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeClient) ZAdd(_ context.Context, key string, members ...goredis.Z) *goredis.IntCmd {
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]float64)
		f.sets[key] = set
	}
	for _, m := range members {
		set[m.Member.(string)] = m.Score
	}
	return goredis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeClient) ZRevRange(_ context.Context, key string, start, stop int64) *goredis.StringSliceCmd {
	if f.err != nil {
		return goredis.NewStringSliceResult(nil, f.err)
	}
	set := f.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return set[members[i]] > set[members[j]] })
	if start >= int64(len(members)) {
		return goredis.NewStringSliceResult([]string{}, nil)
	}
	end := int64(len(members))
	if stop >= 0 && stop+1 < end {
		end = stop + 1
	}
	return goredis.NewStringSliceResult(members[start:end], nil)
}

func (f *fakeClient) Close() error {
	return nil
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := newJobStore(fake, "", time.Hour)
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	job := crawler.Job{ID: "job-1", UserID: "u-1", SeedURLs: []string{"https://a.example"},
		Status: crawler.JobStatusPending, CreatedAt: created}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), crawler.ErrJobExists)
	require.Equal(t, time.Hour, fake.ttls["outreach:job:job-1"])

	started := created.Add(time.Second)
	require.NoError(t, store.MarkProcessing(ctx, "job-1", started))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusProcessing, got.Status)
	require.True(t, started.Equal(*got.StartedAt))

	done := started.Add(time.Minute)
	require.NoError(t, store.FinishJob(ctx, "job-1", crawler.JobStatusCompleted, []string{"info@a.example"}, "", done))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Equal(t, []string{"info@a.example"}, got.DiscoveredEmails)
	require.True(t, done.Equal(*got.CompletedAt))

	require.NoError(t, store.MarkProcessing(ctx, "job-1", done))
	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Nil(t, got.CompletedAt)
}

func TestJobStoreMissingJob(t *testing.T) {
	t.Parallel()

	store := newJobStore(newFakeClient(), "p:", 0)
	ctx := context.Background()
	_, err := store.GetJob(ctx, "nope")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.ErrorIs(t, store.MarkProcessing(ctx, "nope", time.Now()), crawler.ErrJobNotFound)
	require.Error(t, store.FinishJob(ctx, "nope", crawler.JobStatusPending, nil, "", time.Now()))
	require.Error(t, store.CreateJob(ctx, crawler.Job{}))
}

func TestJobStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	store := newJobStore(fake, "", 0)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: id, UserID: "u-1", CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "job-x", UserID: "u-2", CreatedAt: base}))

	jobs, err := store.ListJobs(ctx, "u-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	require.Equal(t, "job-c", jobs[0].ID)

	jobs, err = store.ListJobs(ctx, "u-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-b", jobs[0].ID)

	delete(fake.values, "outreach:job:job-a")
	jobs, err = store.ListJobs(ctx, "u-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestJobStoreSurfacesClientErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	fake.err = errors.New("connection refused")
	store := newJobStore(fake, "", 0)
	ctx := context.Background()

	_, err := store.GetJob(ctx, "job-1")
	require.ErrorContains(t, err, "connection refused")
	require.ErrorContains(t, store.CreateJob(ctx, crawler.Job{ID: "job-1"}), "connection refused")
	_, err = store.ListJobs(ctx, "u-1", 0, 0)
	require.ErrorContains(t, err, "connection refused")
}

func TestNewJobStoreRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore(Config{})
	require.Error(t, err)

	store, err := NewJobStore(Config{Addr: "127.0.0.1:6379"})
	require.NoError(t, err)
	require.Equal(t, DefaultPrefix, store.prefix)
	require.NoError(t, store.Close())
}
