package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-core/internal/config"
	memorypublisher "github.com/JakeFAU/outreach-core/internal/publisher/memory"
)

func memoryConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Crawler: config.CrawlerConfig{Concurrency: 2, QueueDepth: 4, UserAgent: "outreach-test"},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5},
		Storage: config.StorageConfig{
			JobBackend:      config.BackendMemory,
			CampaignBackend: config.BackendMemory,
			AccountBackend:  config.BackendConfig,
			Snapshots:       config.SnapshotsConfig{Backend: config.BackendMemory, Prefix: "pages"},
		},
		Queue: config.QueueConfig{Backend: config.BackendMemory},
		Accounts: []config.AccountConfig{
			{ID: "shared", DailyLimit: 10},
			{ID: "own", UserID: "u-1", DailyLimit: 5},
		},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, err := Build(ctx, memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, app.queues, 1)
	require.Nil(t, app.pgPool)
	require.Nil(t, app.redisJobs)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns",
		bytes.NewBufferString(`{"user_id":"u-1","recipients":["a@x.example","b@x.example"]}`))
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"account_id":"own"`)
	require.Contains(t, rec.Body.String(), `"account_id":"shared"`)

	require.NoError(t, app.Close(ctx))
	require.Empty(t, app.queues)
}

func TestConfiguredAccounts(t *testing.T) {
	t.Parallel()

	src := ConfiguredAccounts(memoryConfig().Accounts)
	ctx := context.Background()

	own, err := src.Accounts(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, own, 2)
	require.Equal(t, "own", own[0].ID)
	require.Equal(t, 5, own[0].DailyLimit)

	other, err := src.Accounts(ctx, "u-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	require.Equal(t, "shared", other[0].ID)
}

func TestSetupPublisherBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app := &App{cfg: memoryConfig(), logger: zap.NewNop()}
	pub, err := app.setupPublisher(ctx)
	require.NoError(t, err)
	require.Nil(t, pub)

	app.cfg.PubSub.TopicName = "crawl-jobs"
	pub, err = app.setupPublisher(ctx)
	require.NoError(t, err)
	require.IsType(t, &memorypublisher.Publisher{}, pub)
	require.Nil(t, app.pubsubClient)
}
