// Package server builds the service's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-core/internal/allocation"
	"github.com/JakeFAU/outreach-core/internal/api"
	"github.com/JakeFAU/outreach-core/internal/campaign"
	"github.com/JakeFAU/outreach-core/internal/clock/system"
	"github.com/JakeFAU/outreach-core/internal/config"
	"github.com/JakeFAU/outreach-core/internal/crawler"
	"github.com/JakeFAU/outreach-core/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/outreach-core/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/outreach-core/internal/fetcher/headless"
	"github.com/JakeFAU/outreach-core/internal/hash/sha256"
	"github.com/JakeFAU/outreach-core/internal/headless/detector"
	"github.com/JakeFAU/outreach-core/internal/id/uuid"
	"github.com/JakeFAU/outreach-core/internal/logging"
	"github.com/JakeFAU/outreach-core/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/outreach-core/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/outreach-core/internal/publisher/pubsub"
	kafkaqueue "github.com/JakeFAU/outreach-core/internal/queue/kafka"
	queueMemory "github.com/JakeFAU/outreach-core/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/outreach-core/internal/storage/gcs"
	localstorage "github.com/JakeFAU/outreach-core/internal/storage/local"
	memoryStorage "github.com/JakeFAU/outreach-core/internal/storage/memory"
	pgstore "github.com/JakeFAU/outreach-core/internal/storage/postgres"
	redisstore "github.com/JakeFAU/outreach-core/internal/storage/redis"
	"github.com/JakeFAU/outreach-core/internal/telemetry"
	"github.com/JakeFAU/outreach-core/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type closableQueue interface {
	crawler.Queue
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher

	queues          []closableQueue
	pgPool          *pgxpool.Pool
	redisJobs       *redisstore.JobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	headless        *headlessfetcher.Fetcher
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies from cfg. On error, anything
// already opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(ctx)
			if app.tracerShutdown != nil {
				_ = app.tracerShutdown(ctx)
			}
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, logging.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.logger.Info("building application dependencies",
		zap.String("job_backend", cfg.Storage.JobBackend),
		zap.String("campaign_backend", cfg.Storage.CampaignBackend),
		zap.String("account_backend", cfg.Storage.AccountBackend),
		zap.String("queue_backend", cfg.Queue.Backend),
	)

	if err = app.setupPostgres(ctx); err != nil {
		return nil, err
	}
	jobStore, err := app.setupJobStore()
	if err != nil {
		return nil, err
	}
	campaignStore, err := app.setupCampaignStore()
	if err != nil {
		return nil, err
	}
	accounts, err := app.setupAccounts()
	if err != nil {
		return nil, err
	}
	blobStore, err := app.setupSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupQueues(); err != nil {
		return nil, err
	}
	app.dispatch, err = app.setupDispatcher(jobStore, blobStore, publisher)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	campaigns := campaign.NewService(
		campaignStore,
		accounts,
		jobStore,
		uuid.New(),
		clock,
		logger.Named("campaign"),
	)
	app.apiServer = api.NewServer(
		jobStore,
		app.dispatch,
		campaigns,
		accounts,
		uuid.New(),
		clock,
		cfg,
		logger.Named("api"),
	)
	return app, nil
}

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and runs the worker pool until ctx is canceled or the
// process receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Concurrency))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown timeout")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases every client the App opened.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	for _, q := range a.queues {
		if err := q.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	a.queues = nil
	if a.headless != nil {
		a.headless.Close()
		a.headless = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.redisJobs != nil {
		if err := a.redisJobs.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redisJobs = nil
	}
	if a.pgPool != nil {
		a.pgPool.Close()
		a.pgPool = nil
	}
}

func (a *App) usesPostgres() bool {
	s := a.cfg.Storage
	return s.JobBackend == config.BackendPostgres ||
		s.CampaignBackend == config.BackendPostgres ||
		s.AccountBackend == config.BackendPostgres
}

func (a *App) setupPostgres(ctx context.Context) error {
	if !a.usesPostgres() {
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pgPool = pool
	a.logger.Info("postgres pool initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupJobStore() (crawler.JobStore, error) {
	switch a.cfg.Storage.JobBackend {
	case config.BackendPostgres:
		store, err := pgstore.NewJobStore(a.pgPool, a.cfg.DB.JobsTable)
		if err != nil {
			return nil, fmt.Errorf("postgres job store init failed: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		store, err := redisstore.NewJobStore(redisstore.Config{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Prefix:   a.cfg.Redis.Prefix,
			TTL:      a.cfg.RedisTTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("redis job store init failed: %w", err)
		}
		a.redisJobs = store
		a.logger.Info("redis job store initialized", zap.String("addr", a.cfg.Redis.Addr))
		return store, nil
	default:
		return memoryStorage.NewJobStore(), nil
	}
}

func (a *App) setupCampaignStore() (campaign.Store, error) {
	if a.cfg.Storage.CampaignBackend != config.BackendPostgres {
		return memoryStorage.NewCampaignStore(), nil
	}
	store, err := pgstore.NewCampaignStore(a.pgPool, a.cfg.DB.CampaignsTable)
	if err != nil {
		return nil, fmt.Errorf("postgres campaign store init failed: %w", err)
	}
	return store, nil
}

func (a *App) setupAccounts() (campaign.AccountSource, error) {
	if a.cfg.Storage.AccountBackend == config.BackendPostgres {
		src, err := pgstore.NewAccountSource(a.pgPool, a.cfg.DB.AccountsTable)
		if err != nil {
			return nil, fmt.Errorf("postgres account source init failed: %w", err)
		}
		return src, nil
	}
	src := ConfiguredAccounts(a.cfg.Accounts)
	if len(a.cfg.Accounts) == 0 {
		a.logger.Warn("no sending accounts configured")
	}
	return src, nil
}

// ConfiguredAccounts serves the accounts listed in configuration.
func ConfiguredAccounts(accounts []config.AccountConfig) *memoryStorage.AccountSource {
	src := memoryStorage.NewAccountSource()
	for _, acct := range accounts {
		src.Add(acct.UserID, allocation.Account{
			ID:         acct.ID,
			DailyLimit: acct.DailyLimit,
			SentToday:  acct.SentToday,
		})
	}
	return src
}

func (a *App) setupSnapshots(ctx context.Context) (crawler.BlobStore, error) {
	snap := a.cfg.Storage.Snapshots
	switch snap.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: snap.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot backend", zap.String("bucket", snap.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: snap.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot backend", zap.String("path", snap.Dir))
		return store, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory snapshot backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("page snapshots disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no completion topic configured, completion events disabled")
		return nil, nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, completion events kept in memory",
			zap.String("topic", a.cfg.PubSub.TopicName))
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

// setupQueues opens one queue per worker for Kafka, whose consumers commit
// per worker, and a single shared queue otherwise.
func (a *App) setupQueues() error {
	if a.cfg.Queue.Backend != config.BackendKafka {
		a.queues = []closableQueue{queueMemory.NewQueue(a.cfg.Crawler.QueueDepth)}
		return nil
	}
	for i := 0; i < a.cfg.Crawler.Concurrency; i++ {
		q, err := kafkaqueue.New(kafkaqueue.Config{
			Brokers: a.cfg.Queue.Brokers,
			Topic:   a.cfg.Queue.Topic,
			GroupID: a.cfg.Queue.GroupID,
		})
		if err != nil {
			return fmt.Errorf("kafka queue init failed: %w", err)
		}
		a.queues = append(a.queues, q)
	}
	a.logger.Info("kafka queues initialized",
		zap.Strings("brokers", a.cfg.Queue.Brokers),
		zap.String("topic", a.cfg.Queue.Topic),
		zap.String("group_id", a.cfg.Queue.GroupID),
	)
	return nil
}

func (a *App) queueFor(i int) crawler.Queue {
	return a.queues[i%len(a.queues)]
}

func (a *App) setupDispatcher(
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
) (*dispatcher.Dispatcher, error) {
	cfg := a.cfg
	clock := system.New()
	staticFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodySize:   cfg.Crawler.MaxBodyBytes,
	})
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Crawler.UserAgent),
		zap.Bool("respect_robots", cfg.Crawler.RespectRobots),
	)

	var headless crawler.Fetcher
	var detect crawler.HeadlessDetector
	if cfg.Headless.Enabled {
		fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleMillis) * time.Millisecond,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, continuing without promotion", zap.Error(err))
		} else {
			a.headless = fetcher
			headless = fetcher
			detect = detector.NewHeuristic(cfg.Headless.PromotionThresh)
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.PolitenessRPS,
		DefaultBurst: cfg.Crawler.PolitenessBurst,
	})
	workerCfg := worker.Config{
		ContentType: cfg.Storage.Snapshots.ContentType,
		BlobPrefix:  cfg.Storage.Snapshots.Prefix,
		Topic:       cfg.PubSub.TopicName,
	}
	hasher := sha256.New()

	runners := make([]dispatcher.Runner, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		runners = append(runners, worker.New(
			a.queueFor(i),
			jobStore,
			blobStore,
			publisher,
			hasher,
			clock,
			staticFetcher,
			headless,
			detect,
			limiter,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(a.queueFor(0), clock, runners), nil
}
