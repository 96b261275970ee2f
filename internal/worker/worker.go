// Package worker implements the crawl job execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-core/internal/crawler"
	"github.com/JakeFAU/outreach-core/internal/extract"
	"github.com/JakeFAU/outreach-core/internal/metrics"
)

const tracerName = "github.com/JakeFAU/outreach-core/internal/worker"

// Dequeue failures back off exponentially between these bounds.
const (
	minDequeueBackoff = 100 * time.Millisecond
	maxDequeueBackoff = 5 * time.Second
)

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
}

// Completion is the payload published when a job reaches a terminal status.
type Completion struct {
	JobID       string            `json:"job_id"`
	UserID      string            `json:"user_id"`
	Status      crawler.JobStatus `json:"status"`
	EmailCount  int               `json:"email_count"`
	ErrorText   string            `json:"error_text,omitempty"`
	CompletedAt string            `json:"completed_at"`
}

// Worker consumes queue items and runs the email discovery crawl for each.
type Worker struct {
	queue           crawler.Queue
	jobStore        crawler.JobStore
	blobStore       crawler.BlobStore
	publisher       crawler.Publisher
	hasher          crawler.Hasher
	clock           crawler.Clock
	fetcher         crawler.Fetcher
	headlessFetcher crawler.Fetcher
	detector        crawler.HeadlessDetector
	limiter         crawler.Limiter
	cfg             Config
	logger          *zap.Logger

	backoffMin time.Duration
	backoffMax time.Duration
}

// New constructs a Worker. blobStore, publisher, headless, detector and
// limiter are optional and may be nil.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	fetcher crawler.Fetcher,
	headless crawler.Fetcher,
	detector crawler.HeadlessDetector,
	limiter crawler.Limiter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		queue:           queue,
		jobStore:        jobStore,
		blobStore:       blobStore,
		publisher:       publisher,
		hasher:          hasher,
		clock:           clock,
		fetcher:         fetcher,
		headlessFetcher: headless,
		detector:        detector,
		limiter:         limiter,
		cfg:             cfg,
		logger:          logger,
		backoffMin:      minDequeueBackoff,
		backoffMax:      maxDequeueBackoff,
	}
}

// Run blocks, consuming queue items until the context finishes.
// A failing queue is retried with capped exponential backoff.
func (w *Worker) Run(ctx context.Context) {
	var backoff time.Duration
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			backoff = w.nextBackoff(backoff)
			w.logger.Error("queue dequeue failed", zap.Error(err), zap.Duration("retry_in", backoff))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		backoff = 0
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		if _, err := w.Process(ctx, item); err != nil {
			w.logger.Error("job processing failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

func (w *Worker) nextBackoff(current time.Duration) time.Duration {
	lo, hi := w.backoffMin, w.backoffMax
	if lo <= 0 {
		lo = minDequeueBackoff
	}
	if hi < lo {
		hi = lo
	}
	if current <= 0 {
		return lo
	}
	return min(current*2, hi)
}

// Process runs one crawl job to completion and returns the discovered
// emails. The job is marked Processing before any fetch and receives exactly
// one terminal write. Individual URL failures never fail the job; only
// persistence faults and panics do. Re-running a job id recomputes and
// overwrites its result.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) ([]string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "worker.Process", trace.WithAttributes(
		attribute.String("job.id", item.JobID),
		attribute.Int("job.seeds", len(item.URLs)),
	))
	defer span.End()

	emails, err := w.process(ctx, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("job.emails", len(emails)))
	return emails, nil
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) ([]string, error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID))
	if w.fetcher == nil {
		err := errors.New("no fetcher configured")
		w.fail(ctx, item, logger, err)
		return nil, err
	}

	if err := w.jobStore.MarkProcessing(ctx, item.JobID, w.clock.Now()); err != nil {
		err = fmt.Errorf("mark processing: %w", err)
		w.fail(ctx, item, logger, err)
		return nil, err
	}
	logger.Info("job processing", zap.Int("seeds", len(item.URLs)))

	emails, err := w.crawlSafely(ctx, item, logger)
	if err != nil {
		w.fail(ctx, item, logger, err)
		return nil, err
	}
	if ctx.Err() != nil {
		// Shutdown mid-crawl: leave the job Processing for redispatch.
		return nil, fmt.Errorf("job interrupted: %w", ctx.Err())
	}

	completedAt := w.clock.Now()
	if err := w.jobStore.FinishJob(ctx, item.JobID, crawler.JobStatusCompleted, emails, "", completedAt); err != nil {
		return nil, fmt.Errorf("finish job: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusCompleted))
	metrics.ObserveEmails(len(emails))
	logger.Info("job completed", zap.Int("emails", len(emails)))

	w.publishCompletion(ctx, item, crawler.JobStatusCompleted, len(emails), "", completedAt, logger)
	return emails, nil
}

func (w *Worker) fail(ctx context.Context, item crawler.QueueItem, logger *zap.Logger, cause error) {
	logger.Error("job failed", zap.Error(cause))
	at := w.clock.Now()
	if err := w.jobStore.FinishJob(ctx, item.JobID, crawler.JobStatusFailed, nil, cause.Error(), at); err != nil {
		logger.Error("fail job status update", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(crawler.JobStatusFailed))
	w.publishCompletion(ctx, item, crawler.JobStatusFailed, 0, cause.Error(), at, logger)
}

func (w *Worker) crawlSafely(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) (emails []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl panic: %v", r)
		}
	}()
	return w.crawl(ctx, item, logger), nil
}

func (w *Worker) crawl(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) []string {
	found := crawler.NewEmailSet()
	for _, seed := range item.URLs {
		if ctx.Err() != nil {
			break
		}
		page, ok := w.visit(ctx, item, seed, logger)
		if !ok {
			continue
		}
		found.AddAll(extract.Emails(page.Body))

		links, err := extract.Links(page.Body, seed)
		if err != nil {
			logger.Warn("link extraction failed", zap.String("url", seed), zap.Error(err))
			continue
		}
		for _, link := range links {
			if ctx.Err() != nil {
				break
			}
			sub, ok := w.visit(ctx, item, link, logger)
			if !ok {
				continue
			}
			found.AddAll(extract.Emails(sub.Body))
		}
	}
	return found.Values()
}

// visit fetches one URL. Failures are logged and reported as ok=false.
func (w *Worker) visit(
	ctx context.Context,
	item crawler.QueueItem,
	url string,
	logger *zap.Logger,
) (crawler.FetchResponse, bool) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, url); err != nil {
			metrics.ObserveFetch(url, "failed", 0)
			logger.Warn("politeness wait failed", zap.String("url", url), zap.Error(err))
			return crawler.FetchResponse{}, false
		}
	}

	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{JobID: item.JobID, URL: url})
	if err != nil {
		metrics.ObserveFetch(url, "failed", 0)
		logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		return crawler.FetchResponse{}, false
	}

	if promoted, ok := w.maybePromote(ctx, item, url, resp, logger); ok {
		resp = promoted
	}
	metrics.ObserveFetch(url, "success", len(resp.Body))
	logger.Debug("page fetched",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Bool("headless", resp.UsedHeadless),
	)

	w.snapshot(ctx, item.JobID, url, resp, logger)
	return resp, true
}

func (w *Worker) maybePromote(
	ctx context.Context,
	item crawler.QueueItem,
	url string,
	resp crawler.FetchResponse,
	logger *zap.Logger,
) (crawler.FetchResponse, bool) {
	if w.detector == nil || w.headlessFetcher == nil || !w.detector.ShouldPromote(resp) {
		return resp, false
	}

	headlessResp, err := w.headlessFetcher.Fetch(ctx, crawler.FetchRequest{
		JobID:       item.JobID,
		URL:         url,
		UseHeadless: true,
	})
	if err != nil {
		logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return resp, false
	}
	headlessResp.UsedHeadless = true
	logger.Info("headless promotion applied", zap.String("url", url))
	return headlessResp, true
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

// snapshot stores the page body for audit. Failures never affect the job.
func (w *Worker) snapshot(ctx context.Context, jobID, url string, resp crawler.FetchResponse, logger *zap.Logger) {
	if w.blobStore == nil || w.hasher == nil {
		return
	}
	hash, err := w.hasher.Hash(resp.Body)
	if err != nil {
		metrics.ObserveSnapshotFailure()
		logger.Warn("hash body failed", zap.String("url", url), zap.Error(err))
		return
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(jobID, hash), w.cfg.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		metrics.ObserveSnapshotFailure()
		logger.Warn("snapshot write failed", zap.String("url", url), zap.Error(err))
		return
	}
	logger.Debug("snapshot stored", zap.String("url", url), zap.String("blob_uri", uri))
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	item crawler.QueueItem,
	status crawler.JobStatus,
	emailCount int,
	errText string,
	at time.Time,
	logger *zap.Logger,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := Completion{
		JobID:       item.JobID,
		UserID:      item.UserID,
		Status:      status,
		EmailCount:  emailCount,
		ErrorText:   errText,
		CompletedAt: at.UTC().Format(time.RFC3339),
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		metrics.ObserveCompletionPublishFailure()
		logger.Warn("completion publish failed", zap.Error(err))
		return
	}
	logger.Debug("completion published", zap.String("message_id", msgID))
}
