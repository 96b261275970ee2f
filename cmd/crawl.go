package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-core/internal/clock/system"
	"github.com/JakeFAU/outreach-core/internal/config"
	"github.com/JakeFAU/outreach-core/internal/crawler"
	collyfetcher "github.com/JakeFAU/outreach-core/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/outreach-core/internal/fetcher/headless"
	"github.com/JakeFAU/outreach-core/internal/hash/sha256"
	"github.com/JakeFAU/outreach-core/internal/headless/detector"
	"github.com/JakeFAU/outreach-core/internal/id/uuid"
	"github.com/JakeFAU/outreach-core/internal/policy/ratelimit"
	memoryStorage "github.com/JakeFAU/outreach-core/internal/storage/memory"
	"github.com/JakeFAU/outreach-core/internal/worker"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one email discovery
// crawl in-process and prints the emails found, one per line.
func newCrawlCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "crawl URL...",
		Short: "Discovers contact emails on the given websites",
		Long: `Fetches each URL, follows same-site contact, about, and team links one
level deep, and prints every email address found. Unreachable pages are
skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			for _, raw := range args {
				if err := crawler.ValidateSeedURL(raw); err != nil {
					return err
				}
			}
			runner, cleanup := newCrawlWorker(rt.cfg, rt.logger)
			defer cleanup()

			emails, err := runCrawl(cmd, runner, userID, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(emails) > 0 {
				if _, err := fmt.Fprintln(out, strings.Join(emails, "\n")); err != nil {
					return fmt.Errorf("write emails: %w", err)
				}
			}
			rt.logger.Info("crawl finished", zap.Int("emails", len(emails)))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id recorded on the crawl job")
	return cmd
}

func runCrawl(cmd *cobra.Command, runner *crawlWorker, userID string, urls []string) ([]string, error) {
	ctx := cmd.Context()
	jobID, err := runner.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:        jobID,
		UserID:    userID,
		SeedURLs:  urls,
		Status:    crawler.JobStatusPending,
		CreatedAt: runner.clock.Now(),
	}
	if err := runner.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	emails, err := runner.worker.Process(ctx, crawler.QueueItem{
		JobID:  jobID,
		UserID: userID,
		URLs:   urls,
	})
	if err != nil {
		return nil, fmt.Errorf("crawl: %w", err)
	}
	return emails, nil
}

type crawlWorker struct {
	worker *worker.Worker
	jobs   *memoryStorage.JobStore
	ids    crawler.IDGenerator
	clock  crawler.Clock
}

func newCrawlWorker(cfg config.Config, logger *zap.Logger) (*crawlWorker, func()) {
	jobs := memoryStorage.NewJobStore()
	clock := system.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodySize:   cfg.Crawler.MaxBodyBytes,
	})
	cleanup := func() {}
	var headless crawler.Fetcher
	var detect crawler.HeadlessDetector
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleMillis) * time.Millisecond,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
			detect = detector.NewHeuristic(cfg.Headless.PromotionThresh)
			cleanup = hf.Close
		}
	}
	w := worker.New(
		nil,
		jobs,
		nil,
		nil,
		sha256.New(),
		clock,
		fetcher,
		headless,
		detect,
		ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.PolitenessRPS,
			DefaultBurst: cfg.Crawler.PolitenessBurst,
		}),
		worker.Config{},
		logger.Named("crawl"),
	)
	return &crawlWorker{worker: w, jobs: jobs, ids: uuid.New(), clock: clock}, cleanup
}
