// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/outreach-core/internal/crawler"
)

// Runner consumes queue items until its context ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers and accepts new jobs
// for dispatch.
type Dispatcher struct {
	queue   crawler.Queue
	clock   crawler.Clock
	workers []Runner
}

// New creates a Dispatcher. clock may be nil, in which case items are not
// stamped with a submission time.
func New(queue crawler.Queue, clock crawler.Clock, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		clock:   clock,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit enqueues a crawl for job. Delivery is at-least-once; a job id may be
// processed more than once.
func (d *Dispatcher) Submit(ctx context.Context, job crawler.Job) error {
	item := crawler.QueueItem{
		JobID:  job.ID,
		UserID: job.UserID,
		URLs:   append([]string(nil), job.SeedURLs...),
	}
	if d.clock != nil {
		item.Submitted = d.clock.Now().UnixMilli()
	}
	return d.Enqueue(ctx, item)
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
