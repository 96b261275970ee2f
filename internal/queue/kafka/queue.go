// Package kafka carries crawl dispatch items over a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/outreach-core/internal/crawler"
)

// Config describes the dispatch topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue implements crawler.Queue on Kafka with at-least-once delivery: the
// offset of a dequeued item is committed only when the next item is requested,
// so an item whose processing is cut short is delivered again. A Queue must
// therefore be consumed by a single worker.
type Queue struct {
	writer messageWriter
	reader messageReader

	mu      sync.Mutex
	pending *kafka.Message
	closed  bool
}

// New creates a Queue for the configured brokers and topic.
func New(cfg Config) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka group id is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: false,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return NewWithClients(writer, reader), nil
}

// NewWithClients builds a Queue from custom clients (tests).
func NewWithClients(writer messageWriter, reader messageReader) *Queue {
	return &Queue{writer: writer, reader: reader}
}

// Enqueue publishes item keyed by job id.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if q.isClosed() {
		return crawler.ErrQueueClosed
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(item.JobID),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write queue item: %w", err)
	}
	return nil
}

// Dequeue commits the previously returned item and fetches the next one.
// Undecodable messages are committed and reported as errors.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	if q.isClosed() {
		return crawler.QueueItem{}, crawler.ErrQueueClosed
	}
	if err := q.commitPending(ctx); err != nil {
		return crawler.QueueItem{}, err
	}

	msg, err := q.reader.FetchMessage(ctx)
	if err != nil {
		if q.isClosed() {
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		}
		return crawler.QueueItem{}, fmt.Errorf("fetch queue item: %w", err)
	}

	var item crawler.QueueItem
	if err := json.Unmarshal(msg.Value, &item); err != nil {
		if cerr := q.reader.CommitMessages(ctx, msg); cerr != nil {
			return crawler.QueueItem{}, fmt.Errorf("commit undecodable message: %w", cerr)
		}
		return crawler.QueueItem{}, fmt.Errorf("decode queue item at offset %d: %w", msg.Offset, err)
	}

	q.mu.Lock()
	q.pending = &msg
	q.mu.Unlock()
	return item, nil
}

func (q *Queue) commitPending(ctx context.Context) error {
	q.mu.Lock()
	pending := q.pending
	q.mu.Unlock()
	if pending == nil {
		return nil
	}
	if err := q.reader.CommitMessages(ctx, *pending); err != nil {
		return fmt.Errorf("commit queue item: %w", err)
	}
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close shuts down the writer and reader. The last dequeued item is left
// uncommitted.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	werr := q.writer.Close()
	rerr := q.reader.Close()
	if err := errors.Join(werr, rerr); err != nil {
		return fmt.Errorf("close kafka queue: %w", err)
	}
	return nil
}
