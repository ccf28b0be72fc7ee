package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"confhub/internal/broker"
	"confhub/internal/config"
	"confhub/internal/constants"
	"confhub/internal/logger"
	"confhub/pkg/circuitbreaker"
	"confhub/pkg/metrics"
)

const idempotencyKeyPrefix = "confhub:delivered:"

// pendingSource is the slice of Repository the dispatcher drains from.
type pendingSource interface {
	PendingPartitions(ctx context.Context, limit int) ([]string, error)
	PendingForPartition(ctx context.Context, partitionKey string, batchSize int) ([]*Entry, error)
	MarkDelivered(ctx context.Context, eventID string) error
	IncrementAttempts(ctx context.Context, eventID string) error
	PendingCount(ctx context.Context) (int64, error)
}

// Dispatcher drains the outbox and publishes change events at least
// once. Entries within one partition are published strictly in commit
// order; a publish failure halts that partition until the next cycle so
// nothing is delivered out of order.
type Dispatcher struct {
	repo           pendingSource
	producer       broker.Producer
	redisClient    *redis.Client
	breaker        *circuitbreaker.Wrapper
	topic          string
	drainInterval  time.Duration
	concurrency    int
	batchSize      int
	partitionLimit int
	publishTimeout time.Duration
	idempotencyTTL time.Duration
	logger         logger.Logger
}

type DispatcherOption func(*Dispatcher)

// WithIdempotencyMarks enables Redis-backed delivery dedup marks. The
// at-least-once guarantee holds without them; they only spare consumers
// duplicates after a crash between publish and mark-delivered.
func WithIdempotencyMarks(client *redis.Client, ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.redisClient = client
		if ttl > 0 {
			d.idempotencyTTL = ttl
		}
	}
}

func WithBreaker(breaker *circuitbreaker.Wrapper) DispatcherOption {
	return func(d *Dispatcher) {
		d.breaker = breaker
	}
}

func NewDispatcher(repo *Repository, producer broker.Producer, topic string, cfg config.DispatcherConfig, log logger.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		repo:           repo,
		producer:       producer,
		topic:          topic,
		drainInterval:  cfg.DrainInterval,
		concurrency:    cfg.PartitionConcurrency,
		batchSize:      cfg.BatchSize,
		partitionLimit: cfg.MaxPartitionsPerCycle,
		publishTimeout: cfg.PublishTimeout,
		idempotencyTTL: 24 * time.Hour,
		logger:         log,
	}

	if d.drainInterval <= 0 {
		d.drainInterval = constants.DefaultOutboxDrainInterval
	}
	if d.concurrency <= 0 {
		d.concurrency = 4
	}
	if d.batchSize <= 0 {
		d.batchSize = constants.DefaultLimit
	}
	if d.partitionLimit <= 0 {
		d.partitionLimit = constants.DefaultMaxPartitionsPerCycle
	}
	if d.publishTimeout <= 0 {
		d.publishTimeout = constants.KafkaWriteTimeout
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfowCtx(ctx, "Outbox dispatcher started",
		"topic", d.topic,
		"drain_interval", d.drainInterval,
		"partition_concurrency", d.concurrency,
	)

	ticker := time.NewTicker(d.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Infow("Outbox dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				d.logger.ErrorwCtx(ctx, "Drain cycle failed", "error", err)
			}
		}
	}
}

// DrainOnce runs a single drain cycle. Partitions are drained
// concurrently; entries within a partition sequentially.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	start := time.Now()

	// A bounded slice of partitions per cycle keeps a huge backlog from
	// stalling the drain loop; the rest is picked up next cycle.
	partitions, err := d.repo.PendingPartitions(ctx, d.partitionLimit)
	if err != nil {
		metrics.ObserveDrainCycle("error", time.Since(start))
		return err
	}

	if len(partitions) == 0 {
		metrics.SetOutboxPending(0)
		metrics.ObserveDrainCycle("empty", time.Since(start))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, partitionKey := range partitions {
		partitionKey := partitionKey
		g.Go(func() error {
			if err := d.drainPartition(gctx, partitionKey); err != nil {
				// The partition is retried next cycle from its first
				// undelivered entry, so ordering is preserved.
				d.logger.WarnwCtx(gctx, "Partition drain halted",
					"partition_key", partitionKey,
					"error", err,
				)
			}
			return nil
		})
	}

	_ = g.Wait()

	if pending, err := d.repo.PendingCount(ctx); err == nil {
		metrics.SetOutboxPending(pending)
	}

	metrics.ObserveDrainCycle("success", time.Since(start))
	return nil
}

func (d *Dispatcher) drainPartition(ctx context.Context, partitionKey string) error {
	entries, err := d.repo.PendingForPartition(ctx, partitionKey, d.batchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if d.alreadyDelivered(ctx, entry) {
			if err := d.repo.MarkDelivered(ctx, entry.EventID); err != nil {
				return err
			}
			metrics.IncChangeEventSkipped(string(entry.ChangeType))
			continue
		}

		if err := d.publish(ctx, entry); err != nil {
			_ = d.repo.IncrementAttempts(ctx, entry.EventID)
			metrics.IncChangeEventPublished(string(entry.ChangeType), "error")
			return fmt.Errorf("publish %s: %w", entry.EventID, err)
		}

		d.markDeliveredIdempotency(ctx, entry)

		if err := d.repo.MarkDelivered(ctx, entry.EventID); err != nil {
			// The entry was published; redelivery next cycle is caught
			// by the idempotency mark.
			return err
		}

		metrics.IncChangeEventPublished(string(entry.ChangeType), "success")
	}

	return nil
}

func (d *Dispatcher) publish(ctx context.Context, entry *Entry) error {
	body, err := entry.Marshal()
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()

	if d.breaker != nil {
		_, err = d.breaker.ExecuteWithContext(pubCtx, func() (interface{}, error) {
			return nil, d.producer.Publish(pubCtx, d.topic, []byte(entry.PartitionKey), body)
		})
		d.breaker.RecordRequest(err == nil)
		return err
	}

	return d.producer.Publish(pubCtx, d.topic, []byte(entry.PartitionKey), body)
}

func (d *Dispatcher) alreadyDelivered(ctx context.Context, entry *Entry) bool {
	if d.redisClient == nil {
		return false
	}

	exists, err := d.redisClient.Exists(ctx, idempotencyKeyPrefix+entry.IdempotencyKey()).Result()
	if err != nil {
		d.logger.WarnwCtx(ctx, "Idempotency check failed, delivering anyway",
			"error", err,
			"event_id", entry.EventID,
		)
		return false
	}
	return exists > 0
}

func (d *Dispatcher) markDeliveredIdempotency(ctx context.Context, entry *Entry) {
	if d.redisClient == nil {
		return
	}

	if err := d.redisClient.Set(ctx, idempotencyKeyPrefix+entry.IdempotencyKey(), entry.EventID, d.idempotencyTTL).Err(); err != nil {
		d.logger.WarnwCtx(ctx, "Failed to set idempotency mark",
			"error", err,
			"event_id", entry.EventID,
		)
	}
}
