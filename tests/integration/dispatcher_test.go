package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"confhub/internal/broker"
	"confhub/internal/config"
	"confhub/internal/outbox"
	"confhub/internal/store"
)

func setupKafka(t *testing.T, ctx context.Context) []string {
	t.Helper()

	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("test-cluster"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	brokers, err := container.Brokers(ctx)
	if err != nil {
		t.Fatalf("failed to get kafka brokers: %v", err)
	}
	return brokers
}

func TestDispatcher_DeliversChangeEventsInOrder(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, true)
	ctx := context.Background()
	brokers := setupKafka(t, ctx)

	const topic = "config.change-events"

	s := store.NewStore(store.NewMongoBackend(infra.MongoClient, infra.MongoDB), createTestLogger())
	key := store.Key{TenantID: "acme", ConfigType: "feature-flag", ID: "checkout"}

	_, err := s.Upsert(ctx, store.UpsertRequest{Key: key, Value: map[string]interface{}{"v": 1}})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, store.UpsertRequest{Key: key, Value: map[string]interface{}{"v": 2}})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, store.DeleteRequest{Key: key}))

	producer := broker.NewKafkaProducer(config.KafkaConfig{Brokers: brokers}, createTestLogger())
	defer producer.Close()

	repo := outbox.NewRepository(infra.MongoDB)
	dispatcher := outbox.NewDispatcher(repo, producer, topic, config.DispatcherConfig{}, createTestLogger(),
		outbox.WithIdempotencyMarks(infra.RedisClient, time.Hour),
	)

	require.NoError(t, dispatcher.DrainOnce(ctx))

	pending, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	var events []outbox.ChangeEvent
	for i := 0; i < 3; i++ {
		readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := reader.ReadMessage(readCtx)
		cancel()
		require.NoError(t, err)

		assert.Equal(t, "acme:feature-flag:checkout", string(msg.Key))

		var event outbox.ChangeEvent
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		events = append(events, event)
	}

	require.Len(t, events, 3)
	assert.Equal(t, outbox.ChangeTypeCreated, events[0].ChangeType)
	assert.Equal(t, outbox.ChangeTypeUpdated, events[1].ChangeType)
	assert.Equal(t, outbox.ChangeTypeDeleted, events[2].ChangeType)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, int64(2), events[1].Version)
	assert.Equal(t, int64(3), events[2].Version)
}

func TestDispatcher_IdempotencyMarkSkipsRedelivery(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, true)
	ctx := context.Background()
	brokers := setupKafka(t, ctx)

	const topic = "config.change-events-dedup"

	repo := outbox.NewRepository(infra.MongoDB)
	entry := &outbox.Entry{
		EventID:      "evt-1",
		PartitionKey: "acme:feature-flag:checkout",
		TenantID:     "acme",
		ConfigType:   "feature-flag",
		Context:      "GLOBAL",
		ResourceID:   "checkout",
		ChangeType:   outbox.ChangeTypeUpdated,
		Version:      4,
		CurrentValue: map[string]interface{}{"v": 4},
		CommittedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Append(ctx, entry))

	// Simulate a crash after publish but before mark-delivered: the
	// idempotency mark exists, the outbox entry is still pending.
	mark := "confhub:delivered:" + entry.IdempotencyKey()
	require.NoError(t, infra.RedisClient.Set(ctx, mark, entry.EventID, time.Hour).Err())

	producer := broker.NewKafkaProducer(config.KafkaConfig{Brokers: brokers}, createTestLogger())
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(repo, producer, topic, config.DispatcherConfig{}, createTestLogger(),
		outbox.WithIdempotencyMarks(infra.RedisClient, time.Hour),
	)

	require.NoError(t, dispatcher.DrainOnce(ctx))

	// The entry is settled without republishing.
	pending, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = reader.ReadMessage(readCtx)
	assert.Error(t, err, "no message should have been published")
}
