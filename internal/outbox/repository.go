package outbox

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"confhub/internal/constants"
)

type Repository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		collection: db.Collection(constants.OutboxCollection),
	}
}

// Append inserts an entry outside a store transaction. The store's
// write path appends entries transactionally itself; this exists for
// tooling and tests.
func (r *Repository) Append(ctx context.Context, entry *Entry) error {
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to append outbox entry: %w", err)
	}
	return nil
}

func (r *Repository) PendingPartitions(ctx context.Context, limit int) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "partition_key", bson.M{"delivered": false})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending partitions: %w", err)
	}

	partitions := make([]string, 0, len(values))
	for _, v := range values {
		if pk, ok := v.(string); ok {
			partitions = append(partitions, pk)
		}
	}

	if limit > 0 && len(partitions) > limit {
		partitions = partitions[:limit]
	}
	return partitions, nil
}

// PendingForPartition returns undelivered entries of one partition in
// commit order. Version breaks timestamp ties: BSON datetimes carry
// millisecond precision, so rapid mutations of one object can share a
// committed_at.
func (r *Repository) PendingForPartition(ctx context.Context, partitionKey string, batchSize int) ([]*Entry, error) {
	filter := bson.M{
		"delivered":     false,
		"partition_key": partitionKey,
	}

	opts := options.Find().SetSort(bson.D{{Key: "committed_at", Value: 1}, {Key: "version", Value: 1}})
	if batchSize > 0 {
		opts = opts.SetLimit(int64(batchSize))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode pending entries: %w", err)
	}
	return entries, nil
}

func (r *Repository) MarkDelivered(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"delivered":    true,
			"delivered_at": now,
		},
		"$inc": bson.M{"attempts": 1},
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return fmt.Errorf("failed to mark entry delivered: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("outbox entry not found: %s", eventID)
	}
	return nil
}

func (r *Repository) IncrementAttempts(ctx context.Context, eventID string) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": eventID}, bson.M{"$inc": bson.M{"attempts": 1}})
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}

func (r *Repository) PendingCount(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"delivered": false})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return count, nil
}
