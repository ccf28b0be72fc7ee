package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"confhub/internal/constants"
)

// EnsureMongoIndexes creates the indexes the config store and outbox rely
// on. Safe to call on every startup.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	configIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "config_type", Value: 1},
				{Key: "context", Value: 1},
				{Key: "id", Value: 1},
			},
			Options: options.Index().SetName("idx_configurations_key").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "config_type", Value: 1},
				{Key: "deleted", Value: 1},
			},
			Options: options.Index().SetName("idx_configurations_tenant_type_deleted"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_configurations_updated_at"),
		},
	}

	if err := createIndexes(ctx, db.Collection(constants.ConfigurationsCollection), configIndexes); err != nil {
		return fmt.Errorf("configurations indexes: %w", err)
	}

	outboxIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "delivered", Value: 1},
				{Key: "partition_key", Value: 1},
				{Key: "committed_at", Value: 1},
			},
			Options: options.Index().SetName("idx_outbox_delivered_partition_committed"),
		},
		{
			Keys:    bson.D{{Key: "committed_at", Value: 1}},
			Options: options.Index().SetName("idx_outbox_committed_at"),
		},
	}

	if err := createIndexes(ctx, db.Collection(constants.OutboxCollection), outboxIndexes); err != nil {
		return fmt.Errorf("outbox indexes: %w", err)
	}

	return nil
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
