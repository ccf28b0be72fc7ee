package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"confhub/internal/constants"
	"confhub/internal/outbox"
)

// configDocument is the persisted shape. The composite key string is the
// document id, which gives the uniqueness constraint for free.
type configDocument struct {
	DocID string `bson:"_id"`
	ConfigObject `bson:",inline"`
}

type MongoBackend struct {
	client  *mongo.Client
	configs *mongo.Collection
	outbox  *mongo.Collection
}

func NewMongoBackend(client *mongo.Client, db *mongo.Database) *MongoBackend {
	return &MongoBackend{
		client:  client,
		configs: db.Collection(constants.ConfigurationsCollection),
		outbox:  db.Collection(constants.OutboxCollection),
	}
}

func (b *MongoBackend) Read(ctx context.Context, key Key) (*ConfigObject, error) {
	key = key.Normalized()

	var doc configDocument
	err := b.configs.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config object: %w", err)
	}

	obj := doc.ConfigObject
	return &obj, nil
}

// CompareAndSwap replaces (or inserts) the document only when the stored
// version matches expectedVersion, and appends the outbox entry in the
// same transaction.
func (b *MongoBackend) CompareAndSwap(ctx context.Context, expectedVersion int64, obj *ConfigObject, entry *outbox.Entry) error {
	doc := configDocument{
		DocID:        obj.Key().String(),
		ConfigObject: *obj,
	}

	session, err := b.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start mongo session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sctx mongo.SessionContext) (interface{}, error) {
		if expectedVersion == 0 {
			if _, err := b.configs.InsertOne(sctx, doc); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return nil, ErrCASConflict
				}
				return nil, fmt.Errorf("failed to insert config object: %w", err)
			}
		} else {
			filter := bson.M{"_id": doc.DocID, "version": expectedVersion}
			res := b.configs.FindOneAndReplace(sctx, filter, doc)
			if res.Err() == mongo.ErrNoDocuments {
				return nil, ErrCASConflict
			}
			if res.Err() != nil {
				return nil, fmt.Errorf("failed to replace config object: %w", res.Err())
			}
		}

		if _, err := b.outbox.InsertOne(sctx, entry); err != nil {
			return nil, fmt.Errorf("failed to append outbox entry: %w", err)
		}

		return nil, nil
	})

	return err
}

func (b *MongoBackend) List(ctx context.Context, query ListQuery) ([]*ConfigObject, error) {
	filter := bson.M{
		"tenant_id":   query.TenantID,
		"config_type": query.ConfigType,
	}
	if query.Context != "" {
		filter["context"] = query.Context
	}
	if !query.IncludeDeleted {
		filter["deleted"] = false
	}

	opts := options.Find().SetSort(bson.D{{Key: "context", Value: 1}, {Key: "id", Value: 1}})
	if query.Limit > 0 {
		opts = opts.SetLimit(int64(query.Limit))
	}
	if query.Offset > 0 {
		opts = opts.SetSkip(int64(query.Offset))
	}

	cursor, err := b.configs.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list config objects: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []configDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode config objects: %w", err)
	}

	objects := make([]*ConfigObject, len(docs))
	for i := range docs {
		obj := docs[i].ConfigObject
		objects[i] = &obj
	}
	return objects, nil
}

func (b *MongoBackend) ListContexts(ctx context.Context, tenantID, configType, id string, includeDeleted bool) ([]*ConfigObject, error) {
	filter := bson.M{
		"tenant_id":   tenantID,
		"config_type": configType,
		"id":          id,
	}
	if !includeDeleted {
		filter["deleted"] = false
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := b.configs.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list config contexts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []configDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode config contexts: %w", err)
	}

	objects := make([]*ConfigObject, len(docs))
	for i := range docs {
		obj := docs[i].ConfigObject
		objects[i] = &obj
	}
	return objects, nil
}

func (b *MongoBackend) Healthy(ctx context.Context) error {
	return b.client.Ping(ctx, nil)
}
