package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confhub/internal/outbox"
	"confhub/internal/store"
	pkgerrors "confhub/pkg/errors"
)

func newMongoStore(infra *TestInfra) *store.Store {
	backend := store.NewMongoBackend(infra.MongoClient, infra.MongoDB)
	return store.NewStore(backend, createTestLogger())
}

func storeKey(context, id string) store.Key {
	return store.Key{TenantID: "acme", ConfigType: "feature-flag", Context: context, ID: id}
}

func TestConfigStore_CreateAndGet(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	s := newMongoStore(infra)
	ctx := context.Background()

	created, err := s.Upsert(ctx, store.UpsertRequest{
		Key:   storeKey("", "checkout"),
		Value: map[string]interface{}{"enabled": true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "GLOBAL", created.Context)

	got, err := s.Get(ctx, storeKey("", "checkout"), false)
	require.NoError(t, err)
	assert.Equal(t, created.Version, got.Version)
	assert.Equal(t, true, got.Value["enabled"])
}

func TestConfigStore_OutboxEntryCommittedWithWrite(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	s := newMongoStore(infra)
	outboxRepo := outbox.NewRepository(infra.MongoDB)
	ctx := context.Background()

	created, err := s.Upsert(ctx, store.UpsertRequest{
		Key:   storeKey("", "payments"),
		Value: map[string]interface{}{"provider": "stripe"},
	})
	require.NoError(t, err)

	entries, err := outboxRepo.PendingForPartition(ctx, "acme:feature-flag:payments", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, outbox.ChangeTypeCreated, entry.ChangeType)
	assert.Equal(t, created.Version, entry.Version)
	assert.Equal(t, "payments", entry.ResourceID)
	assert.False(t, entry.Delivered)
}

func TestConfigStore_PinnedVersionConflict(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	s := newMongoStore(infra)
	ctx := context.Background()

	_, err := s.Upsert(ctx, store.UpsertRequest{
		Key:   storeKey("", "checkout"),
		Value: map[string]interface{}{"v": 1},
	})
	require.NoError(t, err)

	expected := int64(9)
	_, err = s.Upsert(ctx, store.UpsertRequest{
		Key:             storeKey("", "checkout"),
		Value:           map[string]interface{}{"v": 2},
		ExpectedVersion: &expected,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsVersionConflict(err))

	zero := int64(0)
	_, err = s.Upsert(ctx, store.UpsertRequest{
		Key:             storeKey("", "checkout"),
		Value:           map[string]interface{}{"v": 2},
		ExpectedVersion: &zero,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsAlreadyExists(err))
}

func TestConfigStore_GlobalFallback(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	s := newMongoStore(infra)
	ctx := context.Background()

	_, err := s.Upsert(ctx, store.UpsertRequest{
		Key:   storeKey("", "limits"),
		Value: map[string]interface{}{"max": 100},
	})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, store.UpsertRequest{
		Key:   storeKey("eu-west-1", "limits"),
		Value: map[string]interface{}{"max": 50},
	})
	require.NoError(t, err)

	// A context holding its own object sees it.
	obj, err := s.Get(ctx, storeKey("eu-west-1", "limits"), false)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", obj.Context)

	// A context without one falls back to the global object.
	obj, err = s.Get(ctx, storeKey("us-east-1", "limits"), false)
	require.NoError(t, err)
	assert.Equal(t, "GLOBAL", obj.Context)
}

func TestConfigStore_SoftDelete(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	s := newMongoStore(infra)
	ctx := context.Background()

	_, err := s.Upsert(ctx, store.UpsertRequest{
		Key:   storeKey("eu-west-1", "retired"),
		Value: map[string]interface{}{"v": 1},
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, store.DeleteRequest{Key: storeKey("eu-west-1", "retired")}))

	_, err = s.Get(ctx, storeKey("eu-west-1", "retired"), false)
	assert.True(t, pkgerrors.IsNotFound(err))

	obj, err := s.Get(ctx, storeKey("eu-west-1", "retired"), true)
	require.NoError(t, err)
	assert.True(t, obj.Deleted)
	assert.Equal(t, int64(2), obj.Version)

	err = s.Delete(ctx, store.DeleteRequest{Key: storeKey("eu-west-1", "retired")})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestConfigStore_ListAndListContexts(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	s := newMongoStore(infra)
	ctx := context.Background()

	for _, c := range []string{"", "eu-west-1", "us-east-1"} {
		_, err := s.Upsert(ctx, store.UpsertRequest{
			Key:   storeKey(c, "rollout"),
			Value: map[string]interface{}{"context": c},
		})
		require.NoError(t, err)
	}

	objects, err := s.List(ctx, store.ListQuery{TenantID: "acme", ConfigType: "feature-flag"})
	require.NoError(t, err)
	assert.Len(t, objects, 3)

	contexts, err := s.ListContexts(ctx, "acme", "feature-flag", "rollout")
	require.NoError(t, err)
	require.Len(t, contexts, 3)

	// Newest creation first.
	for i := 1; i < len(contexts); i++ {
		assert.False(t, contexts[i-1].CreatedAt.Before(contexts[i].CreatedAt))
	}
}

func TestConfigStore_TenantIsolation(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	s := newMongoStore(infra)
	ctx := context.Background()

	_, err := s.Upsert(ctx, store.UpsertRequest{
		Key:   store.Key{TenantID: "acme", ConfigType: "feature-flag", ID: "shared-id"},
		Value: map[string]interface{}{"owner": "acme"},
	})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, store.UpsertRequest{
		Key:   store.Key{TenantID: "globex", ConfigType: "feature-flag", ID: "shared-id"},
		Value: map[string]interface{}{"owner": "globex"},
	})
	require.NoError(t, err)

	obj, err := s.Get(ctx, store.Key{TenantID: "globex", ConfigType: "feature-flag", ID: "shared-id"}, false)
	require.NoError(t, err)
	assert.Equal(t, "globex", obj.Value["owner"])

	_, err = s.Get(ctx, store.Key{TenantID: "initech", ConfigType: "feature-flag", ID: "shared-id"}, false)
	assert.True(t, pkgerrors.IsNotFound(err))
}
