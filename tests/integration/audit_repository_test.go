package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confhub/internal/audit"
	"confhub/internal/store"
)

func auditRecord(configType, id, action string, version int64) *store.AuditRecord {
	return &store.AuditRecord{
		TenantID:     "acme",
		ConfigType:   configType,
		Context:      "GLOBAL",
		ResourceID:   id,
		Action:       action,
		ChangedBy:    "alice",
		Version:      version,
		CurrentValue: map[string]interface{}{"v": float64(version)},
		OccurredAt:   time.Now().UTC(),
	}
}

func TestAuditRepository_RecordAndList(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := audit.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, auditRecord("feature-flag", "checkout", "CREATED", 1)))
	require.NoError(t, repo.Record(ctx, auditRecord("feature-flag", "checkout", "UPDATED", 2)))
	require.NoError(t, repo.Record(ctx, auditRecord("rate-limit", "api", "CREATED", 1)))

	logs, err := repo.List(ctx, audit.ListQuery{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	logs, err = repo.List(ctx, audit.ListQuery{TenantID: "acme", ConfigType: "feature-flag"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = repo.List(ctx, audit.ListQuery{TenantID: "acme", ConfigType: "feature-flag", ResourceID: "checkout"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "UPDATED", logs[0].Action, "newest entry first")
	assert.Equal(t, map[string]interface{}{"v": float64(2)}, logs[0].CurrentValue)

	logs, err = repo.List(ctx, audit.ListQuery{TenantID: "other-tenant"})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAuditRepository_StoreWritesAreAudited(t *testing.T) {
	infra := SetupTestInfra(t)
	backend := store.NewMongoBackend(infra.MongoClient, infra.MongoDB)
	auditRepo := audit.NewRepository(infra.PostgresDB)
	s := store.NewStore(backend, createTestLogger(), store.WithAudit(auditRepo))
	ctx := context.Background()

	key := store.Key{TenantID: "acme", ConfigType: "feature-flag", ID: "audited"}
	_, err := s.Upsert(ctx, store.UpsertRequest{Key: key, Value: map[string]interface{}{"v": 1}})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, store.DeleteRequest{Key: key}))

	logs, err := auditRepo.List(ctx, audit.ListQuery{TenantID: "acme", ResourceID: "audited"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "DELETED", logs[0].Action)
	assert.Equal(t, "CREATED", logs[1].Action)
	assert.Equal(t, int64(2), logs[0].Version)
}
