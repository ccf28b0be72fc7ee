package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"confhub/internal/constants"
	"confhub/internal/logger"
	"confhub/internal/outbox"
	pkgerrors "confhub/pkg/errors"
	"confhub/pkg/logging"
	"confhub/pkg/metrics"
	"confhub/pkg/retry"
)

// Validator checks a config payload before any write is attempted.
type Validator interface {
	Validate(ctx context.Context, configType string, value map[string]interface{}) error
}

// AuditRecorder persists a record of a committed mutation. Recording is
// best-effort and never fails the write.
type AuditRecorder interface {
	Record(ctx context.Context, rec *AuditRecord) error
}

type AuditRecord struct {
	TenantID      string
	ConfigType    string
	Context       string
	ResourceID    string
	Action        string
	ChangedBy     string
	Version       int64
	PreviousValue map[string]interface{}
	CurrentValue  map[string]interface{}
	OccurredAt    time.Time
}

type Store struct {
	backend     Backend
	validator   Validator
	audit       AuditRecorder
	retryPolicy retry.Policy
	logger      logger.Logger
}

type Option func(*Store)

func WithValidator(v Validator) Option {
	return func(s *Store) {
		s.validator = v
	}
}

func WithAudit(rec AuditRecorder) Option {
	return func(s *Store) {
		s.audit = rec
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Store) {
		s.retryPolicy = p
	}
}

func NewStore(backend Backend, log logger.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  log,
		retryPolicy: retry.Policy{
			MaxAttempts:     constants.MaxBlindWriteAttempts,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     1 * time.Second,
			Multiplier:      2.0,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Upsert writes a new version of the object. A pinned expected version
// is tried exactly once; a blind write is retried a bounded number of
// times on concurrent-modification conflicts.
func (s *Store) Upsert(ctx context.Context, req UpsertRequest) (*ConfigObject, error) {
	start := time.Now()
	key := req.Key.Normalized()

	if err := validateKey(key); err != nil {
		return nil, err
	}
	if req.Value == nil {
		return nil, pkgerrors.ErrValidation.WithViolation("value", "value is required")
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion < 0 {
		return nil, pkgerrors.ErrValidation.WithViolation("expectedVersion", "expected version must be non-negative")
	}

	if s.validator != nil {
		if err := s.validator.Validate(ctx, key.ConfigType, req.Value); err != nil {
			metrics.IncValidationFailure(key.ConfigType)
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
		}
	}

	var (
		obj *ConfigObject
		err error
	)
	if req.ExpectedVersion != nil {
		obj, err = s.upsertPinned(ctx, key, req.Value, *req.ExpectedVersion)
	} else {
		obj, err = s.upsertBlind(ctx, key, req.Value)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveConfigOperation("upsert", key.ConfigType, status, time.Since(start))

	return obj, err
}

func (s *Store) upsertPinned(ctx context.Context, key Key, value map[string]interface{}, expected int64) (*ConfigObject, error) {
	prev, err := s.backend.Read(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	var current int64
	if prev != nil {
		current = prev.Version
	}
	if expected != current {
		metrics.IncCASConflict(key.ConfigType, "pinned")
		return nil, s.conflictError(key, expected, current)
	}

	obj, entry := s.buildWrite(key, value, prev)
	if err := s.backend.CompareAndSwap(ctx, expected, obj, entry); err != nil {
		if errors.Is(err, ErrCASConflict) {
			metrics.IncCASConflict(key.ConfigType, "pinned")
			return nil, s.conflictError(key, expected, -1)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordAudit(ctx, entry)
	return obj, nil
}

func (s *Store) upsertBlind(ctx context.Context, key Key, value map[string]interface{}) (*ConfigObject, error) {
	var result *ConfigObject
	var committed *outbox.Entry

	err := retry.Retry(ctx, s.retryPolicy, func() error {
		prev, err := s.backend.Read(ctx, key)
		if err != nil {
			return retry.NewFatalError(err)
		}

		obj, entry := s.buildWrite(key, value, prev)

		var expected int64
		if prev != nil {
			expected = prev.Version
		}

		if err := s.backend.CompareAndSwap(ctx, expected, obj, entry); err != nil {
			if errors.Is(err, ErrCASConflict) {
				metrics.IncCASConflict(key.ConfigType, "blind")
				return err
			}
			return retry.NewFatalError(err)
		}

		result = obj
		committed = entry
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrCASConflict) {
			return nil, pkgerrors.ErrVersionConflict.
				WithDetail("id", key.ID).
				WithDetail("message", "write contention exhausted retries")
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordAudit(ctx, committed)
	return result, nil
}

func (s *Store) conflictError(key Key, expected, actual int64) error {
	if expected == 0 {
		return pkgerrors.ErrAlreadyExists.WithDetail("id", key.ID)
	}
	err := pkgerrors.ErrVersionConflict.
		WithDetail("id", key.ID).
		WithDetail("expected_version", expected)
	if actual >= 0 {
		err = err.WithDetail("actual_version", actual)
	}
	return err
}

// buildWrite computes the next version. Every successful mutation bumps
// the version, identical values included. A write over a soft-deleted
// object continues its version sequence.
func (s *Store) buildWrite(key Key, value map[string]interface{}, prev *ConfigObject) (*ConfigObject, *outbox.Entry) {
	now := time.Now().UTC()

	obj := &ConfigObject{
		TenantID:   key.TenantID,
		ConfigType: key.ConfigType,
		Context:    key.Context,
		ID:         key.ID,
		Value:      value,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	changeType := outbox.ChangeTypeCreated
	var prevValue map[string]interface{}
	if prev != nil {
		obj.Version = prev.Version + 1
		obj.CreatedAt = prev.CreatedAt
		changeType = outbox.ChangeTypeUpdated
		prevValue = prev.Value
	}

	entry := &outbox.Entry{
		EventID:       uuid.NewString(),
		PartitionKey:  key.PartitionKey(),
		TenantID:      key.TenantID,
		ConfigType:    key.ConfigType,
		Context:       key.Context,
		ResourceID:    key.ID,
		ChangeType:    changeType,
		Version:       obj.Version,
		PreviousValue: prevValue,
		CurrentValue:  value,
		CommittedAt:   now,
	}

	return obj, entry
}

// Get reads the object at the requested context, falling back to the
// global context when the requested one is absent. The most specific
// visible object wins.
func (s *Store) Get(ctx context.Context, key Key, includeDeleted bool) (*ConfigObject, error) {
	start := time.Now()
	key = key.Normalized()

	obj, err := s.backend.Read(ctx, key)
	if err != nil {
		metrics.ObserveConfigOperation("get", key.ConfigType, "error", time.Since(start))
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	if obj == nil || (obj.Deleted && !includeDeleted) {
		if key.Context != constants.DefaultContext {
			fallbackKey := key
			fallbackKey.Context = constants.DefaultContext
			obj, err = s.backend.Read(ctx, fallbackKey)
			if err != nil {
				metrics.ObserveConfigOperation("get", key.ConfigType, "error", time.Since(start))
				return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
			}
			if obj != nil && obj.Deleted && !includeDeleted {
				obj = nil
			}
		} else {
			obj = nil
		}
	}

	if obj == nil {
		metrics.ObserveConfigOperation("get", key.ConfigType, "not_found", time.Since(start))
		return nil, pkgerrors.ErrNotFound.WithDetail("id", key.ID)
	}

	metrics.ObserveConfigOperation("get", key.ConfigType, "success", time.Since(start))
	return obj, nil
}

func (s *Store) List(ctx context.Context, query ListQuery) ([]*ConfigObject, error) {
	if query.Limit <= 0 || query.Limit > constants.MaxLimit {
		query.Limit = constants.DefaultLimit
	}

	objects, err := s.backend.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return objects, nil
}

// ListContexts returns every context's object for one logical id,
// newest creation first.
func (s *Store) ListContexts(ctx context.Context, tenantID, configType, id string) ([]*ConfigObject, error) {
	objects, err := s.backend.ListContexts(ctx, tenantID, configType, id, false)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return objects, nil
}

// Delete soft-deletes the object. The document and its version history
// stay behind; default reads stop seeing it.
func (s *Store) Delete(ctx context.Context, req DeleteRequest) error {
	start := time.Now()
	key := req.Key.Normalized()

	if err := validateKey(key); err != nil {
		return err
	}

	var err error
	if req.ExpectedVersion != nil {
		err = s.deleteAttempt(ctx, key, req.ExpectedVersion)
	} else {
		err = retry.Retry(ctx, s.retryPolicy, func() error {
			attemptErr := s.deleteAttempt(ctx, key, nil)
			if attemptErr != nil && pkgerrors.IsVersionConflict(attemptErr) {
				// Lost a race with a concurrent writer, re-read and retry.
				return retry.NewRetryableError(attemptErr)
			}
			if attemptErr != nil {
				return retry.NewFatalError(attemptErr)
			}
			return nil
		})
		if err != nil {
			var retryable retry.RetryableError
			if errors.As(err, &retryable) {
				err = pkgerrors.ErrVersionConflict.
					WithDetail("id", key.ID).
					WithDetail("message", "write contention exhausted retries")
			}
		}
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ObserveConfigOperation("delete", key.ConfigType, status, time.Since(start))

	return err
}

func (s *Store) deleteAttempt(ctx context.Context, key Key, expected *int64) error {
	prev, err := s.backend.Read(ctx, key)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if prev == nil || prev.Deleted {
		return pkgerrors.ErrNotFound.WithDetail("id", key.ID)
	}

	if expected != nil && *expected != prev.Version {
		metrics.IncCASConflict(key.ConfigType, "pinned")
		return pkgerrors.ErrVersionConflict.
			WithDetail("id", key.ID).
			WithDetail("expected_version", *expected).
			WithDetail("actual_version", prev.Version)
	}

	now := time.Now().UTC()
	obj := *prev
	obj.Deleted = true
	obj.Version = prev.Version + 1
	obj.UpdatedAt = now

	entry := &outbox.Entry{
		EventID:       uuid.NewString(),
		PartitionKey:  key.PartitionKey(),
		TenantID:      key.TenantID,
		ConfigType:    key.ConfigType,
		Context:       key.Context,
		ResourceID:    key.ID,
		ChangeType:    outbox.ChangeTypeDeleted,
		Version:       obj.Version,
		PreviousValue: prev.Value,
		CommittedAt:   now,
	}

	if err := s.backend.CompareAndSwap(ctx, prev.Version, &obj, entry); err != nil {
		if errors.Is(err, ErrCASConflict) {
			mode := "blind"
			if expected != nil {
				mode = "pinned"
			}
			metrics.IncCASConflict(key.ConfigType, mode)
			return pkgerrors.ErrVersionConflict.WithDetail("id", key.ID)
		}
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.recordAudit(ctx, entry)
	return nil
}

func (s *Store) Healthy(ctx context.Context) error {
	return s.backend.Healthy(ctx)
}

func (s *Store) recordAudit(ctx context.Context, entry *outbox.Entry) {
	if s.audit == nil || entry == nil {
		return
	}

	rec := &AuditRecord{
		TenantID:      entry.TenantID,
		ConfigType:    entry.ConfigType,
		Context:       entry.Context,
		ResourceID:    entry.ResourceID,
		Action:        string(entry.ChangeType),
		ChangedBy:     getChangedBy(ctx),
		Version:       entry.Version,
		PreviousValue: entry.PreviousValue,
		CurrentValue:  entry.CurrentValue,
		OccurredAt:    entry.CommittedAt,
	}

	if err := s.audit.Record(ctx, rec); err != nil {
		metrics.IncAuditWrite("error")
		s.logger.WarnwCtx(ctx, "Failed to record audit entry",
			"error", err,
			"config_type", entry.ConfigType,
			"id", entry.ResourceID,
		)
		return
	}
	metrics.IncAuditWrite("success")
}

func validateKey(key Key) error {
	var violations []pkgerrors.FieldViolation
	if key.TenantID == "" {
		violations = append(violations, pkgerrors.FieldViolation{Field: "tenantId", Description: "tenant id is required"})
	}
	if key.ConfigType == "" {
		violations = append(violations, pkgerrors.FieldViolation{Field: "configType", Description: "config type is required"})
	}
	if key.ID == "" {
		violations = append(violations, pkgerrors.FieldViolation{Field: "id", Description: "id is required"})
	}
	if len(violations) > 0 {
		return pkgerrors.ErrValidation.WithViolations(violations)
	}
	return nil
}

func getChangedBy(ctx context.Context) string {
	if userID := logging.GetUserID(ctx); userID != "" {
		return userID
	}
	if tenantID := logging.GetTenantID(ctx); tenantID != "" {
		return tenantID
	}
	return "system"
}
