package store

import (
	"context"
	"errors"

	"confhub/internal/outbox"
)

// ErrCASConflict reports that a compare-and-swap did not observe the
// expected version.
var ErrCASConflict = errors.New("version precondition failed")

// Backend is the document backend adapter for the config store. Read
// returns nil, nil when no document exists at the key.
type Backend interface {
	Read(ctx context.Context, key Key) (*ConfigObject, error)

	// CompareAndSwap writes obj and appends the outbox entry in one
	// transaction. expectedVersion 0 means "must not exist" (insert).
	// Returns ErrCASConflict when the precondition fails.
	CompareAndSwap(ctx context.Context, expectedVersion int64, obj *ConfigObject, entry *outbox.Entry) error

	List(ctx context.Context, query ListQuery) ([]*ConfigObject, error)

	// ListContexts returns every context's object for one logical id,
	// newest creation first.
	ListContexts(ctx context.Context, tenantID, configType, id string, includeDeleted bool) ([]*ConfigObject, error)

	Healthy(ctx context.Context) error
}
