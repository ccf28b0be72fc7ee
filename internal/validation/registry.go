package validation

import (
	"context"
	"sync"
)

// TypeValidator checks the payload of one config type.
type TypeValidator interface {
	Validate(ctx context.Context, value map[string]interface{}) error
}

// Registry dispatches payload validation by config type. Types without
// a registered validator accept any payload.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]TypeValidator
}

func NewRegistry() *Registry {
	return &Registry{
		validators: make(map[string]TypeValidator),
	}
}

func (r *Registry) Register(configType string, v TypeValidator) {
	r.mu.Lock()
	r.validators[configType] = v
	r.mu.Unlock()
}

func (r *Registry) Validate(ctx context.Context, configType string, value map[string]interface{}) error {
	r.mu.RLock()
	v, ok := r.validators[configType]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return v.Validate(ctx, value)
}
