package rules

import (
	"context"
	"sync"
	"time"

	"confhub/internal/constants"
	"confhub/internal/logger"
	"confhub/internal/store"
	pkgerrors "confhub/pkg/errors"
	"confhub/pkg/metrics"
)

// Service evaluates label rules against request attributes. Rules are
// loaded from the config store and cached per tenant with a TTL, so a
// rule change becomes visible within one cache period.
type Service struct {
	store    *store.Store
	cacheTTL time.Duration
	logger   logger.Logger

	mu    sync.RWMutex
	cache map[string]*snapshot
}

type snapshot struct {
	rules    []*Rule
	loadedAt time.Time
}

func NewService(st *store.Store, cacheTTL time.Duration, log logger.Logger) *Service {
	if cacheTTL <= 0 {
		cacheTTL = constants.DefaultRuleCacheTTL
	}
	return &Service{
		store:    st,
		cacheTTL: cacheTTL,
		logger:   log,
		cache:    make(map[string]*snapshot),
	}
}

func (s *Service) EvaluateLabels(ctx context.Context, tenantID string, attributes map[string]interface{}) (map[string]string, error) {
	start := time.Now()

	rules, err := s.loadRules(ctx, tenantID)
	if err != nil {
		metrics.ObserveRuleEvaluation("error", time.Since(start))
		return nil, err
	}

	labels, err := Evaluate(rules, attributes)
	if err != nil {
		metrics.ObserveRuleEvaluation("error", time.Since(start))
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	metrics.ObserveRuleEvaluation("success", time.Since(start))
	return labels, nil
}

func (s *Service) ListRules(ctx context.Context, tenantID string) ([]*Rule, error) {
	return s.loadRules(ctx, tenantID)
}

// Invalidate drops the cached snapshot so the next evaluation reloads.
func (s *Service) Invalidate(tenantID string) {
	s.mu.Lock()
	delete(s.cache, tenantID)
	s.mu.Unlock()
}

func (s *Service) loadRules(ctx context.Context, tenantID string) ([]*Rule, error) {
	s.mu.RLock()
	snap, ok := s.cache[tenantID]
	s.mu.RUnlock()

	if ok && time.Since(snap.loadedAt) < s.cacheTTL {
		return snap.rules, nil
	}

	objects, err := s.store.List(ctx, store.ListQuery{
		TenantID:   tenantID,
		ConfigType: constants.ConfigTypeLabelApplicationRule,
		Limit:      constants.MaxLimit,
	})
	if err != nil {
		// Serve the stale snapshot over failing the evaluation.
		if ok {
			s.logger.WarnwCtx(ctx, "Rule reload failed, serving stale snapshot",
				"error", err,
				"tenant_id", tenantID,
			)
			return snap.rules, nil
		}
		return nil, err
	}

	rules := make([]*Rule, 0, len(objects))
	enabled := 0
	for _, obj := range objects {
		rule, err := FromConfigObject(obj)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Skipping undecodable rule",
				"error", err,
				"rule_id", obj.ID,
			)
			continue
		}
		rules = append(rules, rule)
		if rule.Enabled {
			enabled++
		}
	}

	metrics.SetActiveRules(tenantID, enabled)

	s.mu.Lock()
	s.cache[tenantID] = &snapshot{rules: rules, loadedAt: time.Now()}
	s.mu.Unlock()

	return rules, nil
}
