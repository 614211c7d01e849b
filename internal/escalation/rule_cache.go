package escalation

import (
	"context"
	"strings"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/jellydator/ttlcache/v3"
)

type rulesLoader func(ctx context.Context, planID string, severity domain.Severity) ([]*domain.EscalationRule, error)

// ruleCache caches rule lists per plan and severity. Rule writes invalidate
// every entry of the plan. A non-positive TTL disables caching.
type ruleCache struct {
	cache *ttlcache.Cache[string, []*domain.EscalationRule]
	load  rulesLoader
}

func newRuleCache(ttl time.Duration, load rulesLoader) *ruleCache {
	c := &ruleCache{load: load}
	if ttl > 0 {
		c.cache = ttlcache.New(
			ttlcache.WithTTL[string, []*domain.EscalationRule](ttl),
			ttlcache.WithDisableTouchOnHit[string, []*domain.EscalationRule](),
		)
	}
	return c
}

func ruleCacheKey(planID string, severity domain.Severity) string {
	return planID + "/" + string(severity)
}

func (c *ruleCache) get(ctx context.Context, planID string, severity domain.Severity) ([]*domain.EscalationRule, error) {
	if c.cache == nil {
		return c.load(ctx, planID, severity)
	}

	key := ruleCacheKey(planID, severity)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	rules, err := c.load(ctx, planID, severity)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, rules, ttlcache.DefaultTTL)
	return rules, nil
}

func (c *ruleCache) invalidate(planID string) {
	if c.cache == nil {
		return
	}
	prefix := planID + "/"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
}
