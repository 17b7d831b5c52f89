package alerting

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultCacheTTL is how long an applicable-rule set is served from cache.
const DefaultCacheTTL = 60 * time.Second

// RuleCache holds compiled applicable-rule sets keyed by tenant and scope.
// Entries expire lazily on read; there is no janitor goroutine.
//
// Each tenant carries a generation that every invalidation bumps. A reader
// captures it before loading rules and stores the result with
// SetIfGeneration, so a load that raced an invalidation is dropped.
type RuleCache struct {
	c *cache.Cache

	mu      sync.Mutex
	gens    map[string]uint64
	flushes uint64
}

// NewRuleCache creates a cache whose entries live for ttl.
func NewRuleCache(ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RuleCache{c: cache.New(ttl, 0), gens: make(map[string]uint64)}
}

// cacheKey builds "tenant:farm:pond:sensor" with each part escaped so a
// colon inside an id cannot fake another tenant's prefix.
func cacheKey(tenantID, farmID, pondID, sensorID string) string {
	return tenantPrefix(tenantID) + url.QueryEscape(farmID) + ":" + url.QueryEscape(pondID) + ":" + url.QueryEscape(sensorID)
}

func tenantPrefix(tenantID string) string {
	return url.QueryEscape(tenantID) + ":"
}

// Get returns the cached rules for key.
func (rc *RuleCache) Get(key string) ([]*Rule, bool) {
	v, ok := rc.c.Get(key)
	if !ok {
		return nil, false
	}
	rules, ok := v.([]*Rule)
	return rules, ok
}

// Set stores rules under key with the default TTL.
func (rc *RuleCache) Set(key string, rules []*Rule) {
	rc.c.SetDefault(key, rules)
}

// Generation returns the current invalidation generation of tenantID.
func (rc *RuleCache) Generation(tenantID string) uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.gens[tenantID] + rc.flushes
}

// SetIfGeneration stores rules under key unless tenantID was invalidated
// since gen was read. It reports whether the rules were stored.
func (rc *RuleCache) SetIfGeneration(tenantID string, gen uint64, key string, rules []*Rule) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.gens[tenantID]+rc.flushes != gen {
		return false
	}
	rc.c.SetDefault(key, rules)
	return true
}

// InvalidateTenant drops every entry of tenantID and returns how many were removed.
func (rc *RuleCache) InvalidateTenant(tenantID string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.gens[tenantID]++
	prefix := tenantPrefix(tenantID)
	removed := 0
	for key := range rc.c.Items() {
		if strings.HasPrefix(key, prefix) {
			rc.c.Delete(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of unexpired entries.
func (rc *RuleCache) Len() int {
	return len(rc.c.Items())
}

// Flush empties the cache.
func (rc *RuleCache) Flush() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.flushes++
	rc.c.Flush()
}
