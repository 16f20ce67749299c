// Package requests provides the pending-request cache used by every
// outbound call: a TTL-bounded value cache for reads, plus collapsing
// of concurrent identical requests into a single underlying call.
//
// The two concerns are deliberately separate maps. Collapsing serves
// callers racing at the same moment; the TTL cache serves reuse across
// time. A collapsed call's result is not implicitly cached — callers
// decide what to memoize via Set.
package requests

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when a Cache is constructed with a non-positive TTL.
const DefaultTTL = 30 * time.Second

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	flight     singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// NewCache creates a cache with the given default TTL.
func NewCache(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached value for key if present and unexpired.
// Expired entries are evicted lazily here; there is no background sweep.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// InvalidatePrefix evicts every key starting with prefix and returns
// the number of entries removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidatePattern evicts every key matching the regular expression
// and returns the number of entries removed.
func (c *Cache) InvalidatePattern(re *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if re.MatchString(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Deduplicate collapses concurrent calls for the same key into one
// invocation of fn: callers that arrive while a call is in flight block
// on and share its result (including its error). Once the call settles
// the key is forgotten, so the next caller performs a fresh call. An
// error never poisons future calls.
func (c *Cache) Deduplicate(key string, fn func() (any, error)) (any, error) {
	v, err, _ := c.flight.Do(key, fn)
	return v, err
}
