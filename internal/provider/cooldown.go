package provider

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cooldowns tracks providers that recently failed. Entries expire on their own.
type Cooldowns struct {
	cache *cache.Cache
	ttl   time.Duration
}

type cooldownEntry struct {
	Reason string
}

// NewCooldowns creates a tracker whose entries last ttl.
func NewCooldowns(ttl time.Duration) *Cooldowns {
	return &Cooldowns{cache: cache.New(ttl, 10*time.Minute), ttl: ttl}
}

// Block puts name on cool-down. A non-positive ttl disables cool-downs.
func (c *Cooldowns) Block(name, reason string) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.cache.Set(name, cooldownEntry{Reason: reason}, c.ttl)
}

// Active reports whether name is cooling down, why, and until when.
func (c *Cooldowns) Active(name string) (string, time.Time, bool) {
	if c == nil {
		return "", time.Time{}, false
	}
	value, expires, ok := c.cache.GetWithExpiration(name)
	if !ok {
		return "", time.Time{}, false
	}
	entry, _ := value.(cooldownEntry)
	return entry.Reason, expires, true
}

// Clear lifts a cool-down early.
func (c *Cooldowns) Clear(name string) {
	if c != nil {
		c.cache.Delete(name)
	}
}

// Snapshot returns every active cool-down keyed by provider with its expiry.
func (c *Cooldowns) Snapshot() map[string]time.Time {
	out := map[string]time.Time{}
	if c == nil {
		return out
	}
	for name, item := range c.cache.Items() {
		out[name] = time.Unix(0, item.Expiration)
	}
	return out
}
