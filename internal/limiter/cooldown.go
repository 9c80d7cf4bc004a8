package limiter

import (
	"sync"
	"time"
)

type cooldownKey struct {
	guildID string
	userID  string
}

// Cooldowns enforces a minimum interval between accepted questions of one
// user in one guild. It is a plain "one request per window" check with no
// burst allowance.
type Cooldowns struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

// NewCooldowns creates an empty cooldown tracker.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{last: make(map[cooldownKey]time.Time)}
}

// Allow reports whether the user may ask at now. When allowed, now becomes
// the user's last ask time. A user never seen before is always allowed.
func (c *Cooldowns) Allow(guildID, userID string, now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cooldownKey{guildID: guildID, userID: userID}
	if last, ok := c.last[key]; ok && now.Sub(last) < window {
		return false
	}
	c.last[key] = now
	return true
}

// RetryAfter returns how long the user still has to wait (0 if allowed now).
func (c *Cooldowns) RetryAfter(guildID, userID string, now time.Time, window time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[cooldownKey{guildID: guildID, userID: userID}]
	if !ok {
		return 0
	}
	if wait := window - now.Sub(last); wait > 0 {
		return wait
	}
	return 0
}

// Prune forgets entries whose window has elapsed and returns how many were
// removed. A pruned entry behaves exactly like a missing one.
func (c *Cooldowns) Prune(now time.Time, window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, last := range c.last {
		if now.Sub(last) >= window {
			delete(c.last, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked (guild, user) pairs.
func (c *Cooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
