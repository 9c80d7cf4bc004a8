// Package limiter tracks per-server question quotas and per-user cooldowns.
// All state is in memory and lives as long as the process.
package limiter

import "sync"

// Quota counts accepted questions per guild.
type Quota struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewQuota creates an empty quota tracker.
func NewQuota() *Quota {
	return &Quota{counts: make(map[string]int)}
}

// Count returns the number of accepted questions for the guild (0 if unseen).
func (q *Quota) Count(guildID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[guildID]
}

// Exhausted reports whether the guild has used up its limit of questions.
func (q *Quota) Exhausted(guildID string, limit int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[guildID] >= limit
}

// IncrementAndCheck rejects (returns true) when the count is already at limit;
// otherwise it counts one more question and returns false.
func (q *Quota) IncrementAndCheck(guildID string, limit int) (rejected bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.counts[guildID] >= limit {
		return true
	}
	q.counts[guildID]++
	return false
}

// Reset zeroes the guild's counter. Callers check permissions.
func (q *Quota) Reset(guildID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counts[guildID] = 0
}

// Guilds returns the number of guilds with a counter.
func (q *Quota) Guilds() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.counts)
}
