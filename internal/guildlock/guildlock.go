// Package guildlock serializes AI invocations per guild while letting
// different guilds run in parallel.
package guildlock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

type guildLock struct {
	sem     *semaphore.Weighted
	waiting atomic.Int64
}

// Locks holds one lock per guild. Locks are created on first use and kept
// for the life of the process.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*guildLock
}

// New creates an empty lock table.
func New() *Locks {
	return &Locks{locks: make(map[string]*guildLock)}
}

func (l *Locks) get(guildID string) *guildLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	gl, ok := l.locks[guildID]
	if !ok {
		gl = &guildLock{sem: semaphore.NewWeighted(1)}
		l.locks[guildID] = gl
	}
	return gl
}

// Ensure creates the guild's lock if it does not exist yet.
func (l *Locks) Ensure(guildID string) {
	l.get(guildID)
}

// WithLock runs fn while holding the guild's lock. Callers queue in FIFO
// order with no acquisition timeout; the only way out of the queue is ctx
// being cancelled, in which case fn does not run and ctx.Err() is returned.
// The lock is released however fn exits, panics included.
func (l *Locks) WithLock(ctx context.Context, guildID string, fn func(ctx context.Context) error) error {
	gl := l.get(guildID)

	gl.waiting.Add(1)
	acquireErr := gl.sem.Acquire(ctx, 1)
	gl.waiting.Add(-1)
	if acquireErr != nil {
		return fmt.Errorf("guild %s lock: %w", guildID, acquireErr)
	}
	defer gl.sem.Release(1)

	return fn(ctx)
}

// Waiting returns how many callers are queued for the guild's lock.
func (l *Locks) Waiting(guildID string) int {
	l.mu.Lock()
	gl, ok := l.locks[guildID]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return int(gl.waiting.Load())
}

// Len returns the number of guild locks created so far.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
