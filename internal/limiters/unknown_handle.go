package limiters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultUnknownHandleThreshold = 3
	defaultUnknownHandleLockout   = 30 * time.Minute
	defaultUnknownHandleIdle      = 24 * time.Hour
	defaultMemoryHandleEntries    = 10000
	unknownHandleKeyPrefix        = "login:unknown:"
)

// HandleFailures is the running failure tally of a handle that has no account
type HandleFailures struct {
	Count int
	// LockedUntil is set once Count reaches the threshold
	LockedUntil time.Time
}

// Locked reports whether the tally has reached the lockout state
func (f HandleFailures) Locked() bool {
	return !f.LockedUntil.IsZero()
}

// UnknownHandleConfig mirrors the account lockout policy.
// Idle is how long a tally below the threshold survives after its first failure.
type UnknownHandleConfig struct {
	Threshold int
	Lockout   time.Duration
	Idle      time.Duration
}

func (c UnknownHandleConfig) withDefaults() UnknownHandleConfig {
	if c.Threshold <= 0 {
		c.Threshold = defaultUnknownHandleThreshold
	}
	if c.Lockout <= 0 {
		c.Lockout = defaultUnknownHandleLockout
	}
	if c.Idle <= 0 {
		c.Idle = defaultUnknownHandleIdle
	}
	return c
}

// UnknownHandleCounter keeps failure tallies for unknown handles in Redis so
// every API instance answers with the same countdown
type UnknownHandleCounter struct {
	redis redis.UniversalClient
	cfg   UnknownHandleConfig
}

// NewUnknownHandleCounter creates a Redis-backed counter
func NewUnknownHandleCounter(client redis.UniversalClient, cfg UnknownHandleConfig) *UnknownHandleCounter {
	return &UnknownHandleCounter{redis: client, cfg: cfg.withDefaults()}
}

// RecordFailure counts one failed login for handle at now
func (c *UnknownHandleCounter) RecordFailure(ctx context.Context, handle string, now time.Time) (HandleFailures, error) {
	count, ttl, err := bump(ctx, c.redis, hashedKey(unknownHandleKeyPrefix, handle),
		c.cfg.Idle, int64(c.cfg.Threshold), c.cfg.Lockout)
	if err != nil {
		return HandleFailures{}, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	f := HandleFailures{Count: int(count)}
	if f.Count >= c.cfg.Threshold {
		if ttl <= 0 {
			ttl = c.cfg.Lockout
		}
		f.LockedUntil = now.Add(ttl)
	}
	return f, nil
}

type handleEntry struct {
	count       int
	lockedUntil time.Time
	expiresAt   time.Time
}

// MemoryHandleCounter is the single-process counterpart of UnknownHandleCounter,
// used when no Redis is configured. It holds at most a fixed number of handles.
type MemoryHandleCounter struct {
	mu         sync.Mutex
	cfg        UnknownHandleConfig
	entries    map[string]*handleEntry
	maxEntries int
}

// NewMemoryHandleCounter creates an in-process counter
func NewMemoryHandleCounter(cfg UnknownHandleConfig) *MemoryHandleCounter {
	return &MemoryHandleCounter{
		cfg:        cfg.withDefaults(),
		entries:    make(map[string]*handleEntry),
		maxEntries: defaultMemoryHandleEntries,
	}
}

// RecordFailure counts one failed login for handle at now
func (c *MemoryHandleCounter) RecordFailure(ctx context.Context, handle string, now time.Time) (HandleFailures, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[handle]
	if !ok || !now.Before(e.expiresAt) {
		if !ok && len(c.entries) >= c.maxEntries {
			c.evict(now)
		}
		e = &handleEntry{expiresAt: now.Add(c.cfg.Idle)}
		c.entries[handle] = e
	}

	e.count++
	if e.count == c.cfg.Threshold {
		e.lockedUntil = now.Add(c.cfg.Lockout)
		e.expiresAt = e.lockedUntil
	}
	return HandleFailures{Count: e.count, LockedUntil: e.lockedUntil}, nil
}

// evict drops expired tallies, then arbitrary ones until there is room
func (c *MemoryHandleCounter) evict(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	for k := range c.entries {
		if len(c.entries) < c.maxEntries {
			return
		}
		delete(c.entries, k)
	}
}
