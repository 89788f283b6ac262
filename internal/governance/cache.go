package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is applied when a caller writes back a snapshot without an
// explicit TTL.
const DefaultCacheTTL = 300 * time.Second

// MaturitySnapshot is the cached view of an agent's governance state.
type MaturitySnapshot struct {
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	CachedAt   time.Time `json:"cached_at"`
}

// Cache stores maturity snapshots keyed by workspace and agent, avoiding an
// agent-store read on every trigger. Backend failures must be reported as
// misses: the interception path falls through to the agent store.
type Cache interface {
	Get(ctx context.Context, workspaceID, agentID string) (*MaturitySnapshot, bool, error)
	Set(ctx context.Context, workspaceID, agentID string, snap *MaturitySnapshot, ttl time.Duration) error
}

func cacheKey(workspaceID, agentID string) string {
	return fmt.Sprintf("steward:gov:%s:%s", workspaceID, agentID)
}

// MemoryCache is a mutex-guarded in-process cache with a background janitor.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	snap      MaturitySnapshot
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory governance cache. The janitor sweeps
// expired entries every cleanupPeriod; zero disables sweeping (expired
// entries are still rejected on read).
func NewMemoryCache(cleanupPeriod time.Duration) *MemoryCache {
	c := &MemoryCache{entries: make(map[string]memoryEntry)}
	if cleanupPeriod > 0 {
		go c.cleanupLoop(cleanupPeriod)
	}
	return c
}

// Get returns the cached snapshot if present and not expired.
func (c *MemoryCache) Get(ctx context.Context, workspaceID, agentID string) (*MaturitySnapshot, bool, error) {
	key := cacheKey(workspaceID, agentID)

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	snap := entry.snap
	return &snap, true, nil
}

// Set stores a snapshot with the given TTL.
func (c *MemoryCache) Set(ctx context.Context, workspaceID, agentID string, snap *MaturitySnapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	c.mu.Lock()
	c.entries[cacheKey(workspaceID, agentID)] = memoryEntry{
		snap:      *snap,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for key, entry := range c.entries {
			if now.After(entry.expiresAt) {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}

// RedisCache stores snapshots in Redis so governance state survives process
// restarts and is shared across instances.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis-backed governance cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get fetches and decodes a snapshot. Backend errors are returned as a
// CacheError alongside a miss so callers can degrade to the agent store.
func (c *RedisCache) Get(ctx context.Context, workspaceID, agentID string) (*MaturitySnapshot, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(workspaceID, agentID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &CacheError{Op: "get", Err: err}
	}

	var snap MaturitySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt entry, treat as miss so it gets rewritten.
		log.Printf("[GovernanceCache] Warning: dropping corrupt entry for agent %s: %v", agentID, err)
		return nil, false, nil
	}
	return &snap, true, nil
}

// Set encodes and stores a snapshot with the given TTL.
func (c *RedisCache) Set(ctx context.Context, workspaceID, agentID string, snap *MaturitySnapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return &CacheError{Op: "set", Err: err}
	}
	if err := c.client.Set(ctx, cacheKey(workspaceID, agentID), data, ttl).Err(); err != nil {
		return &CacheError{Op: "set", Err: err}
	}
	return nil
}
