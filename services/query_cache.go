package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dashboard-knowledge-engine/internal/logger"
	"dashboard-knowledge-engine/models"
)

// AnswerCache stores generated answers keyed by the exact trimmed query
// string. No fuzzy or semantic key matching: textually different queries
// never share an entry. Entries are deliberately decoupled from index
// freshness — an answer may cite chunks deleted within the TTL window.
type AnswerCache interface {
	Get(ctx context.Context, query string) (*models.CachedAnswer, bool)
	Put(ctx context.Context, query string, answer *models.CachedAnswer)
}

// MemoryAnswerCache is an in-process TTL cache with lazy eviction: an
// expired entry is treated as a miss and silently overwritten on the next
// write. Last write wins on key collision.
type MemoryAnswerCache struct {
	mu      sync.RWMutex
	entries map[string]models.CachedAnswer
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryAnswerCache(ttl time.Duration) *MemoryAnswerCache {
	return &MemoryAnswerCache{
		entries: make(map[string]models.CachedAnswer),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryAnswerCache) Get(_ context.Context, query string) (*models.CachedAnswer, bool) {
	key := strings.TrimSpace(query)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.StoredAt) > c.ttl {
		return nil, false
	}
	return &entry, true
}

func (c *MemoryAnswerCache) Put(_ context.Context, query string, answer *models.CachedAnswer) {
	key := strings.TrimSpace(query)
	stored := *answer
	if stored.StoredAt.IsZero() {
		stored.StoredAt = c.now()
	}
	c.mu.Lock()
	c.entries[key] = stored
	c.mu.Unlock()
}

// RedisAnswerCache keeps answers in Redis so they survive restarts and are
// shared across replicas. The TTL rides on SETEX; reads past expiry are
// misses by construction. Redis being down degrades to cache misses rather
// than failing the query path.
type RedisAnswerCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisAnswerCache(rdb *redis.Client, ttl time.Duration) *RedisAnswerCache {
	return &RedisAnswerCache{rdb: rdb, ttl: ttl}
}

// answerKey hashes the exact trimmed query to bound key length. Exact-match
// semantics are preserved because the hash input is the exact string.
func answerKey(query string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return "kb:answer:" + hex.EncodeToString(sum[:])
}

func (c *RedisAnswerCache) Get(ctx context.Context, query string) (*models.CachedAnswer, bool) {
	raw, err := c.rdb.Get(ctx, answerKey(query)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("answer cache read failed", "error", err)
		}
		return nil, false
	}
	var entry models.CachedAnswer
	if err := json.Unmarshal(raw, &entry); err != nil {
		logger.Warn("answer cache entry corrupt, treating as miss", "error", err)
		return nil, false
	}
	return &entry, true
}

func (c *RedisAnswerCache) Put(ctx context.Context, query string, answer *models.CachedAnswer) {
	stored := *answer
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		logger.Warn("answer cache marshal failed", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, answerKey(query), raw, c.ttl).Err(); err != nil {
		logger.Warn("answer cache write failed", "error", err)
	}
}
