package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested item was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis     *redis.Client
	namespace string
	ttl       time.Duration
}

// NewManager creates a cache manager. Keys are scoped by namespace; entries
// expire after ttl (0 keeps them forever).
func NewManager(redisClient *redis.Client, namespace string, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:     redisClient,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (m *Manager) key(id int) string {
	return Key{Namespace: m.namespace, ItemID: id}.String()
}

// Get retrieves the cached body of item id.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, id int) ([]byte, error) {
	entry, err := m.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// GetEntry retrieves the cache entry of item id.
func (m *Manager) GetEntry(ctx context.Context, id int) (*Entry, error) {
	data, err := m.redis.Get(ctx, m.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, id)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores the body of item id with the manager's TTL.
func (m *Manager) Set(ctx context.Context, id int, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("cache body cannot be empty")
	}

	now := time.Now()
	entry := Entry{Data: body, CachedAt: now}
	if m.ttl > 0 {
		entry.Expires = now.Add(m.ttl)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	// redis treats 0 as "no expiry"
	if err := m.redis.Set(ctx, m.key(id), data, m.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.Add(float64(len(data)))
	return nil
}

// Delete removes the cache entry of item id.
func (m *Manager) Delete(ctx context.Context, id int) error {
	if err := m.redis.Del(ctx, m.key(id)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}
