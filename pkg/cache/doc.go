// Package cache stores raw item bodies in Redis so a repeated harvest of the
// same endpoint can skip the network for ids it has already seen.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, "127.0.0.1:8000", 24*time.Hour)
//
//	body, err := manager.Get(ctx, 42)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the endpoint, then manager.Set(ctx, 42, body)
//	}
//
// Only bodies of successful responses are cached. Entries expire after the
// configured TTL; a zero TTL keeps them until they are deleted.
//
// # Metrics
//
//   - harvest_cache_hits_total
//   - harvest_cache_misses_total
//   - harvest_cache_size_bytes
//   - harvest_cache_errors_total{operation}
package cache
