package cache

import "time"

// Entry is a cached item body.
type Entry struct {
	// Data is the response body exactly as received.
	Data []byte `json:"data"`

	// CachedAt is when the body was stored.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale. Zero means never.
	Expires time.Time `json:"expires,omitempty"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration, 0 when expired and -1 when the
// entry never expires.
func (e *Entry) TTL() time.Duration {
	if e.Expires.IsZero() {
		return -1
	}
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
