package cache

import (
	"strconv"
	"strings"
)

// Key identifies a cached item body.
type Key struct {
	// Namespace separates endpoints sharing one Redis (usually host:port).
	Namespace string

	// ItemID is the numeric item identifier.
	ItemID int
}

// String generates the Redis key.
// Format: harvest:item:<namespace>:<id>
//
// Example:
//
//	harvest:item:127.0.0.1:8000:42
func (k Key) String() string {
	parts := []string{"harvest", "item"}
	if ns := strings.Trim(k.Namespace, ":"); ns != "" {
		parts = append(parts, ns)
	}
	parts = append(parts, strconv.Itoa(k.ItemID))
	return strings.Join(parts, ":")
}
