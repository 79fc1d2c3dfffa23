package rediskit

import "fmt"

// Key naming conventions for Redis keys.
// All keys follow the pattern: {namespace}:{entity}:{id}:{field}
//
// Example: "jam:room:abc123:dirty" marks room abc123 as pending sync.

const (
	// KeyNamespace is the prefix for all keys.
	KeyNamespace = "jam"
)

// SyncPendingKey returns the key of the set holding room IDs whose durable
// sync failed and must be retried.
func SyncPendingKey() string {
	return fmt.Sprintf("%s:sync:pending", KeyNamespace)
}

// PopularTagsKey returns the key caching the popular-tags listing.
func PopularTagsKey() string {
	return fmt.Sprintf("%s:tags:popular", KeyNamespace)
}
