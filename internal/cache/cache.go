// Package cache bounds probe traffic with a TTL+LRU evidence cache.
//
// The cache is constructed once at process start and injected into the
// orchestrator and remediation service. Values are opaque bytes (callers
// marshal their own payloads), which keeps the memory and Redis backends
// interchangeable without touching business logic.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Key identifies one cached probe result.
type Key struct {
	ProbeType string
	Chain     string
	Address   string
}

// String renders the key in "probe:chain:address" form, lowercased.
func (k Key) String() string {
	return strings.ToLower(fmt.Sprintf("probe:%s:%s:%s", k.ProbeType, k.Chain, k.Address))
}

// Cache is the probe evidence cache. Writes are last-writer-wins per key.
type Cache interface {
	// Get returns the cached value and whether it was present and fresh.
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Set stores a value with the given TTL, replacing any prior entry.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key Key) error
}
