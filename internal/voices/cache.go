// Package voices provides a TTL-cached view over a voice directory so hot
// voices are not re-read from the store for every chunk.
package voices

import (
	"context"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCacheSize bounds the number of cached voices.
	DefaultCacheSize = 256
	// DefaultCacheTTL bounds how long a cached voice may be served. Voice
	// deletion becomes visible after at most one TTL.
	DefaultCacheTTL = 5 * time.Minute
)

// CachedDirectory is an explicit keyed TTL store wrapped around another
// directory, injected wherever voice lookups happen.
type CachedDirectory struct {
	inner core.VoiceDirectory
	cache *expirable.LRU[string, *core.Voice]
}

// NewCachedDirectory wraps inner with an expiring LRU. Non-positive size or
// ttl select the defaults.
func NewCachedDirectory(inner core.VoiceDirectory, size int, ttl time.Duration) *CachedDirectory {
	if size <= 0 {
		size = DefaultCacheSize
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &CachedDirectory{
		inner: inner,
		cache: expirable.NewLRU[string, *core.Voice](size, nil, ttl),
	}
}

// Voice resolves a voice, serving from cache when fresh. Lookup failures are
// not cached; a voice that appears later is picked up immediately.
func (d *CachedDirectory) Voice(ctx context.Context, id string) (*core.Voice, error) {
	if voice, ok := d.cache.Get(id); ok {
		return voice, nil
	}

	voice, err := d.inner.Voice(ctx, id)
	if err != nil {
		return nil, err
	}

	d.cache.Add(id, voice)

	return voice, nil
}
