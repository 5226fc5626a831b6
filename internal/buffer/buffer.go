// Package buffer layers the two ephemeral keyspaces of the memory core on
// the cache backend: the short-term recall cache and the write buffer that
// absorbs writes while the authoritative store is down.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kari-ai/kari-core/internal/domain"
)

const (
	cachePrefix  = "kari:mem:"
	bufferPrefix = "kari:mem:buffer:"

	// ShortTermTTL bounds how long recall entries live in the cache tier.
	ShortTermTTL = 30 * time.Minute
	// BufferTTL bounds buffer growth; expired writes are lost and logged.
	BufferTTL = 1 * time.Hour

	// maxCachedEntries caps the per-user short-term list.
	maxCachedEntries = 50
)

// CacheKey is the short-term cache key for a tenant/user pair.
func CacheKey(tenantID, userID string) string {
	return fmt.Sprintf("%s%s:%s", cachePrefix, tenantID, userID)
}

// BufferKey is the write-buffer key for one parked entry.
func BufferKey(tenantID, userID string, ts time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d", bufferPrefix, tenantID, userID, ts.UnixNano())
}

// BufferPrefix returns the scan prefix covering the whole buffer keyspace.
func BufferPrefix() string { return bufferPrefix }

// ShortTermCache keeps the most recent entries per tenant/user and serves
// them late in the recall ladder. It implements the uniform adapter
// contract so the orchestrator can treat it like any other tier.
type ShortTermCache struct {
	kv domain.KeyValueStore

	// storeMu serializes the get/prepend/set in Store so concurrent
	// writers cannot overwrite each other's entry. In-process only;
	// writers in other processes still race on the same key.
	storeMu sync.Mutex
}

func NewShortTermCache(kv domain.KeyValueStore) *ShortTermCache {
	return &ShortTermCache{kv: kv}
}

func (c *ShortTermCache) Kind() domain.AdapterKind { return domain.AdapterCache }

func (c *ShortTermCache) Recall(ctx context.Context, tenantID, userID, query string, limit int) ([]domain.RecalledEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	raw, err := c.kv.Get(ctx, CacheKey(tenantID, userID))
	if err != nil {
		if err == domain.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var entries []domain.MemoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode cached entries: %w", err)
	}

	now := time.Now()
	needle := strings.ToLower(query)
	var results []domain.RecalledEntry
	for _, e := range entries {
		if needle != "" && !strings.Contains(strings.ToLower(e.Query), needle) {
			continue
		}
		e.SourceKind = domain.SourceCache
		results = append(results, domain.RecalledEntry{
			MemoryEntry: e,
			Score:       1,
			Source:      domain.SourceCache,
			RecalledAt:  now,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Store prepends the entry to the per-user list, refreshing the TTL.
// Read-after-write is consistent within the TTL window.
func (c *ShortTermCache) Store(ctx context.Context, entry *domain.MemoryEntry) (string, error) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	key := CacheKey(entry.TenantID, entry.UserID)

	var entries []domain.MemoryEntry
	if raw, err := c.kv.Get(ctx, key); err == nil {
		_ = json.Unmarshal([]byte(raw), &entries)
	} else if err != domain.ErrKeyNotFound {
		return "", err
	}

	entries = append([]domain.MemoryEntry{*entry}, entries...)
	if len(entries) > maxCachedEntries {
		entries = entries[:maxCachedEntries]
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode cached entries: %w", err)
	}
	if err := c.kv.Set(ctx, key, string(raw), ShortTermTTL); err != nil {
		return "", err
	}
	return key, nil
}

func (c *ShortTermCache) Health(ctx context.Context) domain.Health {
	return c.kv.Health(ctx)
}

// WriteBuffer parks writes in the cache backend while the authoritative
// store is unreachable. Each parked entry is self-contained: the
// reconciler can reconstruct the upsert from the payload alone.
type WriteBuffer struct {
	kv domain.KeyValueStore
}

func NewWriteBuffer(kv domain.KeyValueStore) *WriteBuffer {
	return &WriteBuffer{kv: kv}
}

// Park stores the entry under its buffer key with the buffer TTL.
func (b *WriteBuffer) Park(ctx context.Context, entry *domain.MemoryEntry) (string, error) {
	key := BufferKey(entry.TenantID, entry.UserID, entry.Timestamp)

	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode buffered entry: %w", err)
	}
	if err := b.kv.Set(ctx, key, string(raw), BufferTTL); err != nil {
		return "", err
	}
	return key, nil
}

// Keys returns all buffer keys in lexicographic order, the order the
// reconciler drains in.
func (b *WriteBuffer) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Scan(ctx, bufferPrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Load deserializes one parked entry.
func (b *WriteBuffer) Load(ctx context.Context, key string) (*domain.MemoryEntry, error) {
	raw, err := b.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var entry domain.MemoryEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("decode buffered entry %s: %w", key, err)
	}
	return &entry, nil
}

// Remove deletes a drained key.
func (b *WriteBuffer) Remove(ctx context.Context, key string) error {
	return b.kv.Delete(ctx, key)
}

// Health reports the backing store's health.
func (b *WriteBuffer) Health(ctx context.Context) domain.Health {
	return b.kv.Health(ctx)
}
