package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Memo is a process-wide memoization cache for expensive pipeline results
// (transcripts, summaries). Entries are addressed by content fingerprint and
// expire after a TTL; when the cache is full the oldest entry is evicted.
// It is never persisted and never shared across processes.
type Memo struct {
	mu       sync.Mutex
	entries  map[string]entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type entry struct {
	value    string
	storedAt time.Time
}

func New(capacity int, ttl time.Duration) *Memo {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memo{
		entries:  make(map[string]entry, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the cached value for key. Entries past their TTL are treated as
// absent and dropped.
func (m *Memo) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if m.now().Sub(e.storedAt) > m.ttl {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

// Put stores value under key, evicting the oldest entry first when the cache
// is at capacity.
func (m *Memo) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.capacity {
		m.evictOldest()
	}
	m.entries[key] = entry{value: value, storedAt: m.now()}
}

func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evictOldest removes the entry with the earliest insertion time. Callers must
// hold mu.
func (m *Memo) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range m.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

// Fingerprint derives a stable cache key from the given parts. The key depends
// only on content, never on the session requesting it, so identical media
// processed under different sessions share entries.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
