package tracker

import (
	"errors"
	"sync"
	"time"
)

// ErrStorageUnavailable is returned by stores that cannot be read or written.
var ErrStorageUnavailable = errors.New("tracker: storage unavailable")

// Store is a string key-value store with optional per-entry expiry. It stands
// in for browser sessionStorage (tab-scoped) and cookies (durable).
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or
	// has expired.
	Get(key string) (value string, ok bool, err error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(key, value string, ttl time.Duration) error
	// Delete removes the given keys. Missing keys are ignored.
	Delete(keys ...string) error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store. One MemoryStore per tab gives the
// tab-scoped session semantics of sessionStorage.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     Clock
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}
