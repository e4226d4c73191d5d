// Package memory implements kv.Store with an in-process map. Intended for
// unit testing and development; atomicity comes from a single mutex, which
// gives the same linearizable semantics the Redis backend provides via
// server-side scripts.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/lumenlabs/relayq/kv"
)

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is a fully in-memory implementation of kv.Store.
// Safe for concurrent access.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	// now is swappable for expiry tests.
	now func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock replaces the store's clock. Test use only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns the value stored at key, treating expired entries as absent.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil, false, nil
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, true, nil
}

// SetNX stores value only if key is absent (or expired).
func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) != nil {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

// Set unconditionally stores value at key.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl)
	return nil
}

// Delete removes key unconditionally.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// CompareAndDelete removes key only if its current value equals expected.
func (s *Store) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// CompareAndExpire extends the expiry of key only if its current value
// equals expected.
func (s *Store) CompareAndExpire(_ context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return true, nil
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// live returns the entry at key if present and unexpired, evicting it
// lazily otherwise. Caller must hold mu.
func (s *Store) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// put stores value at key. Caller must hold mu.
func (s *Store) put(key string, value []byte, ttl time.Duration) {
	cp := make([]byte, len(value))
	copy(cp, value)
	e := &entry{value: cp}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}
