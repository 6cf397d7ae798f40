package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation.
//
// It mirrors the Redis backend's semantics closely enough that the policy
// and account packages behave identically against either: expired entries
// read as absent, increments are atomic, and locks carry owner tokens.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]*memoryEntry
	hashes  map[string]*memoryHash
	locks   map[string]*memoryLock
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type memoryHash struct {
	fields    map[string]string
	expiresAt time.Time
}

type memoryLock struct {
	owner     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]*memoryEntry),
		hashes:  make(map[string]*memoryHash),
		locks:   make(map[string]*memoryLock),
	}
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (h *memoryHash) expired(now time.Time) bool {
	return !h.expiresAt.IsZero() && now.After(h.expiresAt)
}

// Get returns the value for key, honoring expiry.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.strings[key]
	if !ok || entry.expired(time.Now()) {
		delete(m.strings, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set stores value under key with an optional TTL.
func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.strings[key] = entry
	return nil
}

// Delete removes the given keys from all namespaces.
func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.strings, key)
		delete(m.hashes, key)
	}
	return nil
}

// HGetAll returns a copy of the hash at key, or an empty map.
func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash, ok := m.hashes[key]
	if !ok || hash.expired(time.Now()) {
		delete(m.hashes, key)
		return map[string]string{}, nil
	}

	out := make(map[string]string, len(hash.fields))
	for k, v := range hash.fields {
		out[k] = v
	}
	return out, nil
}

// HGet returns a single field of the hash at key.
func (m *MemoryStore) HGet(ctx context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash, ok := m.hashes[key]
	if !ok || hash.expired(time.Now()) {
		delete(m.hashes, key)
		return "", ErrNotFound
	}
	value, ok := hash.fields[field]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// HSet merges fields into the hash at key.
func (m *MemoryStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := m.hashLocked(key)
	for k, v := range fields {
		hash.fields[k] = v
	}
	return nil
}

// HDel removes fields from the hash at key.
func (m *MemoryStore) HDel(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(hash.fields, f)
	}
	return nil
}

// IncrBy adds delta to the counter at key and returns the new value.
func (m *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.strings[key]
	if !ok || entry.expired(now) {
		entry = &memoryEntry{value: "0"}
		m.strings[key] = entry
	}

	current, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, err
	}
	current += delta
	entry.value = strconv.FormatInt(current, 10)
	return current, nil
}

// HIncrBy adds delta to an integer hash field and returns the new value.
func (m *MemoryStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := m.hashLocked(key)
	current, err := strconv.ParseInt(zeroIfEmpty(hash.fields[field]), 10, 64)
	if err != nil {
		return 0, err
	}
	current += delta
	hash.fields[field] = strconv.FormatInt(current, 10)
	return current, nil
}

// HIncrByFloat adds delta to a float hash field and returns the new value.
func (m *MemoryStore) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := m.hashLocked(key)
	current, err := strconv.ParseFloat(zeroIfEmpty(hash.fields[field]), 64)
	if err != nil {
		return 0, err
	}
	current += delta
	hash.fields[field] = strconv.FormatFloat(current, 'f', -1, 64)
	return current, nil
}

// Expire sets a TTL on key. No-op if key is absent.
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deadline := time.Now().Add(ttl)
	if entry, ok := m.strings[key]; ok {
		entry.expiresAt = deadline
	}
	if hash, ok := m.hashes[key]; ok {
		hash.expiresAt = deadline
	}
	return nil
}

// TTL returns the remaining TTL for key, or -1 if absent or persistent.
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if entry, ok := m.strings[key]; ok && !entry.expired(now) && !entry.expiresAt.IsZero() {
		return entry.expiresAt.Sub(now), nil
	}
	if hash, ok := m.hashes[key]; ok && !hash.expired(now) && !hash.expiresAt.IsZero() {
		return hash.expiresAt.Sub(now), nil
	}
	return -1, nil
}

// Scan returns all live keys with the given prefix.
func (m *MemoryStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var keys []string
	for key, entry := range m.strings {
		if strings.HasPrefix(key, prefix) && !entry.expired(now) {
			keys = append(keys, key)
		}
	}
	for key, hash := range m.hashes {
		if strings.HasPrefix(key, prefix) && !hash.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// AcquireLock takes the lock at key if free or expired.
func (m *MemoryStore) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if lock, ok := m.locks[key]; ok && now.Before(lock.expiresAt) {
		return false, nil
	}
	m.locks[key] = &memoryLock{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLock releases the lock at key if owner still holds it.
func (m *MemoryStore) ReleaseLock(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[key]
	if !ok || time.Now().After(lock.expiresAt) {
		delete(m.locks, key)
		return nil
	}
	if lock.owner != owner {
		return ErrNotLockOwner
	}
	delete(m.locks, key)
	return nil
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error {
	return nil
}

// hashLocked returns the live hash at key, creating it if needed.
// Caller must hold the mutex.
func (m *MemoryStore) hashLocked(key string) *memoryHash {
	hash, ok := m.hashes[key]
	if !ok || hash.expired(time.Now()) {
		hash = &memoryHash{fields: make(map[string]string)}
		m.hashes[key] = hash
	}
	return hash
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
