package store

import (
	"context"
	"errors"
	"time"
)

// Error values returned by store implementations.
var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrNotLockOwner is returned when releasing a lock held by another owner.
	ErrNotLockOwner = errors.New("store: not lock owner")
)

// Store is the set of primitives the gateway core consumes.
//
// A TTL of zero means the key never expires. Increments are atomic with
// respect to concurrent callers on the same backend; callers rely on this
// for concurrency slots, rate windows, and usage counters.
type Store interface {
	// Get returns the string value for key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with an optional TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// HGetAll returns all fields of the hash at key.
	// Returns an empty map (not an error) if the hash does not exist.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HGet returns a single hash field. Returns ErrNotFound if the field
	// or the hash is absent.
	HGet(ctx context.Context, key, field string) (string, error)

	// HSet writes the given fields into the hash at key, creating it if
	// needed. Fields not mentioned are left untouched.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HDel removes fields from the hash at key.
	HDel(ctx context.Context, key string, fields ...string) error

	// IncrBy atomically adds delta to the integer counter at key and
	// returns the new value. A missing key counts as zero.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// HIncrBy atomically adds delta to an integer hash field and returns
	// the new value.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// HIncrByFloat atomically adds delta to a float hash field and returns
	// the new value.
	HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error)

	// Expire sets a TTL on an existing key. No-op if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining TTL for key, or a negative duration if the
	// key has no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Scan returns all keys beginning with prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// AcquireLock attempts to take the lock at key for owner with the given
	// TTL. Returns false without error if the lock is held by someone else.
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// ReleaseLock releases the lock at key if owner still holds it.
	// Returns ErrNotLockOwner if the lock expired and was reacquired by
	// another owner, so the caller never stomps a lock it lost.
	ReleaseLock(ctx context.Context, key, owner string) error

	// Close releases resources held by the backend.
	Close() error
}
