// Package store defines the key-value state store that all cross-request
// coordination goes through.
//
// # Overview
//
// Callisto may run as several gateway instances sharing one store, so every
// counter, lock, and record that more than one request can touch lives here
// rather than behind an in-process mutex. The interface is deliberately
// narrow: plain get/set/delete, hash fields with atomic increments,
// counters with TTLs, prefix scans, and a lock primitive.
//
// # Backends
//
//   - RedisStore: the production backend, built on go-redis. Locks are
//     implemented as SET NX PX with an owner token that is compared on
//     release, so an expired holder cannot release a lock that has since
//     been reacquired by someone else.
//   - MemoryStore: a single-process backend with the same semantics,
//     used in tests and single-node deployments.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package store
