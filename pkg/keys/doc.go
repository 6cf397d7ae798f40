// Package keys implements the client-side policy engine: credential
// validation and per-key limit enforcement.
//
// # Overview
//
// Every inbound request presents an opaque credential ("cr_" + random
// suffix). The package validates it against stored key records, then
// enforces the key's policy before any upstream call is made:
//
//   - model and client allow-lists
//   - concurrency cap (atomic slot reservation)
//   - request-rate window with optional in-window cost cap
//   - daily / total / weekly-Opus cost ceilings
//
// Credentials are never stored or looked up in plaintext; records are
// indexed by a SHA-256 hash of the full credential string.
//
// # Enforcement ordering
//
// Authorize applies checks in a fixed order and the concurrency increment
// is the only read-modify-write that must be atomic: it is implemented as
// an unconditional atomic increment followed by a cap check, with a
// compensating decrement on rejection. All later checks release the slot
// before failing, so a rejected request never leaks a reservation.
//
// # Counters
//
// Usage counters are plain additive store counters bucketed by date, so
// commits from concurrent requests may land in any order without changing
// the aggregate. Rate windows are fixed-window by default; a sliding mode
// weighs the previous window's bucket by its remaining overlap.
package keys
