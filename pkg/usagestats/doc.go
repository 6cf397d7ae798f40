// Package usagestats keeps the durable per-request usage log.
//
// The live counters the policy engine enforces against live in the state
// store; this package is the reporting side: one SQLite row per relayed
// request, queryable per key and per account, with scheduled retention
// pruning. Losing a row here never affects enforcement.
package usagestats
