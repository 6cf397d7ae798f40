// Package gateway ties policy enforcement, account selection, and the
// stream relay into the client-facing request path.
//
// One request flows: credential validation, policy authorization (taking a
// concurrency slot), account selection and token freshness, the upstream
// stream relayed verbatim to the client, then usage commit and slot
// release. Usage observed before a mid-stream failure is committed exactly
// like a completed request's.
package gateway
