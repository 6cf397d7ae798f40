// Package accounts manages the pool of upstream provider accounts and the
// lifecycle of their OAuth credentials.
//
// # Overview
//
// Each account holds an OAuth access/refresh token pair obtained through the
// PKCE authorization flow. The pool selects a healthy account for each
// request (least recently used first) and guarantees the handed-out access
// token is valid for at least a small safety margin.
//
// # Refresh coordination
//
// Token refresh is serialized per account with a store-held lock so that
// concurrent requests, and concurrent relay instances sharing one store,
// never race the single-use refresh token. The holder re-reads the account
// after acquiring the lock: if another holder already refreshed, the new
// token is used as-is and no upstream call is made.
//
// Timestamps for token expiry are millisecond epoch values, matching the
// upstream token endpoint's bookkeeping.
package accounts
