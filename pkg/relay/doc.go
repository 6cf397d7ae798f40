// Package relay streams upstream provider responses back to clients.
//
// # Overview
//
// The relay opens a streaming Messages API request on behalf of a pool
// account and exposes the response as a pull-based event stream. Event
// payloads are forwarded byte-for-byte; the relay never re-serializes what
// the upstream sent. Usage extraction happens on the side: token counts are
// read out of message_start and message_delta events as they pass through,
// so a stream that dies mid-flight still yields the usage observed so far.
//
// # Timeouts
//
// Three independent bounds apply to every stream: a connect timeout until
// the response header arrives, an idle timeout between consecutive events,
// and a total timeout on the whole exchange. The idle and total watchdogs
// tear down the response body, which surfaces to the reader as
// ErrUpstreamTimeout.
package relay
