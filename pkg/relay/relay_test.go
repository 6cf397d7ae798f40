package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/accounts"
)

const messageStartEvent = `event: message_start
data: {"type":"message_start","message":{"id":"msg_01","model":"claude-sonnet-4","usage":{"input_tokens":100,"cache_creation_input_tokens":7,"cache_read_input_tokens":3,"output_tokens":1}}}

`

const contentDeltaEvent = `event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}

`

const messageDeltaEvent = `event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":42}}

`

const messageStopEvent = `event: message_stop
data: {"type":"message_stop"}

`

func testAccount() *accounts.Account {
	return &accounts.Account{ID: "acct-1", AccessToken: "tok-abc"}
}

// sseServer streams the given chunks, optionally hanging up abruptly at the
// end instead of finishing the event stream.
func sseServer(t *testing.T, chunks []string, hangUp bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-abc" {
			t.Errorf("Authorization = %q", auth)
		}
		if version := r.Header.Get("anthropic-version"); version != apiVersion {
			t.Errorf("anthropic-version = %q", version)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			io.WriteString(w, chunk)
			flusher.Flush()
		}
		if hangUp {
			// Close the connection without a terminating event.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
		}
	}))
}

func openStream(t *testing.T, serverURL string, cfg Config) *Stream {
	t.Helper()
	cfg.MessagesURL = serverURL
	stream, err := New(cfg).Open(context.Background(), testAccount(), []byte(`{"model":"claude-sonnet-4","stream":true}`))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { stream.Close() })
	return stream
}

func TestStreamForwardsEventsVerbatim(t *testing.T) {
	server := sseServer(t, []string{messageStartEvent, contentDeltaEvent, messageDeltaEvent, messageStopEvent}, false)
	defer server.Close()

	stream := openStream(t, server.URL, Config{})
	ctx := context.Background()

	var raws []string
	for {
		event, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		raws = append(raws, string(event.Raw))
	}

	want := []string{messageStartEvent, contentDeltaEvent, messageDeltaEvent, messageStopEvent}
	if len(raws) != len(want) {
		t.Fatalf("got %d events, want %d", len(raws), len(want))
	}
	for i := range want {
		if raws[i] != want[i] {
			t.Errorf("event %d not forwarded verbatim:\ngot  %q\nwant %q", i, raws[i], want[i])
		}
	}

	if !stream.Completed() {
		t.Error("Completed() = false after message_stop")
	}
	usage := stream.Usage()
	if usage.InputTokens != 100 || usage.OutputTokens != 42 {
		t.Errorf("Usage() = %+v, want input 100 / output 42", usage)
	}
	if usage.CacheCreationTokens != 7 || usage.CacheReadTokens != 3 {
		t.Errorf("cache tokens = %d/%d, want 7/3", usage.CacheCreationTokens, usage.CacheReadTokens)
	}
	if usage.Model != "claude-sonnet-4" {
		t.Errorf("Model = %q", usage.Model)
	}
}

func TestStreamPartialUsageOnDisconnect(t *testing.T) {
	// Upstream reports 100 input tokens, sends two content chunks, then
	// drops the connection before any output count arrives.
	server := sseServer(t, []string{messageStartEvent, contentDeltaEvent, contentDeltaEvent}, true)
	defer server.Close()

	stream := openStream(t, server.URL, Config{})
	ctx := context.Background()

	var events int
	var finalErr error
	for {
		_, err := stream.Next(ctx)
		if err != nil {
			finalErr = err
			break
		}
		events++
	}

	if events != 3 {
		t.Fatalf("delivered %d events before failure, want 3", events)
	}
	var protoErr *ProtocolError
	if !errors.As(finalErr, &protoErr) {
		t.Fatalf("Next() final error = %v, want ProtocolError", finalErr)
	}
	if stream.Completed() {
		t.Error("Completed() = true on a truncated stream")
	}

	// The partial usage observed so far must survive the failure.
	usage := stream.Usage()
	if usage.InputTokens != 100 || usage.OutputTokens != 0 {
		t.Errorf("Usage() = %+v, want partial {input:100, output:0}", usage)
	}
}

func TestOpenMapsAuthFailure(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := New(Config{MessagesURL: server.URL}).Open(context.Background(), testAccount(), nil)
		if !errors.Is(err, ErrUpstreamAuthFailed) {
			t.Errorf("Open() with status %d error = %v, want ErrUpstreamAuthFailed", status, err)
		}
		server.Close()
	}
}

func TestOpenMapsRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := New(Config{MessagesURL: server.URL}).Open(context.Background(), testAccount(), nil)
	if !errors.Is(err, ErrUpstreamRateLimited) {
		t.Fatalf("Open() error = %v, want ErrUpstreamRateLimited", err)
	}
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RetryAfter != 30*time.Second {
		t.Fatalf("RetryAfter not parsed: %+v", err)
	}
}

func TestOpenMapsOtherStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "overloaded")
	}))
	defer server.Close()

	_, err := New(Config{MessagesURL: server.URL}).Open(context.Background(), testAccount(), nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Open() error = %v, want StatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || !strings.Contains(statusErr.Body, "overloaded") {
		t.Errorf("StatusError = %+v", statusErr)
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, messageStartEvent)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	stream := openStream(t, server.URL, Config{IdleTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	if _, err := stream.Next(ctx); err != nil {
		t.Fatalf("Next() first event error = %v", err)
	}

	// The upstream stalls; the idle watchdog must cut the stream.
	_, err := stream.Next(ctx)
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("Next() after stall error = %v, want ErrUpstreamTimeout", err)
	}
}

func TestStreamClientCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, messageStartEvent)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MessagesURL: server.URL}
	stream, err := New(cfg).Open(ctx, testAccount(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	if _, err := stream.Next(ctx); err != nil {
		t.Fatalf("Next() first event error = %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = stream.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Next() after cancel error = %v, want context.Canceled", err)
	}

	// Partial usage is still available after the disconnect.
	if usage := stream.Usage(); usage.InputTokens != 100 {
		t.Errorf("Usage() after cancel = %+v", usage)
	}
}

func TestEventScannerReassemblesSplitEvents(t *testing.T) {
	// One event delivered across several reads, plus a multi-line data
	// event and a comment line.
	input := "event: content_block_delta\ndata: {\"a\":1}\n\n" +
		": keep-alive\n\n" +
		"data: line-one\ndata: line-two\n\n"

	scanner := newEventScanner(strings.NewReader(input))

	first, err := scanner.next()
	if err != nil {
		t.Fatalf("next() error = %v", err)
	}
	if first.Type != "content_block_delta" || string(first.Data) != `{"a":1}` {
		t.Errorf("first event = %q / %q", first.Type, first.Data)
	}

	second, err := scanner.next()
	if err != nil {
		t.Fatalf("next() error = %v", err)
	}
	if second.Type != "" || string(second.Data) != "line-one\nline-two" {
		t.Errorf("second event = %q / %q", second.Type, second.Data)
	}

	if _, err := scanner.next(); err != io.EOF {
		t.Fatalf("next() at end = %v, want io.EOF", err)
	}
}
