package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"mercator-hq/callisto/pkg/accounts"
)

// Upstream Messages API identity.
const (
	defaultMessagesURL = "https://api.anthropic.com/v1/messages"
	apiVersion         = "2023-06-01"

	// betaHeader marks the request as coming from an OAuth session rather
	// than an API key.
	betaHeader = "oauth-2025-04-20"

	userAgent = "claude-cli/1.0.56 (external, cli)"
)

// Config bounds a relayed exchange.
type Config struct {
	// MessagesURL overrides the upstream endpoint, for tests.
	MessagesURL string `yaml:"messages_url"`

	// ConnectTimeout bounds the wait for the upstream response header.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// IdleTimeout bounds the gap between consecutive stream events.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// TotalTimeout bounds the whole exchange.
	TotalTimeout time.Duration `yaml:"total_timeout"`
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.MessagesURL == "" {
		c.MessagesURL = defaultMessagesURL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 10 * time.Minute
	}
	return c
}

// UsageEvent is the token usage observed on a stream so far. Counts from
// message_delta events are cumulative, so the latest observation wins.
type UsageEvent struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64

	// Model is the model name the upstream reported in message_start.
	Model string
}

// Relay opens streaming exchanges against the upstream Messages API.
type Relay struct {
	cfg Config
}

// New creates a relay with the given bounds.
func New(cfg Config) *Relay {
	return &Relay{cfg: cfg.withDefaults()}
}

// Open sends the client's request body upstream under the account's
// credentials and returns the response as a pull-based stream.
//
// The body is forwarded verbatim. Cancelling ctx tears the stream down.
func (r *Relay) Open(ctx context.Context, account *accounts.Account, body []byte) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.MessagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay: building upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("User-Agent", userAgent)

	client, err := r.clientFor(account)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("relay: upstream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("%w (status %d)", ErrUpstreamAuthFailed, resp.StatusCode)
		case http.StatusTooManyRequests:
			return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		default:
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(detail)}
		}
	}

	stream := &Stream{
		body:       resp.Body,
		scanner:    newEventScanner(resp.Body),
		idlePeriod: r.cfg.IdleTimeout,
	}

	// The watchdogs close the response body; the blocked read then fails
	// and Next maps it to ErrUpstreamTimeout.
	stream.idle = time.AfterFunc(r.cfg.IdleTimeout, stream.timeout)
	stream.total = time.AfterFunc(r.cfg.TotalTimeout, stream.timeout)
	return stream, nil
}

// clientFor builds the HTTP client for an account, honoring its proxy. The
// client carries no overall timeout; stream lifetime is bounded by the
// watchdogs.
func (r *Relay) clientFor(account *accounts.Account) (*http.Client, error) {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: r.cfg.ConnectTimeout}).DialContext,
		ResponseHeaderTimeout: r.cfg.ConnectTimeout,
	}
	if account.Proxy != nil {
		proxyURL, err := account.Proxy.URL()
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport}, nil
}

// Stream is one in-flight upstream exchange.
type Stream struct {
	body    io.ReadCloser
	scanner *eventScanner

	idle       *time.Timer
	total      *time.Timer
	idlePeriod time.Duration

	timedOut  atomic.Bool
	usage     UsageEvent
	completed bool
	closed    bool
}

// Next returns the next upstream event. It returns io.EOF after the
// terminal message_stop event, ErrUpstreamTimeout if a watchdog fired, and
// a ProtocolError if the stream ends without reaching message_stop.
func (s *Stream) Next(ctx context.Context) (*Event, error) {
	if s.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	event, err := s.scanner.next()
	if err != nil {
		if s.timedOut.Load() {
			return nil, ErrUpstreamTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == io.EOF {
			if s.completed {
				return nil, io.EOF
			}
			return nil, &ProtocolError{Detail: "stream ended before message_stop", Cause: io.ErrUnexpectedEOF}
		}
		return nil, &ProtocolError{Detail: "reading stream", Cause: err}
	}

	s.idle.Reset(s.idlePeriod)
	s.observe(event)
	return event, nil
}

// observe extracts usage from the events that carry it. Extraction is
// best-effort: a payload gjson cannot read is forwarded anyway.
func (s *Stream) observe(event *Event) {
	switch event.Type {
	case "message_start":
		usage := gjson.GetBytes(event.Data, "message.usage")
		if usage.Exists() {
			s.usage.InputTokens = usage.Get("input_tokens").Int()
			s.usage.CacheCreationTokens = usage.Get("cache_creation_input_tokens").Int()
			s.usage.CacheReadTokens = usage.Get("cache_read_input_tokens").Int()
		}
		if model := gjson.GetBytes(event.Data, "message.model"); model.Exists() {
			s.usage.Model = model.String()
		}
	case "message_delta":
		if out := gjson.GetBytes(event.Data, "usage.output_tokens"); out.Exists() {
			s.usage.OutputTokens = out.Int()
		}
	case "message_stop":
		s.completed = true
	}
}

// Usage returns the token usage observed so far. Valid at any point,
// including after a mid-stream failure.
func (s *Stream) Usage() UsageEvent {
	return s.usage
}

// Completed reports whether the stream reached message_stop.
func (s *Stream) Completed() bool {
	return s.completed
}

// Close releases the stream. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.idle.Stop()
	s.total.Stop()
	return s.body.Close()
}

// timeout is the watchdog callback.
func (s *Stream) timeout() {
	if s.timedOut.CompareAndSwap(false, true) {
		slog.Warn("stream watchdog fired, closing upstream body")
		_ = s.body.Close()
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
