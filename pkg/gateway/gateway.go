package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"mercator-hq/callisto/pkg/accounts"
	"mercator-hq/callisto/pkg/keys"
	"mercator-hq/callisto/pkg/relay"
	"mercator-hq/callisto/pkg/telemetry/metrics"
	"mercator-hq/callisto/pkg/usagestats"
)

// defaultRateLimitPenalty sidelines an account after an upstream 429 with
// no Retry-After hint.
const defaultRateLimitPenalty = time.Minute

// cleanupTimeout bounds the commit and slot-release writes that run after
// the stream ends.
const cleanupTimeout = 5 * time.Second

// cleanupContext detaches the commit/release path from the client's
// cancellation. A disconnected client must not leak the concurrency slot
// or drop usage that was already observed.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// EventSink receives raw upstream event bytes for forwarding. A sink error
// means the client is gone; the stream is torn down.
type EventSink func(raw []byte) error

// Gateway executes relayed requests end to end.
type Gateway struct {
	keys     *keys.Service
	pool     *accounts.Pool
	relay    *relay.Relay
	pricer   keys.Pricer
	usageLog *usagestats.Store
	metrics  *metrics.Metrics
}

// New assembles a gateway. pricer, usageLog, and m may be nil.
func New(keySvc *keys.Service, pool *accounts.Pool, r *relay.Relay, pricer keys.Pricer, usageLog *usagestats.Store, m *metrics.Metrics) *Gateway {
	return &Gateway{
		keys:     keySvc,
		pool:     pool,
		relay:    r,
		pricer:   pricer,
		usageLog: usageLog,
		metrics:  m,
	}
}

// Request is one client request to relay.
type Request struct {
	// Credential is the presented client credential.
	Credential string

	// ClientID identifies the client application, from the request
	// headers. May be empty.
	ClientID string

	// Body is the raw request body, forwarded verbatim upstream.
	Body []byte
}

// Result describes a finished relay.
type Result struct {
	// Usage is the token usage committed against the key.
	Usage keys.Usage

	// Completed is false when the stream failed mid-flight.
	Completed bool

	// AccountID is the pool account that served the request.
	AccountID string
}

// Execute relays one request. Events are pushed to sink as they arrive.
// The concurrency slot is released on every exit path, and any usage
// observed before a failure is committed.
func (g *Gateway) Execute(ctx context.Context, req Request, sink EventSink) (*Result, error) {
	started := time.Now()
	model := gjson.GetBytes(req.Body, "model").String()

	rec, _, err := g.keys.Validate(ctx, req.Credential)
	if err != nil {
		g.observe(model, "rejected", started)
		return nil, err
	}

	lease, err := g.keys.Authorize(ctx, rec, keys.RequestContext{
		Model:    model,
		ClientID: req.ClientID,
	})
	if err != nil {
		g.observe(model, "rejected", started)
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := cleanupContext(ctx)
		defer cancel()
		lease.Release(releaseCtx)
	}()

	stream, account, err := g.openUpstream(ctx, rec, req.Body)
	if err != nil {
		g.observe(model, "upstream_error", started)
		return nil, err
	}
	defer stream.Close()

	if g.metrics != nil {
		g.metrics.StreamStarted()
		defer g.metrics.StreamFinished()
	}

	var streamErr error
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if err != io.EOF {
				streamErr = err
			}
			break
		}
		if err := sink(event.Raw); err != nil {
			streamErr = fmt.Errorf("gateway: client write failed: %w", err)
			break
		}
	}

	result := &Result{
		Usage:     usageFromStream(stream, model),
		Completed: stream.Completed(),
		AccountID: account.ID,
	}

	// Commit whatever was observed, even for a truncated stream. Counters
	// are additive; a partial commit never corrupts them. The write runs
	// detached from ctx because the client may already be gone.
	commitCtx, cancelCommit := cleanupContext(ctx)
	g.commit(commitCtx, rec, account, result)
	cancelCommit()

	if streamErr != nil {
		g.observe(model, "stream_error", started)
		slog.Warn("stream ended abnormally",
			"key_id", rec.ID,
			"account_id", account.ID,
			"error", streamErr,
		)
		return result, streamErr
	}

	if err := g.pool.MarkSuccess(ctx, account.ID); err != nil {
		slog.Warn("failed to record account success", "account_id", account.ID, "error", err)
	}
	g.observe(model, "ok", started)
	return result, nil
}

// openUpstream selects an account, ensures its token is fresh, and opens
// the stream. On an upstream auth failure or a terminal refresh rejection
// it retries once on a different account.
func (g *Gateway) openUpstream(ctx context.Context, rec *keys.Record, body []byte) (*relay.Stream, *accounts.Account, error) {
	var exclude []string

	for attempt := 0; attempt < 2; attempt++ {
		account, err := g.pool.SelectExcluding(ctx, exclude...)
		if err != nil {
			return nil, nil, err
		}

		account, err = g.pool.EnsureFresh(ctx, account.ID)
		if err != nil {
			g.observeRefresh("failure")
			if errors.Is(err, accounts.ErrRefreshFailed) {
				// Terminal: the account is already sidelined, try another.
				exclude = append(exclude, account.ID)
				continue
			}
			return nil, nil, err
		}

		stream, err := g.relay.Open(ctx, account, body)
		if err == nil {
			return stream, account, nil
		}

		switch {
		case errors.Is(err, relay.ErrUpstreamAuthFailed):
			if markErr := g.pool.MarkFailure(ctx, account.ID); markErr != nil {
				slog.Warn("failed to record auth failure", "account_id", account.ID, "error", markErr)
			}
			exclude = append(exclude, account.ID)
			continue
		case errors.Is(err, relay.ErrUpstreamRateLimited):
			var rateErr *relay.RateLimitError
			penalty := defaultRateLimitPenalty
			if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
				penalty = rateErr.RetryAfter
			}
			if markErr := g.pool.MarkRateLimited(ctx, account.ID, time.Now().Add(penalty)); markErr != nil {
				slog.Warn("failed to record rate limit", "account_id", account.ID, "error", markErr)
			}
			exclude = append(exclude, account.ID)
			continue
		default:
			return nil, nil, err
		}
	}

	return nil, nil, accounts.ErrNoHealthyAccount
}

// commit folds the stream's observed usage into the key counters and the
// durable request log.
func (g *Gateway) commit(ctx context.Context, rec *keys.Record, account *accounts.Account, result *Result) {
	usage := result.Usage
	if err := g.keys.CommitUsage(ctx, rec, usage); err != nil {
		slog.Error("usage commit failed", "key_id", rec.ID, "error", err)
	}

	if g.metrics != nil {
		g.metrics.ObserveTokens(usage.Model, usage.InputTokens, usage.OutputTokens,
			usage.CacheCreationTokens, usage.CacheReadTokens)
	}

	if g.usageLog != nil {
		var cost float64
		if g.pricer != nil {
			cost = g.pricer.Cost(usage.Model, usage)
		}
		err := g.usageLog.Record(ctx, usagestats.Entry{
			KeyID:               rec.ID,
			AccountID:           account.ID,
			Model:               usage.Model,
			InputTokens:         usage.InputTokens,
			OutputTokens:        usage.OutputTokens,
			CacheCreationTokens: usage.CacheCreationTokens,
			CacheReadTokens:     usage.CacheReadTokens,
			Cost:                cost,
			Completed:           result.Completed,
		})
		if err != nil {
			slog.Warn("usage log write failed", "key_id", rec.ID, "error", err)
		}
	}
}

func (g *Gateway) observe(model, status string, started time.Time) {
	if g.metrics != nil {
		g.metrics.ObserveRequest(model, status, time.Since(started))
	}
}

func (g *Gateway) observeRefresh(outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveRefresh(outcome)
	}
}

func usageFromStream(stream *relay.Stream, fallbackModel string) keys.Usage {
	observed := stream.Usage()
	model := observed.Model
	if model == "" {
		model = fallbackModel
	}
	return keys.Usage{
		InputTokens:         observed.InputTokens,
		OutputTokens:        observed.OutputTokens,
		CacheCreationTokens: observed.CacheCreationTokens,
		CacheReadTokens:     observed.CacheReadTokens,
		Model:               model,
	}
}
