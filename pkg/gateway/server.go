package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mercator-hq/callisto/pkg/accounts"
	"mercator-hq/callisto/pkg/keys"
	"mercator-hq/callisto/pkg/relay"
)

// maxRequestBody bounds the client request body read into memory.
const maxRequestBody = 10 << 20

// ServerConfig configures the client-facing listener.
type ServerConfig struct {
	ListenAddress     string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server is the client-facing HTTP front end.
type Server struct {
	gateway *Gateway
	cfg     ServerConfig
	httpSrv *http.Server
}

// NewServer builds the HTTP server. metricsHandler may be nil to disable
// the /metrics endpoint.
func NewServer(gw *Gateway, cfg ServerConfig, metricsHandler http.Handler) *Server {
	s := &Server{gateway: gw, cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleMessages)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// No write timeout: streams are long-lived and bounded by the
		// relay's own watchdogs.
	}
	return s
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "address", s.cfg.ListenAddress)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// Handler exposes the mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleMessages relays one Messages API request. The response is an SSE
// stream forwarded verbatim; once the first byte is written, errors can
// only terminate the stream, not change the status code.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	credential := bearerCredential(r)
	if credential == "" {
		writeError(w, http.StatusUnauthorized, "authentication_error", "missing credentials")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
		return
	}

	var headersSent bool
	sink := func(raw []byte) error {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// r.Context() is cancelled when the client disconnects, which tears
	// down the upstream stream too.
	_, err = s.gateway.Execute(r.Context(), Request{
		Credential: credential,
		ClientID:   clientID(r),
		Body:       body,
	}, sink)

	if err != nil {
		if headersSent {
			// The stream is already underway; the only option left is a
			// terminal SSE error event.
			_, kind := classifyError(err)
			writeStreamError(w, flusher, kind, err.Error())
			return
		}
		status, kind := classifyError(err)
		writeError(w, status, kind, err.Error())
	}
}

// writeStreamError appends a terminal error event to an in-progress SSE
// response.
func writeStreamError(w http.ResponseWriter, flusher http.Flusher, kind, message string) {
	payload, err := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    kind,
			"message": message,
		},
	})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

// bearerCredential pulls the client credential from the Authorization or
// x-api-key header.
func bearerCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}

// clientID identifies the calling application for client restrictions.
func clientID(r *http.Request) string {
	if id := r.Header.Get("x-client-id"); id != "" {
		return id
	}
	return r.Header.Get("User-Agent")
}

// classifyError maps gateway errors onto HTTP statuses and the upstream's
// error taxonomy.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, keys.ErrInvalidFormat),
		errors.Is(err, keys.ErrNotFound):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, keys.ErrDisabled),
		errors.Is(err, keys.ErrExpired),
		errors.Is(err, keys.ErrModelNotAllowed),
		errors.Is(err, keys.ErrClientNotAllowed):
		return http.StatusForbidden, "permission_error"
	case errors.Is(err, keys.ErrConcurrencyLimitExceeded),
		errors.Is(err, keys.ErrRateLimitExceeded),
		errors.Is(err, keys.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "rate_limit_error"
	case errors.Is(err, accounts.ErrNoHealthyAccount):
		return http.StatusServiceUnavailable, "overloaded_error"
	case errors.Is(err, relay.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "api_error"
	default:
		return http.StatusBadGateway, "api_error"
	}
}

// writeError renders an error response in the upstream's error envelope so
// existing client SDKs parse it unchanged.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload := map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    kind,
			"message": message,
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("failed to write error response", "error", err)
	}
}
