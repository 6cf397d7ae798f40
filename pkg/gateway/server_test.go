package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/keys"
)

func newTestServer(t *testing.T, upstream http.HandlerFunc) (*Server, *fixture) {
	t.Helper()
	f := newFixture(t, upstream)
	srv := NewServer(f.gateway, ServerConfig{
		ListenAddress:     ":0",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   time.Second,
	}, nil)
	return srv, f
}

func TestHandleMessagesStreamsResponse(t *testing.T) {
	srv, f := newTestServer(t, streamingUpstream(upstreamScript))
	_, credential := generateKey(t, f, keys.GenerateParams{Name: "web"})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4","stream":true}`))
	req.Header.Set("Authorization", "Bearer "+credential)
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if rr.Body.String() != upstreamScript {
		t.Error("response body is not the verbatim upstream stream")
	}
}

func TestHandleMessagesAcceptsAPIKeyHeader(t *testing.T) {
	srv, f := newTestServer(t, streamingUpstream(upstreamScript))
	_, credential := generateKey(t, f, keys.GenerateParams{Name: "sdk"})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4"}`))
	req.Header.Set("x-api-key", credential)
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandleMessagesErrorMapping(t *testing.T) {
	srv, f := newTestServer(t, streamingUpstream(upstreamScript))
	_, credential := generateKey(t, f, keys.GenerateParams{
		Name:                     "locked",
		ModelRestrictionsEnabled: true,
		AllowedModels:            []string{"claude-haiku-3"},
	})

	tests := []struct {
		name       string
		credential string
		body       string
		wantStatus int
		wantKind   string
	}{
		{"missing credential", "", `{}`, http.StatusUnauthorized, "authentication_error"},
		{"malformed credential", "sk-ant-nope", `{}`, http.StatusUnauthorized, "authentication_error"},
		{"unknown credential", "cr_000000000000000000000000000000000000000000000000", `{}`, http.StatusUnauthorized, "authentication_error"},
		{"model blocked", credential, `{"model":"claude-opus-4"}`, http.StatusForbidden, "permission_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(tt.body))
			if tt.credential != "" {
				req.Header.Set("Authorization", "Bearer "+tt.credential)
			}
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			var envelope struct {
				Type  string `json:"type"`
				Error struct {
					Type string `json:"type"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
				t.Fatalf("error body does not parse: %v", err)
			}
			if envelope.Type != "error" || envelope.Error.Type != tt.wantKind {
				t.Errorf("error envelope = %+v, want kind %q", envelope, tt.wantKind)
			}
		})
	}
}

func TestHandleMessagesRateLimitStatus(t *testing.T) {
	srv, f := newTestServer(t, streamingUpstream(upstreamScript))
	_, credential := generateKey(t, f, keys.GenerateParams{
		Name:              "throttled",
		RateLimitWindow:   time.Minute,
		RateLimitRequests: 1,
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4"}`))
		req.Header.Set("Authorization", "Bearer "+credential)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		return rr
	}

	if rr := send(); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}
	if rr := send(); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rr.Code)
	}
}

func TestHandleMessagesTerminalErrorEvent(t *testing.T) {
	// Upstream drops the connection mid-stream. The client already holds a
	// 200 and partial events, so the failure arrives as an SSE error event.
	partial := strings.Join(strings.SplitAfterN(upstreamScript, "\n\n", 3)[:2], "")
	srv, f := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, partial)
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	})
	_, credential := generateKey(t, f, keys.GenerateParams{Name: "web"})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4","stream":true}`))
	req.Header.Set("Authorization", "Bearer "+credential)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (headers were already sent)", rr.Code)
	}
	body := rr.Body.String()
	if !strings.HasPrefix(body, partial) {
		t.Error("forwarded events do not precede the error event")
	}
	if !strings.Contains(body, "event: error") {
		t.Errorf("no terminal error event in body:\n%s", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, streamingUpstream(upstreamScript))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ok") {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestGracefulShutdown(t *testing.T) {
	srv, _ := newTestServer(t, streamingUpstream(upstreamScript))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && err != http.ErrServerClosed {
			t.Fatalf("ListenAndServe() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
