package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/turnbridge/turnbridge/adminauth"
	metrics "github.com/turnbridge/turnbridge/metrics/prometheus"
	"github.com/turnbridge/turnbridge/ratelimit"
	"github.com/turnbridge/turnbridge/registry"
)

func newTestIssuer(t *testing.T) *adminauth.Issuer {
	t.Helper()
	return adminauth.NewIssuer([]byte("test-signing-key"), time.Minute)
}

func newTestServer(opts ...Option) (*Server, *httptest.Server) {
	reg := registry.New(registry.Options{
		MaxSessions:      10,
		HandshakeTimeout: 2 * time.Second,
		TurnTimeout:      2 * time.Second,
	})
	srv := NewServer(reg, nil, opts...)
	ts := httptest.NewServer(srv.Handler())
	return srv, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsHandshakeThenTurn(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp := postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
			Model:    "sess-1|A",
			Messages: []ChatMessage{{Role: "user", Content: "hello from A"}},
		})
		done <- resp
	}()

	time.Sleep(50 * time.Millisecond)

	bDone := make(chan *http.Response, 1)
	go func() {
		resp := postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
			Model:    "sess-1|B",
			Messages: []ChatMessage{{Role: "user", Content: "hello from B"}},
		})
		bDone <- resp
	}()

	// B's first request completes A's handshake; A's own handshake content
	// is discarded, never forwarded.
	aResp := <-done
	defer aResp.Body.Close()
	if aResp.StatusCode != http.StatusOK {
		t.Fatalf("A's handshake: expected 200, got %d", aResp.StatusCode)
	}
	var aPayload ChatCompletionResponse
	if err := json.NewDecoder(aResp.Body).Decode(&aPayload); err != nil {
		t.Fatalf("decode A response: %v", err)
	}
	if aPayload.Choices[0].Message.Content != "hello from B" {
		t.Fatalf("A should receive B's content, got %q", aPayload.Choices[0].Message.Content)
	}

	// A's next turn completes B's wait.
	go postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
		Model:    "sess-1|A",
		Messages: []ChatMessage{{Role: "user", Content: "turn from A"}},
	})

	bResp := <-bDone
	defer bResp.Body.Close()
	if bResp.StatusCode != http.StatusOK {
		t.Fatalf("B's first turn: expected 200, got %d", bResp.StatusCode)
	}
	var bPayload ChatCompletionResponse
	if err := json.NewDecoder(bResp.Body).Decode(&bPayload); err != nil {
		t.Fatalf("decode B response: %v", err)
	}
	if bPayload.Choices[0].Message.Content != "turn from A" {
		t.Fatalf("B should receive A's next turn, got %q", bPayload.Choices[0].Message.Content)
	}
}

func TestChatCompletionsRejectsEmptyMessages(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	resp := postJSON(t, ts, "/v1/chat/completions", map[string]any{
		"model":    "sess-2",
		"messages": []any{},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty messages, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsRejectsMissingModel(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	resp := postJSON(t, ts, "/v1/chat/completions", map[string]any{
		"messages": []ChatMessage{{Role: "user", Content: "hi"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing model, got %d", resp.StatusCode)
	}
	var body ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Type != ErrTypeInvalidRequest {
		t.Fatalf("expected invalid_request_error, got %q", body.Error.Type)
	}
}

func TestAnthropicMessagesHandshakeThenTurn(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp := postJSON(t, ts, "/v1/messages", AnthropicRequest{
			Model:     "sess-3|A",
			Messages:  []AnthropicMessage{{Role: "user", Content: "hi from A"}},
			MaxTokens: 100,
		})
		done <- resp
	}()

	time.Sleep(50 * time.Millisecond)

	bDone := make(chan *http.Response, 1)
	go func() {
		resp := postJSON(t, ts, "/v1/messages", AnthropicRequest{
			Model:     "sess-3|B",
			Messages:  []AnthropicMessage{{Role: "user", Content: "hi from B"}},
			MaxTokens: 100,
		})
		bDone <- resp
	}()

	// A's handshake content is never forwarded: A receives B's content.
	aResp := <-done
	defer aResp.Body.Close()
	if aResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for A's handshake, got %d", aResp.StatusCode)
	}
	var aPayload AnthropicResponse
	if err := json.NewDecoder(aResp.Body).Decode(&aPayload); err != nil {
		t.Fatalf("decode A response: %v", err)
	}
	if aPayload.Content[0].Text != "hi from B" {
		t.Fatalf("expected counterpart content from B, got %q", aPayload.Content[0].Text)
	}

	// A's next turn completes B's wait.
	go postJSON(t, ts, "/v1/messages", AnthropicRequest{
		Model:     "sess-3|A",
		Messages:  []AnthropicMessage{{Role: "user", Content: "turn from A"}},
		MaxTokens: 100,
	})

	bResp := <-bDone
	defer bResp.Body.Close()
	if bResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", bResp.StatusCode)
	}
	var payload AnthropicResponse
	if err := json.NewDecoder(bResp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Content[0].Text != "turn from A" {
		t.Fatalf("expected counterpart content from A, got %q", payload.Content[0].Text)
	}
}

func TestAdminSessionsListsActiveSessions(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	go postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
		Model:    "sess-4|A",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(ts.URL + "/admin/sessions")
	if err != nil {
		t.Fatalf("GET /admin/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode admin sessions: %v", err)
	}
	found := false
	for _, s := range out.Sessions {
		if s.ID == "sess-4" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sess-4 in admin listing, got %+v", out.Sessions)
	}
}

func TestChatCompletionsTimesOutWaitingForCounterpart(t *testing.T) {
	reg := registry.New(registry.Options{
		MaxSessions:      10,
		HandshakeTimeout: 30 * time.Millisecond,
		TurnTimeout:      30 * time.Millisecond,
	})
	srv := NewServer(reg, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
		Model:    "sess-timeout|A",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestTimeout {
		t.Fatalf("expected 408 on handshake timeout, got %d", resp.StatusCode)
	}
	var body ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Type != ErrTypeTimeout {
		t.Fatalf("expected timeout_error, got %q", body.Error.Type)
	}
}

func TestChatCompletionsRejectsOversizedBody(t *testing.T) {
	reg := registry.New(registry.Options{MaxSessions: 10, HandshakeTimeout: time.Second, TurnTimeout: time.Second})
	srv := NewServer(reg, nil, WithMaxBodySize(32))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"model":"sess-big","messages":[{"role":"user","content":"this body is deliberately larger than the cap"}]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsRejectsWhenCapacityExhausted(t *testing.T) {
	reg := registry.New(registry.Options{MaxSessions: 1, HandshakeTimeout: time.Second, TurnTimeout: time.Second})
	srv := NewServer(reg, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	go postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
		Model:    "sess-full|A",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	time.Sleep(50 * time.Millisecond)

	resp := postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
		Model:    "sess-overflow|A",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when at capacity, got %d", resp.StatusCode)
	}
}

func TestChatCompletionsRateLimited(t *testing.T) {
	reg := registry.New(registry.Options{MaxSessions: 10, HandshakeTimeout: time.Second, TurnTimeout: time.Second})
	limiter := ratelimit.NewLocal(1, 1)
	srv := NewServer(reg, nil, WithRateLimiter(limiter))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	first := postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
		Model:    "sess-rl-1|A",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	first.Body.Close()

	resp := postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
		Model:    "sess-rl-2|A",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second request within the burst window, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected a Retry-After header on 429")
	}
}

func TestCrossProtocolHandshake(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp := postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
			Model:    "sess-cross|A",
			Messages: []ChatMessage{{Role: "user", Content: "hi from openai side"}},
		})
		done <- resp
	}()

	time.Sleep(50 * time.Millisecond)

	bDone := make(chan *http.Response, 1)
	go func() {
		resp := postJSON(t, ts, "/v1/messages", AnthropicRequest{
			Model:     "sess-cross|B",
			Messages:  []AnthropicMessage{{Role: "user", Content: "hi from anthropic side"}},
			MaxTokens: 100,
		})
		bDone <- resp
	}()

	// The OpenAI side's handshake content is never forwarded; it receives
	// the Anthropic side's first message.
	aResp := <-done
	defer aResp.Body.Close()
	if aResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for the OpenAI side's handshake, got %d", aResp.StatusCode)
	}
	var aPayload ChatCompletionResponse
	if err := json.NewDecoder(aResp.Body).Decode(&aPayload); err != nil {
		t.Fatalf("decode OpenAI response: %v", err)
	}
	if aPayload.Choices[0].Message.Content != "hi from anthropic side" {
		t.Fatalf("expected the Anthropic side's content to arrive over the OpenAI endpoint, got %q", aPayload.Choices[0].Message.Content)
	}

	go postJSON(t, ts, "/v1/chat/completions", ChatCompletionRequest{
		Model:    "sess-cross|A",
		Messages: []ChatMessage{{Role: "user", Content: "turn from openai side"}},
	})

	bResp := <-bDone
	defer bResp.Body.Close()
	if bResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", bResp.StatusCode)
	}
	var payload AnthropicResponse
	if err := json.NewDecoder(bResp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Content[0].Text != "turn from openai side" {
		t.Fatalf("expected the OpenAI side's content to arrive over the Anthropic adapter, got %q", payload.Content[0].Text)
	}
}

func TestMinClientVersionRejectsBeforeTouchingRegistry(t *testing.T) {
	reg := registry.New(registry.Options{MaxSessions: 10, HandshakeTimeout: time.Second, TurnTimeout: time.Second})
	constraint, err := semver.NewConstraint(">=2.0.0")
	if err != nil {
		t.Fatalf("NewConstraint: %v", err)
	}
	srv := NewServer(reg, nil, WithMinClientVersion(constraint))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	data, _ := json.Marshal(ChatCompletionRequest{
		Model:    "sess-gated|A",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Turnbridge-Client", "1.0.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
	if reg.Count() != 0 {
		t.Fatalf("expected the registry to stay empty when the version gate rejects, got count %d", reg.Count())
	}
}

func TestMetricsMountedOnSharedListener(t *testing.T) {
	reg := registry.New(registry.Options{MaxSessions: 10, HandshakeTimeout: time.Second, TurnTimeout: time.Second})
	exporter := metrics.NewExporter("127.0.0.1:9999")
	srv := NewServer(reg, nil, WithHost("127.0.0.1"), WithPort(9999), WithMetricsExporter(exporter))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if !srv.metricsShared() {
		t.Fatalf("expected exporter bound to the server's own address to be shared")
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics on the shared mux, got %d", resp.StatusCode)
	}
}

func TestMetricsNotMountedWhenExporterAddrDiffers(t *testing.T) {
	reg := registry.New(registry.Options{MaxSessions: 10, HandshakeTimeout: time.Second, TurnTimeout: time.Second})
	exporter := metrics.NewExporter("127.0.0.1:19999")
	srv := NewServer(reg, nil, WithHost("127.0.0.1"), WithPort(9999), WithMetricsExporter(exporter))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if srv.metricsShared() {
		t.Fatalf("expected an exporter bound to a different address not to be shared")
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on the API mux when the exporter owns its own listener, got %d", resp.StatusCode)
	}
}

func TestRunDrainsRateLimiterSweeperOnShutdown(t *testing.T) {
	reg := registry.New(registry.Options{MaxSessions: 10, HandshakeTimeout: time.Second, TurnTimeout: time.Second})
	limiter := ratelimit.NewLocal(60, 5)
	srv := NewServer(reg, nil, WithHost("127.0.0.1"), WithPort(18080), WithRateLimiter(limiter))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after its context was cancelled")
	}
}

func TestAdminSessionsRequiresAuthWhenConfigured(t *testing.T) {
	reg := registry.New(registry.Options{MaxSessions: 10, HandshakeTimeout: time.Second, TurnTimeout: time.Second})
	issuer := newTestIssuer(t)
	srv := NewServer(reg, nil, WithAdminAuth(issuer))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/admin/sessions")
	if err != nil {
		t.Fatalf("GET /admin/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
}
