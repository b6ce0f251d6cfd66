package assistants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"secrethitler-lite/game/agent"
)

// fakeAPI serves the subset of the Assistants API the provider uses. Every
// run reports in_progress once before completing with reply. With
// expireFirst the first run created expires instead.
type fakeAPI struct {
	expireFirst  bool
	messages     int
	runs         int
	expiredRun   string
	mu           sync.Mutex
	reply        string
	nextID       int
	polls        map[string]int
	deleted      []string
	instructions string
	format       map[string]any
	betaHeaders  int
	cancelled    int
}

func (f *fakeAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("OpenAI-Beta") == "assistants=v2" {
		f.betaHeaders++
	}
	if r.Header.Get("Authorization") != "Bearer test-key" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "assistants":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.instructions, _ = body["instructions"].(string)
		writeJSON(w, map[string]any{"id": f.id("asst")})
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "threads":
		writeJSON(w, map[string]any{"id": f.id("thread")})
	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "messages":
		f.messages++
		writeJSON(w, map[string]any{"id": f.id("msg")})
	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "runs":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.format, _ = body["response_format"].(map[string]any)
		f.runs++
		id := f.id("run")
		if f.expireFirst && f.runs == 1 {
			f.expiredRun = id
		}
		writeJSON(w, map[string]any{"id": id, "status": "queued"})
	case r.Method == http.MethodPost && len(parts) == 5 && parts[4] == "cancel":
		f.cancelled++
		writeJSON(w, map[string]any{"id": parts[3], "status": "cancelling"})
	case r.Method == http.MethodGet && len(parts) == 4 && parts[2] == "runs":
		f.polls[parts[3]]++
		if parts[3] == f.expiredRun {
			writeJSON(w, map[string]any{"id": parts[3], "status": "expired"})
			return
		}
		if f.polls[parts[3]] == 1 {
			writeJSON(w, map[string]any{"id": parts[3], "status": "in_progress"})
			return
		}
		writeJSON(w, map[string]any{
			"id":     parts[3],
			"status": "completed",
			"usage":  map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "messages":
		writeJSON(w, map[string]any{"data": []any{map[string]any{
			"role":    "assistant",
			"content": []any{map[string]any{"type": "text", "text": map[string]any{"value": f.reply}}},
		}}})
	case r.Method == http.MethodDelete:
		f.deleted = append(f.deleted, parts[0]+"/"+parts[1])
		writeJSON(w, map[string]any{"deleted": true})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestProvider(t *testing.T, api http.Handler, key string) *Provider {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	registry, err := agent.DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry err: %v", err)
	}
	p, err := New(Config{APIKey: key, BaseURL: srv.URL + "/", Registry: registry})
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return p
}

func TestProvider_DecideThroughClient(t *testing.T) {
	api := &fakeAPI{
		reply: `{"internal_dialogue":"hm","external_dialogue":"hello","decision":"Ja"}`,
		polls: make(map[string]int),
	}
	p := newTestProvider(t, api, "test-key")
	c, err := agent.NewClient(p, agent.ClientConfig{PollInterval: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}
	ctx := context.Background()
	if err := c.Open(ctx, []string{"Alice"}); err != nil {
		t.Fatalf("Open err: %v", err)
	}
	reply, err := c.Decide(ctx, agent.Request{
		Participant: "Alice",
		Phase:       "vote",
		Variant:     agent.VariantOrdinary,
		Content:     "Vote on the government.",
		Choices:     []string{"Ja", "Nein"},
	})
	if err != nil {
		t.Fatalf("Decide err: %v", err)
	}
	if reply.ContentErr != nil {
		t.Fatalf("unexpected content error: %v", reply.ContentErr)
	}
	if reply.Decision() != "Ja" || reply.External() != "hello" {
		t.Fatalf("unexpected reply %q / %q", reply.Decision(), reply.External())
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if !strings.Contains(api.instructions, "Your name is Alice") {
		t.Fatalf("instructions missing participant name: %q", api.instructions)
	}
	if api.format["type"] != "json_schema" {
		t.Fatalf("unexpected response format %v", api.format)
	}
	schema, _ := api.format["json_schema"].(map[string]any)
	if schema["name"] != schemaName || schema["strict"] != true {
		t.Fatalf("unexpected json_schema block %v", schema)
	}
	if len(api.deleted) != 2 {
		t.Fatalf("expected thread and assistant deleted, got %v", api.deleted)
	}
	if api.betaHeaders == 0 {
		t.Fatalf("requests must carry the assistants beta header")
	}
}

func TestProvider_RetryPostsMessageOnce(t *testing.T) {
	api := &fakeAPI{
		reply:       `{"internal_dialogue":"hm","external_dialogue":"ok","decision":"Nein"}`,
		polls:       make(map[string]int),
		expireFirst: true,
	}
	p := newTestProvider(t, api, "test-key")
	c, err := agent.NewClient(p, agent.ClientConfig{
		PollInterval:   time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient err: %v", err)
	}
	ctx := context.Background()
	if err := c.Open(ctx, []string{"Dave"}); err != nil {
		t.Fatalf("Open err: %v", err)
	}
	defer c.Close(ctx)

	req := agent.Request{
		Participant: "Dave",
		Phase:       "vote",
		Variant:     agent.VariantOrdinary,
		Content:     "Vote on the government.",
		Choices:     []string{"Ja", "Nein"},
	}
	reply, err := c.Decide(ctx, req)
	if err != nil {
		t.Fatalf("Decide err: %v", err)
	}
	if reply.Attempts != 2 || reply.Decision() != "Nein" {
		t.Fatalf("expected Nein after 2 attempts, got %q after %d", reply.Decision(), reply.Attempts)
	}
	api.mu.Lock()
	messages, runs := api.messages, api.runs
	api.mu.Unlock()
	if messages != 1 || runs != 2 {
		t.Fatalf("expected 1 message and 2 runs, got %d and %d", messages, runs)
	}

	if _, err := c.Decide(ctx, req); err != nil {
		t.Fatalf("second Decide err: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.messages != 2 {
		t.Fatalf("a new decision must post its prompt, got %d messages", api.messages)
	}
}

func TestProvider_PollReportsUsage(t *testing.T) {
	api := &fakeAPI{reply: "{}", polls: make(map[string]int)}
	p := newTestProvider(t, api, "test-key")
	ctx := context.Background()
	s, err := p.OpenSession(ctx, "Bob")
	if err != nil {
		t.Fatalf("OpenSession err: %v", err)
	}
	runID, err := p.Submit(ctx, s, agent.Message{Participant: "Bob", Content: "hi"})
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	run, err := p.Poll(ctx, s, runID)
	if err != nil {
		t.Fatalf("Poll err: %v", err)
	}
	if run.Status != agent.RunStatusInProgress || run.Output != "" {
		t.Fatalf("first poll should be in progress, got %v %q", run.Status, run.Output)
	}
	run, err = p.Poll(ctx, s, runID)
	if err != nil {
		t.Fatalf("Poll err: %v", err)
	}
	if run.Status != agent.RunStatusCompleted || run.Output != "{}" {
		t.Fatalf("expected completed run with output, got %v %q", run.Status, run.Output)
	}
	if run.Usage.TotalTokens != 15 || run.Usage.PromptTokens != 10 {
		t.Fatalf("unexpected usage %+v", run.Usage)
	}
	if err := p.Cancel(ctx, s, runID); err != nil {
		t.Fatalf("Cancel err: %v", err)
	}
}

func TestProvider_StatusMapping(t *testing.T) {
	api := &fakeAPI{polls: make(map[string]int)}
	p := newTestProvider(t, api, "wrong-key")
	_, err := p.OpenSession(context.Background(), "Carol")
	if !errors.Is(err, agent.ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal for 401, got %v", err)
	}

	limited := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","code":"rate_limit_exceeded"}}`))
	})
	p = newTestProvider(t, limited, "test-key")
	_, err = p.OpenSession(context.Background(), "Carol")
	if !errors.Is(err, agent.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for 429, got %v", err)
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("error should carry api message: %v", err)
	}

	broken := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	p = newTestProvider(t, broken, "test-key")
	_, err = p.OpenSession(context.Background(), "Carol")
	if err == nil || errors.Is(err, agent.ErrProviderFatal) || errors.Is(err, agent.ErrRateLimited) {
		t.Fatalf("5xx should be a plain retryable error, got %v", err)
	}
}

func TestProvider_UnknownSession(t *testing.T) {
	p := newTestProvider(t, &fakeAPI{polls: make(map[string]int)}, "test-key")
	_, err := p.Submit(context.Background(), agent.Session{ID: "nope"}, agent.Message{})
	if !errors.Is(err, agent.ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal, got %v", err)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
