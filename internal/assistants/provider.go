// Package assistants implements agent.Provider on top of an OpenAI-style
// Assistants v2 HTTP API: one assistant and one thread per participant, one
// run per decision, structured output through a json_schema response format.
package assistants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"secrethitler-lite/game/agent"
	"secrethitler-lite/internal/timeouts"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	schemaName     = "decision_response"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	TopP        float64
	// Registry supplies the personality line of each participant's
	// instructions. Optional.
	Registry   *agent.PersonaRegistry
	HTTPClient *http.Client
}

// Provider talks to the Assistants API. Sessions are threads; the assistant
// created for a thread is remembered so it can be deleted with it.
type Provider struct {
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	threads map[string]*thread
}

type thread struct {
	assistantID string
	// posted is the ID of the last message added to the thread. A retry of
	// the same decision only starts a new run.
	posted string
}

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("assistants: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.TopP == 0 {
		cfg.TopP = 1
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeouts.ProviderRequest}
	}
	return &Provider{cfg: cfg, client: client, threads: make(map[string]*thread)}, nil
}

func (p *Provider) Name() string { return "assistants" }

// === wire types ===

type assistantRequest struct {
	Name         string  `json:"name"`
	Instructions string  `json:"instructions"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
}

type object struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string       `json:"name"`
	Strict bool         `json:"strict"`
	Schema agent.Schema `json:"schema"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type runRequest struct {
	AssistantID    string         `json:"assistant_id"`
	ResponseFormat responseFormat `json:"response_format"`
}

type runResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// === agent.Provider ===

func (p *Provider) OpenSession(ctx context.Context, participant string) (agent.Session, error) {
	var asst object
	err := p.do(ctx, http.MethodPost, "/assistants", assistantRequest{
		Name:         participant + "'s Assistant",
		Instructions: p.instructions(participant),
		Model:        p.cfg.Model,
		Temperature:  p.cfg.Temperature,
		TopP:         p.cfg.TopP,
	}, &asst)
	if err != nil {
		return agent.Session{}, fmt.Errorf("create assistant: %w", err)
	}
	var th object
	if err := p.do(ctx, http.MethodPost, "/threads", struct{}{}, &th); err != nil {
		p.deleteQuietly(ctx, "/assistants/"+asst.ID)
		return agent.Session{}, fmt.Errorf("create thread: %w", err)
	}

	p.mu.Lock()
	p.threads[th.ID] = &thread{assistantID: asst.ID}
	p.mu.Unlock()
	return agent.Session{ID: th.ID, Participant: participant}, nil
}

func (p *Provider) thread(s agent.Session) (*thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[s.ID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown session %s", agent.ErrProviderFatal, s.ID)
	}
	return t, nil
}

// Submit adds msg to the thread unless this decision already did, then
// starts a run.
func (p *Provider) Submit(ctx context.Context, s agent.Session, msg agent.Message) (string, error) {
	t, err := p.thread(s)
	if err != nil {
		return "", err
	}
	path := "/threads/" + url.PathEscape(s.ID)

	p.mu.Lock()
	posted := msg.ID != "" && t.posted == msg.ID
	assistantID := t.assistantID
	p.mu.Unlock()
	if !posted {
		if err := p.do(ctx, http.MethodPost, path+"/messages", messageRequest{Role: "user", Content: msg.Content}, nil); err != nil {
			return "", fmt.Errorf("add message: %w", err)
		}
		p.mu.Lock()
		t.posted = msg.ID
		p.mu.Unlock()
	}

	var run runResponse
	err = p.do(ctx, http.MethodPost, path+"/runs", runRequest{
		AssistantID: assistantID,
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchemaFormat{Name: schemaName, Strict: true, Schema: msg.Schema},
		},
	}, &run)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return run.ID, nil
}

func (p *Provider) Poll(ctx context.Context, s agent.Session, runID string) (agent.Run, error) {
	thread := url.PathEscape(s.ID)
	var raw runResponse
	if err := p.do(ctx, http.MethodGet, "/threads/"+thread+"/runs/"+url.PathEscape(runID), nil, &raw); err != nil {
		return agent.Run{}, err
	}
	run := agent.Run{ID: raw.ID, Status: agent.ParseRunStatus(raw.Status)}
	if raw.Usage != nil {
		run.Usage = agent.Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
		}
	}
	if raw.LastError != nil {
		run.LastError = &agent.RunError{Code: raw.LastError.Code, Message: raw.LastError.Message}
	}
	if run.Status != agent.RunStatusCompleted {
		return run, nil
	}

	q := url.Values{"order": {"desc"}, "limit": {"1"}, "run_id": {runID}}
	var list messageList
	if err := p.do(ctx, http.MethodGet, "/threads/"+thread+"/messages?"+q.Encode(), nil, &list); err != nil {
		return agent.Run{}, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range list.Data {
		if m.Role != "assistant" {
			continue
		}
		for _, c := range m.Content {
			if c.Type == "text" {
				run.Output = c.Text.Value
				return run, nil
			}
		}
	}
	// A completed run without a reply is handed to the decoder as empty
	// output, which counts as malformed content.
	return run, nil
}

func (p *Provider) Cancel(ctx context.Context, s agent.Session, runID string) error {
	return p.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(s.ID)+"/runs/"+url.PathEscape(runID)+"/cancel", struct{}{}, nil)
}

func (p *Provider) CloseSession(ctx context.Context, s agent.Session) error {
	p.mu.Lock()
	var assistantID string
	if t, ok := p.threads[s.ID]; ok {
		assistantID = t.assistantID
	}
	delete(p.threads, s.ID)
	p.mu.Unlock()

	err := p.do(ctx, http.MethodDelete, "/threads/"+url.PathEscape(s.ID), nil, nil)
	if assistantID != "" {
		if aerr := p.do(ctx, http.MethodDelete, "/assistants/"+url.PathEscape(assistantID), nil, nil); err == nil {
			err = aerr
		}
	}
	return err
}

func (p *Provider) deleteQuietly(ctx context.Context, path string) {
	if err := p.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		log.Printf("[Assistants] cleanup %s failed: %v", path, err)
	}
}

// do sends one API request. 429 maps to agent.ErrRateLimited and
// 401/403/404 to agent.ErrProviderFatal; anything else is retryable.
func (p *Provider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var ae apiError
	if json.Unmarshal(raw, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", agent.ErrRateLimited, msg)
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", agent.ErrProviderFatal, resp.Status, msg)
	default:
		return fmt.Errorf("assistants api %s: %s", resp.Status, msg)
	}
}
