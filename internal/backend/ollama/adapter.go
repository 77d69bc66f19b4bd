package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"llamagate/internal/backend"
	"llamagate/internal/config"
	"llamagate/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "llamagate/0.1"

	defaultModel = "llama3"
)

// Adapter implements the backend.Adapter interface for a native Ollama
// daemon. The daemon speaks the unified option names already, so the options
// bag is forwarded as-is.
type Adapter struct {
	baseURL      string
	headers      map[string]string
	client       *http.Client
	defaultModel string
	chatURL      string
	generateURL  string
	tagsURL      string
}

// New creates an adapter for a local or remote Ollama daemon. No API key is
// involved.
func New(cfg config.BackendConfig, client *http.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	model := cfg.DefaultModel
	if model == "" {
		model = defaultModel
	}

	return &Adapter{
		baseURL:      baseURL,
		headers:      cfg.Headers,
		client:       client,
		defaultModel: model,
		chatURL:      baseURL + "/api/chat",
		generateURL:  baseURL + "/api/generate",
		tagsURL:      baseURL + "/api/tags",
	}, nil
}

func (a *Adapter) Name() models.Backend {
	return models.BackendOllama
}

// Generate issues a single-turn completion via /api/generate.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error) {
	payload := map[string]any{
		"model":  a.modelOrDefault(req.Model),
		"prompt": req.Prompt,
		"stream": req.Stream,
	}
	if strings.TrimSpace(req.System) != "" {
		payload["system"] = req.System
	}
	if len(req.Options) > 0 {
		payload["options"] = req.Options
	}

	return a.post(ctx, a.generateURL, payload, req.Stream)
}

// Chat issues a multi-turn completion via /api/chat.
func (a *Adapter) Chat(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error) {
	messages := make([]models.ChatMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, models.ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	payload := map[string]any{
		"model":    a.modelOrDefault(req.Model),
		"messages": messages,
		"stream":   req.Stream,
	}
	if len(req.Options) > 0 {
		payload["options"] = req.Options
	}

	return a.post(ctx, a.chatURL, payload, req.Stream)
}

// ListModels enumerates locally installed models via /api/tags.
func (a *Adapter) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.tagsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama list models request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, upstreamError(httpResp)
	}

	var listing struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode model listing: %w", err)
	}

	result := make([]models.ModelInfo, 0, len(listing.Models))
	for _, m := range listing.Models {
		result = append(result, models.ModelInfo{ID: m.Name, Backend: models.BackendOllama})
	}
	return result, nil
}

func (a *Adapter) modelOrDefault(model string) string {
	if model == "" {
		return a.defaultModel
	}
	return model
}

func (a *Adapter) post(ctx context.Context, url string, payload any, stream bool) (*models.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, upstreamError(httpResp)
	}

	if stream {
		return &models.Envelope{StatusCode: httpResp.StatusCode, Stream: httpResp.Body}, nil
	}

	defer httpResp.Body.Close()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	return &models.Envelope{StatusCode: httpResp.StatusCode, Body: raw}, nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
}

func upstreamError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}
	return &backend.UpstreamError{
		Backend: models.BackendOllama,
		Status:  resp.StatusCode,
		Body:    strings.TrimSpace(string(body)),
	}
}
