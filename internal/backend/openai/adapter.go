package openai

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

	defaultModel = "gpt-3.5-turbo"
)

// Adapter implements the backend.Adapter interface for OpenAI-compatible APIs.
type Adapter struct {
	apiKey       string
	baseURL      string
	headers      map[string]string
	client       *http.Client
	defaultModel string
	chatURL      string
	modelsURL    string
}

// New creates an adapter for an OpenAI-compatible upstream.
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
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		headers:      cfg.Headers,
		client:       client,
		defaultModel: model,
		chatURL:      baseURL + "/chat/completions",
		modelsURL:    baseURL + "/models",
	}, nil
}

func (a *Adapter) Name() models.Backend {
	return models.BackendOpenAI
}

// Generate issues a single-turn completion. The prompt and optional system
// preamble are merged into a chat message list, which is what every current
// OpenAI-compatible upstream expects.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := a.buildPayload(req, messages)
	return a.post(ctx, a.chatURL, payload, req.Stream)
}

// Chat issues a multi-turn completion from the unified message list.
func (a *Adapter) Chat(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error) {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	payload := a.buildPayload(req, messages)
	return a.post(ctx, a.chatURL, payload, req.Stream)
}

// ListModels enumerates upstream models via GET /models.
func (a *Adapter) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("openai adapter: %w", backend.ErrMissingAPIKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.modelsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai list models request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, upstreamError(httpResp)
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode model listing: %w", err)
	}

	result := make([]models.ModelInfo, 0, len(listing.Data))
	for _, m := range listing.Data {
		result = append(result, models.ModelInfo{ID: m.ID, Backend: models.BackendOpenAI})
	}
	return result, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Stream           bool          `json:"stream,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	Seed             *int          `json:"seed,omitempty"`
}

func (a *Adapter) buildPayload(req models.GenerationRequest, messages []chatMessage) chatPayload {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	payload := chatPayload{
		Model:    model,
		Messages: messages,
		Stream:   req.Stream,
	}

	if v, ok := backend.ExtractInt(req.Options, "num_predict"); ok {
		payload.MaxTokens = &v
	} else if v, ok := backend.ExtractInt(req.Options, "max_tokens"); ok {
		payload.MaxTokens = &v
	}
	if v, ok := backend.ExtractFloat(req.Options, "temperature"); ok {
		payload.Temperature = &v
	}
	if v, ok := backend.ExtractFloat(req.Options, "top_p"); ok {
		payload.TopP = &v
	}
	if v, ok := backend.ExtractFloat(req.Options, "frequency_penalty"); ok {
		payload.FrequencyPenalty = &v
	}
	if v, ok := backend.ExtractFloat(req.Options, "presence_penalty"); ok {
		payload.PresencePenalty = &v
	}
	if stop, ok := backend.ExtractStringSlice(req.Options, "stop"); ok {
		payload.Stop = stop
	}
	if v, ok := backend.ExtractInt(req.Options, "seed"); ok {
		payload.Seed = &v
	}

	return payload
}

func (a *Adapter) post(ctx context.Context, url string, payload any, stream bool) (*models.Envelope, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("openai adapter: %w", backend.ErrMissingAPIKey)
	}

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
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, upstreamError(httpResp)
	}

	if stream {
		// Ownership of the live body passes to the caller.
		return &models.Envelope{StatusCode: httpResp.StatusCode, Stream: httpResp.Body}, nil
	}

	defer httpResp.Body.Close()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	return &models.Envelope{StatusCode: httpResp.StatusCode, Body: raw}, nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

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
		Backend: models.BackendOpenAI,
		Status:  resp.StatusCode,
		Body:    strings.TrimSpace(string(body)),
	}
}
