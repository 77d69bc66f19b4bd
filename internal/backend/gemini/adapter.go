package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"llamagate/internal/backend"
	"llamagate/internal/config"
	"llamagate/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "llamagate/0.1"

	defaultModel = "gemini-pro"
)

// Adapter implements the backend.Adapter interface for the Gemini API.
// Authentication uses an API key passed as a query parameter, which is how
// the generativelanguage endpoint wants it.
type Adapter struct {
	apiKey       string
	baseURL      string
	headers      map[string]string
	client       *http.Client
	defaultModel string
}

// New creates an adapter for a Gemini upstream.
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
	}, nil
}

func (a *Adapter) Name() models.Backend {
	return models.BackendGemini
}

// Generate issues a single-turn generation from a prompt.
func (a *Adapter) Generate(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error) {
	payload := generatePayload{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: req.Prompt}}},
		},
		GenerationConfig: buildGenerationConfig(req.Options),
	}
	if strings.TrimSpace(req.System) != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}

	return a.post(ctx, a.modelURL(req.Model, req.Stream), payload, req.Stream)
}

// Chat issues a multi-turn generation. The unified message list is converted
// into Gemini's turn-structured contents: assistant maps to the "model" role
// and system messages are folded into the system instruction.
func (a *Adapter) Chat(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error) {
	var systemParts []string
	if strings.TrimSpace(req.System) != "" {
		systemParts = append(systemParts, req.System)
	}

	contents := make([]content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			systemParts = append(systemParts, msg.Content)
		case "assistant":
			contents = append(contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}

	payload := generatePayload{
		Contents:         contents,
		GenerationConfig: buildGenerationConfig(req.Options),
	}
	if len(systemParts) > 0 {
		payload.SystemInstruction = &content{Parts: []part{{Text: strings.Join(systemParts, "\n\n")}}}
	}

	return a.post(ctx, a.modelURL(req.Model, req.Stream), payload, req.Stream)
}

// ListModels enumerates upstream models. Identifiers are returned with the
// vendor "models/" prefix intact; alias normalization happens at registration.
func (a *Adapter) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("gemini adapter: %w", backend.ErrMissingAPIKey)
	}

	listURL := a.baseURL + "/models?key=" + url.QueryEscape(a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini list models request failed: %w", err)
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
		result = append(result, models.ModelInfo{ID: m.Name, Backend: models.BackendGemini})
	}
	return result, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generatePayload struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"system_instruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

func buildGenerationConfig(options map[string]any) *generationConfig {
	cfg := &generationConfig{}
	configured := false

	if v, ok := backend.ExtractFloat(options, "temperature"); ok {
		cfg.Temperature = &v
		configured = true
	}
	if v, ok := backend.ExtractFloat(options, "top_p"); ok {
		cfg.TopP = &v
		configured = true
	}
	if v, ok := backend.ExtractInt(options, "top_k"); ok {
		cfg.TopK = &v
		configured = true
	}
	if v, ok := backend.ExtractInt(options, "num_predict"); ok {
		cfg.MaxOutputTokens = &v
		configured = true
	} else if v, ok := backend.ExtractInt(options, "max_tokens"); ok {
		cfg.MaxOutputTokens = &v
		configured = true
	}
	if stop, ok := backend.ExtractStringSlice(options, "stop"); ok {
		cfg.StopSequences = stop
		configured = true
	}

	if !configured {
		return nil
	}
	return cfg
}

func (a *Adapter) modelURL(model string, stream bool) string {
	if model == "" {
		model = a.defaultModel
	}
	model = strings.TrimPrefix(model, "models/")

	verb := ":generateContent"
	query := "?key=" + url.QueryEscape(a.apiKey)
	if stream {
		verb = ":streamGenerateContent"
		query = "?alt=sse&key=" + url.QueryEscape(a.apiKey)
	}
	return a.baseURL + "/models/" + model + verb + query
}

func (a *Adapter) post(ctx context.Context, requestURL string, payload generatePayload, stream bool) (*models.Envelope, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("gemini adapter: %w", backend.ErrMissingAPIKey)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
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
		return nil, fmt.Errorf("read gemini response: %w", err)
	}

	reshaped, err := reshapeResponse(raw)
	if err != nil {
		return nil, err
	}
	return &models.Envelope{StatusCode: httpResp.StatusCode, Body: reshaped}, nil
}

// reshapeResponse converts Gemini's candidate/parts tree into a body carrying
// a choices[0].message.content view, so downstream normalization sees one
// shape regardless of provider.
func reshapeResponse(raw []byte) ([]byte, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []part `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("gemini response did not include candidates")
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	finish := strings.ToLower(resp.Candidates[0].FinishReason)
	if finish == "" {
		finish = "stop"
	}

	reshaped := map[string]any{
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": text.String(),
				},
				"finish_reason": finish,
			},
		},
	}
	return json.Marshal(reshaped)
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
		Backend: models.BackendGemini,
		Status:  resp.StatusCode,
		Body:    strings.TrimSpace(string(body)),
	}
}
