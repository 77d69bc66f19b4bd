package translate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llamagate/internal/models"
)

// OllamaChatResponse is the terminal Ollama-protocol chat shape. Timing
// fields are always present and always zero: this proxy does not measure
// upstream evaluation.
type OllamaChatResponse struct {
	Model              string             `json:"model"`
	CreatedAt          string             `json:"created_at"`
	Message            models.ChatMessage `json:"message"`
	Done               bool               `json:"done"`
	TotalDuration      int64              `json:"total_duration"`
	LoadDuration       int64              `json:"load_duration"`
	PromptEvalCount    int                `json:"prompt_eval_count"`
	PromptEvalDuration int64              `json:"prompt_eval_duration"`
	EvalCount          int                `json:"eval_count"`
	EvalDuration       int64              `json:"eval_duration"`
}

// OllamaGenerateResponse is the terminal Ollama-protocol generate shape.
type OllamaGenerateResponse struct {
	Model              string `json:"model"`
	CreatedAt          string `json:"created_at"`
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalCount          int    `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"`
}

// ChatCompletionResponse is the terminal OpenAI-protocol chat shape.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChatChoice is one choice in an OpenAI-shaped chat response.
type ChatChoice struct {
	Index        int                `json:"index"`
	Message      models.ChatMessage `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

// CompletionResponse is the terminal OpenAI-protocol text-completion shape.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// CompletionChoice is one choice in an OpenAI-shaped completion response.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// Usage carries the approximate token accounting attached to OpenAI-shaped
// responses. Counts are characterCount/4 — a deliberately coarse heuristic,
// not a tokenizer.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ApproxTokens estimates a token count from raw character length.
func ApproxTokens(text string) int {
	return len(text) / 4
}

// NormalizeOllamaChat reshapes a buffered upstream body into the Ollama chat
// response shape.
func NormalizeOllamaChat(raw []byte, model string, created time.Time) (OllamaChatResponse, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return OllamaChatResponse{}, err
	}

	return OllamaChatResponse{
		Model:     model,
		CreatedAt: created.UTC().Format(time.RFC3339Nano),
		Message: models.ChatMessage{
			Role:    "assistant",
			Content: runExtractors(responseExtractors, payload),
		},
		Done: true,
	}, nil
}

// NormalizeOllamaGenerate reshapes a buffered upstream body into the Ollama
// generate response shape.
func NormalizeOllamaGenerate(raw []byte, model string, created time.Time) (OllamaGenerateResponse, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return OllamaGenerateResponse{}, err
	}

	return OllamaGenerateResponse{
		Model:     model,
		CreatedAt: created.UTC().Format(time.RFC3339Nano),
		Response:  runExtractors(responseExtractors, payload),
		Done:      true,
	}, nil
}

// NormalizeOpenAIChat reshapes a buffered upstream body into the OpenAI chat
// completion shape, attaching the approximate usage computed from the prompt
// and extracted completion text.
func NormalizeOpenAIChat(raw []byte, model, promptText string, created time.Time) (ChatCompletionResponse, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return ChatCompletionResponse{}, err
	}

	content := runExtractorsWithFallback(payload)
	finish, ok := extractFinishReason(payload)
	if !ok {
		finish = "stop"
	}

	return ChatCompletionResponse{
		ID:      responseID(payload, "chatcmpl"),
		Object:  "chat.completion",
		Created: created.Unix(),
		Model:   model,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      models.ChatMessage{Role: "assistant", Content: content},
				FinishReason: finish,
			},
		},
		Usage: approxUsage(promptText, content),
	}, nil
}

// NormalizeOpenAICompletion reshapes a buffered upstream body into the legacy
// OpenAI text-completion shape.
func NormalizeOpenAICompletion(raw []byte, model, promptText string, created time.Time) (CompletionResponse, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return CompletionResponse{}, err
	}

	content := runExtractorsWithFallback(payload)
	finish, ok := extractFinishReason(payload)
	if !ok {
		finish = "stop"
	}

	return CompletionResponse{
		ID:      responseID(payload, "cmpl"),
		Object:  "text_completion",
		Created: created.Unix(),
		Model:   model,
		Choices: []CompletionChoice{
			{
				Index:        0,
				Text:         content,
				FinishReason: finish,
			},
		},
		Usage: approxUsage(promptText, content),
	}, nil
}

// runExtractorsWithFallback also tries the legacy completion text path,
// which OpenAI-compatible upstreams use for /completions responses.
func runExtractorsWithFallback(payload map[string]any) string {
	if text := runExtractors(responseExtractors, payload); text != "" {
		return text
	}
	if choice, ok := firstElement(payload, "choices"); ok {
		if text, ok := choice["text"].(string); ok {
			return text
		}
	}
	return ""
}

func approxUsage(promptText, completionText string) Usage {
	prompt := ApproxTokens(promptText)
	completion := ApproxTokens(completionText)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func responseID(payload map[string]any, prefix string) string {
	if id, ok := payload["id"].(string); ok && id != "" {
		return id
	}
	return prefix + "-" + uuid.NewString()
}

func decodePayload(raw []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	return payload, nil
}
