package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llamagate/internal/backend"
	"llamagate/internal/config"
	"llamagate/internal/models"
)

func newTestAdapter(t *testing.T, upstream http.HandlerFunc, apiKey string) *Adapter {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	adapter, err := New(config.BackendConfig{
		BaseURL: srv.URL,
		APIKey:  apiKey,
	}, srv.Client())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

const candidateBody = `{"candidates":[{"content":{"parts":[{"text":"bonjour"}]},"finishReason":"STOP"}]}`

func TestChatBuildsTurnStructuredContents(t *testing.T) {
	var got struct {
		path    string
		key     string
		payload generatePayload
	}

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.key = r.URL.Query().Get("key")
		_ = json.NewDecoder(r.Body).Decode(&got.payload)
		_, _ = w.Write([]byte(candidateBody))
	}, "g-key")

	_, err := adapter.Chat(context.Background(), models.GenerationRequest{
		Model: "gemini-pro",
		Messages: []models.ChatMessage{
			{Role: "system", Content: "be nice"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "translate"},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if got.path != "/models/gemini-pro:generateContent" {
		t.Fatalf("unexpected path %q", got.path)
	}
	if got.key != "g-key" {
		t.Fatalf("api key must ride the query string, got %q", got.key)
	}

	if got.payload.SystemInstruction == nil || got.payload.SystemInstruction.Parts[0].Text != "be nice" {
		t.Fatalf("system message must fold into system_instruction: %+v", got.payload.SystemInstruction)
	}
	if len(got.payload.Contents) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got.payload.Contents))
	}
	if got.payload.Contents[1].Role != "model" {
		t.Fatalf("assistant must map to model role, got %q", got.payload.Contents[1].Role)
	}
}

func TestNonStreamingResponseReshaped(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(candidateBody))
	}, "g-key")

	env, err := adapter.Generate(context.Background(), models.GenerationRequest{
		Prompt: "say hello in french",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var reshaped struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(env.Body, &reshaped); err != nil {
		t.Fatalf("unmarshal reshaped body: %v", err)
	}
	if len(reshaped.Choices) != 1 || reshaped.Choices[0].Message.Content != "bonjour" {
		t.Fatalf("candidate tree not reshaped to choices view: %s", env.Body)
	}
	if reshaped.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish reason not lowered: %+v", reshaped.Choices[0])
	}
}

func TestStreamingUsesSSEVerbAndPassesThrough(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt=sse missing: %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"x"}]}}]}` + "\n\n"))
	}, "g-key")

	env, err := adapter.Generate(context.Background(), models.GenerationRequest{
		Prompt: "stream it",
		Stream: true,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer env.Close()

	if env.Stream == nil {
		t.Fatal("streaming call must return the live body untransformed")
	}
}

func TestMissingAPIKeyFailsFast(t *testing.T) {
	called := false
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, "")

	_, err := adapter.Generate(context.Background(), models.GenerationRequest{Prompt: "hi"})
	if !errors.Is(err, backend.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if called {
		t.Fatal("upstream must not be contacted without an api key")
	}
}

func TestListModelsKeepsVendorPrefix(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"models/gemini-pro"},{"name":"models/gemini-1.5-flash"}]}`))
	}, "g-key")

	listed, err := adapter.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "models/gemini-pro" {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}

func TestUpstreamErrorPropagates(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"key invalid"}}`))
	}, "g-key")

	_, err := adapter.Generate(context.Background(), models.GenerationRequest{Prompt: "hi"})

	var upErr *backend.UpstreamError
	if !errors.As(err, &upErr) || upErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 UpstreamError, got %v", err)
	}
}
