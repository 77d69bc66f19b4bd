package translate

import (
	"strings"
	"testing"
	"time"
)

func TestUsageHeuristic(t *testing.T) {
	prompt := strings.Repeat("p", 40)
	completion := strings.Repeat("c", 20)
	raw := `{"choices":[{"message":{"role":"assistant","content":"` + completion + `"}}]}`

	resp, err := NormalizeOpenAIChat([]byte(raw), "gpt-3.5-turbo", prompt, time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if resp.Usage.PromptTokens != 10 {
		t.Fatalf("prompt_tokens: got %d want 10", resp.Usage.PromptTokens)
	}
	if resp.Usage.CompletionTokens != 5 {
		t.Fatalf("completion_tokens: got %d want 5", resp.Usage.CompletionTokens)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("total_tokens: got %d want 15", resp.Usage.TotalTokens)
	}
}

func TestNormalizeExtractionPriority(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"openai message shape",
			`{"choices":[{"message":{"content":"from openai"}}]}`,
			"from openai",
		},
		{
			"gemini string candidate",
			`{"candidates":[{"content":"from gemini"}]}`,
			"from gemini",
		},
		{
			"gemini parts tree",
			`{"candidates":[{"content":{"parts":[{"text":"from "},{"text":"parts"}]}}]}`,
			"from parts",
		},
		{
			"raw response field",
			`{"response":"from native"}`,
			"from native",
		},
		{
			"ollama message shape",
			`{"message":{"role":"assistant","content":"from ollama"}}`,
			"from ollama",
		},
		{
			"openai wins over gemini",
			`{"choices":[{"message":{"content":"openai"}}],"candidates":[{"content":"gemini"}]}`,
			"openai",
		},
		{
			"gemini wins over raw response",
			`{"candidates":[{"content":"gemini"}],"response":"raw"}`,
			"gemini",
		},
		{
			"nothing extractable",
			`{"unrelated":true}`,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NormalizeOllamaChat([]byte(tt.raw), "m", time.Now())
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if resp.Message.Content != tt.want {
				t.Fatalf("got %q want %q", resp.Message.Content, tt.want)
			}
			if !resp.Done {
				t.Fatal("terminal response must have done=true")
			}
		})
	}
}

func TestNormalizeOllamaGenerate(t *testing.T) {
	raw := `{"choices":[{"message":{"content":"answer"}}]}`
	resp, err := NormalizeOllamaGenerate([]byte(raw), "llama3", time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if resp.Response != "answer" || !resp.Done {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.TotalDuration != 0 || resp.EvalCount != 0 {
		t.Fatalf("timing fields must stay zeroed: %+v", resp)
	}
}

func TestNormalizeOpenAIChatDefaults(t *testing.T) {
	raw := `{"candidates":[{"content":"reshaped"}]}`
	resp, err := NormalizeOpenAIChat([]byte(raw), "gemini-pro", "hi", time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if resp.Object != "chat.completion" {
		t.Fatalf("unexpected object: %q", resp.Object)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("missing finish_reason default: %+v", resp.Choices[0])
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("expected synthesized id, got %q", resp.ID)
	}
	if resp.Choices[0].Message.Content != "reshaped" {
		t.Fatalf("unexpected content: %q", resp.Choices[0].Message.Content)
	}
}

func TestNormalizeOpenAIChatKeepsUpstreamID(t *testing.T) {
	raw := `{"id":"chatcmpl-upstream","choices":[{"message":{"content":"x"},"finish_reason":"length"}]}`
	resp, err := NormalizeOpenAIChat([]byte(raw), "gpt-4", "p", time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if resp.ID != "chatcmpl-upstream" {
		t.Fatalf("upstream id must be kept: %q", resp.ID)
	}
	if resp.Choices[0].FinishReason != "length" {
		t.Fatalf("upstream finish_reason must be kept: %q", resp.Choices[0].FinishReason)
	}
}

func TestNormalizeOpenAICompletionLegacyText(t *testing.T) {
	raw := `{"choices":[{"text":"legacy completion"}]}`
	resp, err := NormalizeOpenAICompletion([]byte(raw), "gpt-3.5-turbo-instruct", "p", time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if resp.Object != "text_completion" {
		t.Fatalf("unexpected object: %q", resp.Object)
	}
	if resp.Choices[0].Text != "legacy completion" {
		t.Fatalf("legacy text path failed: %+v", resp.Choices[0])
	}
}

func TestNormalizeRejectsInvalidJSON(t *testing.T) {
	if _, err := NormalizeOllamaChat([]byte("{broken"), "m", time.Now()); err == nil {
		t.Fatal("expected decode error")
	}
}
