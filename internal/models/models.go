package models

import "io"

// Backend identifies one upstream provider family.
type Backend string

const (
	BackendOpenAI Backend = "openai"
	BackendGemini Backend = "gemini"
	BackendOllama Backend = "ollama"
)

// ChatMessage represents a single conversational message in the unified schema.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// GenerationRequest is the canonical backend-agnostic representation of a
// generation or chat request. Prompt is set for single-turn requests,
// Messages for multi-turn ones. Options is a sparse bag; absent keys take
// provider defaults inside each adapter.
type GenerationRequest struct {
	Model    string
	Prompt   string
	System   string
	Messages []ChatMessage
	Stream   bool
	Options  map[string]any
}

// Envelope carries one upstream response: either a buffered body or a live,
// single-consumption byte stream. Whoever consumes the stream owns it and
// must close it on every exit path.
type Envelope struct {
	StatusCode int
	Body       []byte
	Stream     io.ReadCloser
}

// Close releases the live stream, if any. Safe to call on buffered envelopes.
func (e *Envelope) Close() error {
	if e == nil || e.Stream == nil {
		return nil
	}
	return e.Stream.Close()
}

// ModelInfo identifies one model advertised by an upstream backend.
type ModelInfo struct {
	ID      string
	Backend Backend
}

// AliasEntry maps a client-facing model alias to a concrete backend and
// upstream model identifier.
type AliasEntry struct {
	Alias         string
	Backend       Backend
	UpstreamModel string
}
