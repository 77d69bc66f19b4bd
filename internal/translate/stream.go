package translate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"llamagate/internal/models"
)

// Target selects the client-protocol streaming envelope.
type Target int

const (
	TargetOllamaChat Target = iota
	TargetOllamaGenerate
	TargetOpenAI
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	maxFrameBytes = 1 << 20
)

// StreamTranslator consumes an upstream incremental stream, framed as SSE
// data lines or bare NDJSON, and re-emits each frame in the client protocol's
// streaming shape. Translation is line-by-line: nothing is buffered beyond
// one complete input line, and output frames keep the upstream order.
type StreamTranslator struct {
	target Target
	model  string
	logger *slog.Logger

	id      string
	created int64
}

// NewStreamTranslator builds a translator for one streamed response.
func NewStreamTranslator(target Target, model string, logger *slog.Logger) *StreamTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamTranslator{
		target:  target,
		model:   model,
		logger:  logger,
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
	}
}

// Run pumps the upstream stream into the sink until the [DONE] sentinel or
// end of data, flushing after every emitted frame. The upstream body is
// closed on every exit path; a consumer disconnect surfaces as a write or
// scan error and terminates the pump, releasing the upstream immediately.
func (t *StreamTranslator) Run(upstream io.ReadCloser, sink io.Writer, flush func()) error {
	defer upstream.Close()

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if after := strings.TrimPrefix(line, dataPrefix); after != line {
			line = strings.TrimSpace(after)
		}
		if line == "" {
			continue
		}

		if line == doneSentinel {
			if err := t.writeTerminal(sink); err != nil {
				return err
			}
			flush()
			return nil
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			// A malformed frame is dropped, never fatal.
			t.logger.Warn("dropping malformed stream frame", "error", err)
			continue
		}

		text := runExtractors(streamExtractors, payload)
		if text == "" {
			continue
		}

		if err := t.writeChunk(sink, text); err != nil {
			return err
		}
		flush()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read upstream stream: %w", err)
	}

	// Upstream ended without an explicit sentinel; the sink is simply closed
	// by the caller.
	return nil
}

func (t *StreamTranslator) writeChunk(sink io.Writer, text string) error {
	switch t.target {
	case TargetOllamaChat:
		return writeNDJSON(sink, OllamaChatResponse{
			Model:     t.model,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
			Message:   models.ChatMessage{Role: "assistant", Content: text},
			Done:      false,
		})
	case TargetOllamaGenerate:
		return writeNDJSON(sink, OllamaGenerateResponse{
			Model:     t.model,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
			Response:  text,
			Done:      false,
		})
	default:
		return writeSSE(sink, t.chunkEnvelope(&text, nil))
	}
}

func (t *StreamTranslator) writeTerminal(sink io.Writer) error {
	switch t.target {
	case TargetOllamaChat:
		return writeNDJSON(sink, OllamaChatResponse{
			Model:     t.model,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
			Message:   models.ChatMessage{Role: "assistant", Content: ""},
			Done:      true,
		})
	case TargetOllamaGenerate:
		return writeNDJSON(sink, OllamaGenerateResponse{
			Model:     t.model,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
			Response:  "",
			Done:      true,
		})
	default:
		stop := "stop"
		if err := writeSSE(sink, t.chunkEnvelope(nil, &stop)); err != nil {
			return err
		}
		_, err := fmt.Fprintf(sink, "%s %s\n\n", dataPrefix, doneSentinel)
		return err
	}
}

type openAIChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkDelta struct {
	Content *string `json:"content,omitempty"`
}

func (t *StreamTranslator) chunkEnvelope(content, finishReason *string) openAIChunk {
	return openAIChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []chunkChoice{
			{
				Index:        0,
				Delta:        chunkDelta{Content: content},
				FinishReason: finishReason,
			},
		},
	}
}

func writeNDJSON(sink io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stream frame: %w", err)
	}
	if _, err := sink.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write stream frame: %w", err)
	}
	return nil
}

func writeSSE(sink io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stream frame: %w", err)
	}
	if _, err := fmt.Fprintf(sink, "%s %s\n\n", dataPrefix, data); err != nil {
		return fmt.Errorf("write stream frame: %w", err)
	}
	return nil
}
