package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"llamagate/internal/models"
	"llamagate/internal/translate"
)

type openAIChatRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Stream           bool            `json:"stream"`
	MaxTokens        *int            `json:"max_tokens"`
	Temperature      *float64        `json:"temperature"`
	TopP             *float64        `json:"top_p"`
	FrequencyPenalty *float64        `json:"frequency_penalty"`
	PresencePenalty  *float64        `json:"presence_penalty"`
	Stop             json.RawMessage `json:"stop"`
	Seed             *int            `json:"seed"`
}

type openAIMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentText flattens the OpenAI content field, which may be a plain string
// or an array of typed text segments.
func (m openAIMessage) contentText() (string, error) {
	if m.Content == nil {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "" && segment.Type != "text" {
				return "", requestError{
					Status:  http.StatusBadRequest,
					Message: fmt.Sprintf("content segment type %q is not supported", segment.Type),
					Type:    "invalid_request_error",
				}
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", requestError{
		Status:  http.StatusBadRequest,
		Message: "unsupported message content structure",
		Type:    "invalid_request_error",
	}
}

func (r openAIChatRequest) options() (map[string]any, error) {
	options := make(map[string]any)
	if r.MaxTokens != nil {
		options["num_predict"] = *r.MaxTokens
	}
	if r.Temperature != nil {
		options["temperature"] = *r.Temperature
	}
	if r.TopP != nil {
		options["top_p"] = *r.TopP
	}
	if r.FrequencyPenalty != nil {
		options["frequency_penalty"] = *r.FrequencyPenalty
	}
	if r.PresencePenalty != nil {
		options["presence_penalty"] = *r.PresencePenalty
	}
	if r.Seed != nil {
		options["seed"] = *r.Seed
	}
	if len(r.Stop) > 0 {
		stop, err := parseStop(r.Stop)
		if err != nil {
			return nil, err
		}
		options["stop"] = stop
	}
	return options, nil
}

func parseStop(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		return multi, nil
	}
	return nil, requestError{
		Status:  http.StatusBadRequest,
		Message: "stop must be a string or an array of strings",
		Type:    "invalid_request_error",
	}
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req openAIChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	options, err := req.options()
	if err != nil {
		return err
	}

	messages := make([]models.ChatMessage, 0, len(req.Messages))
	var promptChars strings.Builder
	for _, m := range req.Messages {
		text, err := m.contentText()
		if err != nil {
			return err
		}
		messages = append(messages, models.ChatMessage{Role: m.Role, Content: text})
		promptChars.WriteString(text)
	}

	genReq := models.GenerationRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   req.Stream,
		Options:  options,
	}

	env, upstreamModel, err := s.router.Chat(c.Request().Context(), genReq)
	if err != nil {
		return err
	}

	displayModel := displayName(req.Model, upstreamModel)

	if req.Stream && env.Stream != nil {
		return s.streamResponse(c, env, translate.TargetOpenAI, displayModel)
	}
	defer env.Close()

	resp, err := translate.NormalizeOpenAIChat(env.Body, displayModel, promptChars.String(), time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

type openAICompletionRequest struct {
	Model       string          `json:"model"`
	Prompt      json.RawMessage `json:"prompt"`
	Stream      bool            `json:"stream"`
	MaxTokens   *int            `json:"max_tokens"`
	Temperature *float64        `json:"temperature"`
	TopP        *float64        `json:"top_p"`
	Stop        json.RawMessage `json:"stop"`
	Seed        *int            `json:"seed"`
}

func (r openAICompletionRequest) promptText() (string, error) {
	if len(r.Prompt) == 0 {
		return "", requestError{
			Status:  http.StatusBadRequest,
			Message: "prompt is required",
			Type:    "invalid_request_error",
		}
	}

	var text string
	if err := json.Unmarshal(r.Prompt, &text); err == nil {
		return text, nil
	}

	var parts []string
	if err := json.Unmarshal(r.Prompt, &parts); err == nil {
		return strings.Join(parts, "\n"), nil
	}

	return "", requestError{
		Status:  http.StatusBadRequest,
		Message: "unsupported prompt type",
		Type:    "invalid_request_error",
	}
}

func (s *Server) handleCompletions(c echo.Context) error {
	var req openAICompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	prompt, err := req.promptText()
	if err != nil {
		return err
	}

	options := make(map[string]any)
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.Seed != nil {
		options["seed"] = *req.Seed
	}
	if len(req.Stop) > 0 {
		stop, err := parseStop(req.Stop)
		if err != nil {
			return err
		}
		options["stop"] = stop
	}

	genReq := models.GenerationRequest{
		Model:   req.Model,
		Prompt:  prompt,
		Stream:  req.Stream,
		Options: options,
	}

	env, upstreamModel, err := s.router.Generate(c.Request().Context(), genReq)
	if err != nil {
		return err
	}

	displayModel := displayName(req.Model, upstreamModel)

	if req.Stream && env.Stream != nil {
		return s.streamResponse(c, env, translate.TargetOpenAI, displayModel)
	}
	defer env.Close()

	resp, err := translate.NormalizeOpenAICompletion(env.Body, displayModel, prompt, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

type openAIModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) handleOpenAIModels(c echo.Context) error {
	entries := s.router.Registry().Entries()
	now := time.Now().Unix()

	list := make([]openAIModelEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, openAIModelEntry{
			ID:      e.Alias,
			Object:  "model",
			Created: now,
			OwnedBy: string(e.Backend),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   list,
	})
}
