package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"llamagate/internal/models"
	"llamagate/internal/translate"
)

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system"`
	Stream  *bool          `json:"stream"`
	Options map[string]any `json:"options"`
	Images  []string       `json:"images"`
}

type ollamaChatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   *bool                `json:"stream"`
	Options  map[string]any       `json:"options"`
}

// The native protocol streams by default; an absent stream field means true.
func streamDefault(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}

func (s *Server) handleOllamaGenerate(c echo.Context) error {
	var req ollamaGenerateRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	stream := streamDefault(req.Stream)
	genReq := models.GenerationRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  stream,
		Options: req.Options,
	}

	env, upstreamModel, err := s.router.Generate(c.Request().Context(), genReq)
	if err != nil {
		return err
	}

	displayModel := displayName(req.Model, upstreamModel)

	if stream && env.Stream != nil {
		return s.streamResponse(c, env, translate.TargetOllamaGenerate, displayModel)
	}
	defer env.Close()

	resp, err := translate.NormalizeOllamaGenerate(env.Body, displayModel, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOllamaChat(c echo.Context) error {
	var req ollamaChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	stream := streamDefault(req.Stream)
	genReq := models.GenerationRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
		Options:  req.Options,
	}

	env, upstreamModel, err := s.router.Chat(c.Request().Context(), genReq)
	if err != nil {
		return err
	}

	displayModel := displayName(req.Model, upstreamModel)

	if stream && env.Stream != nil {
		return s.streamResponse(c, env, translate.TargetOllamaChat, displayModel)
	}
	defer env.Close()

	resp, err := translate.NormalizeOllamaChat(env.Body, displayModel, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

type ollamaModelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

type ollamaModelEntry struct {
	Name       string             `json:"name"`
	Model      string             `json:"model"`
	ModifiedAt string             `json:"modified_at"`
	Size       int64              `json:"size"`
	Digest     string             `json:"digest"`
	Details    ollamaModelDetails `json:"details"`
}

func (s *Server) handleOllamaTags(c echo.Context) error {
	entries := s.router.Registry().Entries()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	list := make([]ollamaModelEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, ollamaModelEntry{
			Name:       e.Alias,
			Model:      e.Alias,
			ModifiedAt: now,
			Details: ollamaModelDetails{
				Format:   "unknown",
				Family:   string(e.Backend),
				Families: []string{string(e.Backend)},
			},
		})
	}

	return c.JSON(http.StatusOK, map[string][]ollamaModelEntry{"models": list})
}

type ollamaShowRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (s *Server) handleOllamaShow(c echo.Context) error {
	var req ollamaShowRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	name := req.Model
	if name == "" {
		name = req.Name
	}
	if name == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "model name is required",
			Type:    "invalid_request_error",
		}
	}

	entry := s.router.Registry().Resolve(name)
	return c.JSON(http.StatusOK, map[string]any{
		"license":    "",
		"modelfile":  "",
		"parameters": "",
		"template":   "",
		"details": ollamaModelDetails{
			Family:   string(entry.Backend),
			Families: []string{string(entry.Backend)},
			Format:   "unknown",
		},
	})
}

func (s *Server) handleOllamaModelInfo(c echo.Context) error {
	name := c.Param("model")
	entry := s.router.Registry().Resolve(name)
	return c.JSON(http.StatusOK, map[string]string{
		"model":          name,
		"backend":        string(entry.Backend),
		"upstream_model": entry.UpstreamModel,
	})
}

// displayName picks the model name echoed back to the client: the name the
// client asked for, falling back to the resolved upstream identifier.
func displayName(requested, upstream string) string {
	if requested != "" {
		return requested
	}
	return upstream
}
