package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"llamagate/internal/backend"
	"llamagate/internal/models"
	"llamagate/internal/registry"
)

// ErrInvalidRequest indicates a malformed client request that must never
// reach an adapter.
var ErrInvalidRequest = errors.New("invalid request")

// Kind distinguishes the two request shapes a client can send.
type Kind int

const (
	KindChat Kind = iota
	KindGenerate
)

// Router resolves client model names through the registry and dispatches
// unified requests to the matching adapter.
type Router struct {
	registry *registry.Registry
	adapters map[models.Backend]backend.Adapter
}

// New constructs a router over a frozen registry and adapter table.
func New(reg *registry.Registry, adapters map[models.Backend]backend.Adapter) *Router {
	return &Router{
		registry: reg,
		adapters: adapters,
	}
}

// Registry exposes the frozen alias table for the model-listing handlers.
func (r *Router) Registry() *registry.Registry {
	return r.registry
}

// Route maps a requested model name to the adapter serving it and the
// upstream model identifier to use. A resolved alias pointing at a backend
// with no configured adapter is a client error, not a crash.
func (r *Router) Route(requestedModel string, kind Kind) (backend.Adapter, string, error) {
	entry := r.registry.Resolve(requestedModel)

	adapter, ok := r.adapters[entry.Backend]
	if !ok {
		return nil, "", fmt.Errorf("%w: no adapter configured for backend %q (model %q)",
			backend.ErrUnsupportedBackend, entry.Backend, requestedModel)
	}
	return adapter, entry.UpstreamModel, nil
}

// Chat validates and dispatches a multi-turn request. The second return
// value is the resolved upstream model identifier.
func (r *Router) Chat(ctx context.Context, req models.GenerationRequest) (*models.Envelope, string, error) {
	if err := validateMessages(req.Messages); err != nil {
		return nil, "", err
	}

	adapter, upstreamModel, err := r.Route(req.Model, KindChat)
	if err != nil {
		return nil, "", err
	}

	dispatched := req
	dispatched.Model = upstreamModel

	resp, err := adapter.Chat(ctx, dispatched)
	if err != nil {
		return nil, "", fmt.Errorf("backend %s chat request: %w", adapter.Name(), err)
	}
	return resp, upstreamModel, nil
}

// Generate validates and dispatches a single-turn request.
func (r *Router) Generate(ctx context.Context, req models.GenerationRequest) (*models.Envelope, string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, "", fmt.Errorf("%w: prompt must not be empty", ErrInvalidRequest)
	}

	adapter, upstreamModel, err := r.Route(req.Model, KindGenerate)
	if err != nil {
		return nil, "", err
	}

	dispatched := req
	dispatched.Model = upstreamModel

	resp, err := adapter.Generate(ctx, dispatched)
	if err != nil {
		return nil, "", fmt.Errorf("backend %s generate request: %w", adapter.Name(), err)
	}
	return resp, upstreamModel, nil
}

func validateMessages(messages []models.ChatMessage) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: messages must be a non-empty array", ErrInvalidRequest)
	}
	for i, msg := range messages {
		if strings.TrimSpace(msg.Role) == "" || strings.TrimSpace(msg.Content) == "" {
			return fmt.Errorf("%w: message[%d] must include both role and content", ErrInvalidRequest, i)
		}
	}
	return nil
}
