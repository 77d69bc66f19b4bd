package backend

import (
	"context"
	"errors"
	"fmt"

	"llamagate/internal/models"
)

// ErrMissingAPIKey indicates an adapter requires an API key that was never
// configured. Detected before any network call is made.
var ErrMissingAPIKey = errors.New("api key not configured")

// ErrUnsupportedBackend indicates a resolved alias references a backend with
// no configured adapter.
var ErrUnsupportedBackend = errors.New("unsupported backend")

// Adapter wraps one upstream provider's HTTP surface behind a uniform
// capability interface. Implementations construct the provider-specific wire
// request from the unified shape and, for non-streaming calls, reshape the
// raw payload into a choices[0].message.content-compatible view when the
// provider's native shape differs. Streaming payloads pass through untouched.
type Adapter interface {
	Name() models.Backend
	Generate(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error)
	Chat(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error)
	ListModels(ctx context.Context) ([]models.ModelInfo, error)
}

// UpstreamError carries an upstream HTTP failure: the provider's status code
// and response body, passed through without interpretation.
type UpstreamError struct {
	Backend models.Backend
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream returned status %d: %s", e.Backend, e.Status, e.Body)
}
