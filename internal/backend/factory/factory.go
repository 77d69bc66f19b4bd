package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"llamagate/internal/backend"
	geminiBackend "llamagate/internal/backend/gemini"
	ollamaBackend "llamagate/internal/backend/ollama"
	openaiBackend "llamagate/internal/backend/openai"
	"llamagate/internal/config"
	"llamagate/internal/models"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// BuildAdapters constructs one adapter per configured backend. The returned
// table is what the router dispatches against; a backend absent from the
// configuration is simply absent from the table.
func BuildAdapters(cfg config.Config) (map[models.Backend]backend.Adapter, error) {
	adapters := make(map[models.Backend]backend.Adapter)

	if cfg.Backends.OpenAI != nil {
		adapter, err := openaiBackend.New(*cfg.Backends.OpenAI, newHTTPClient())
		if err != nil {
			return nil, fmt.Errorf("initialise openai adapter: %w", err)
		}
		adapters[models.BackendOpenAI] = adapter
	}

	if cfg.Backends.Gemini != nil {
		adapter, err := geminiBackend.New(*cfg.Backends.Gemini, newHTTPClient())
		if err != nil {
			return nil, fmt.Errorf("initialise gemini adapter: %w", err)
		}
		adapters[models.BackendGemini] = adapter
	}

	if cfg.Backends.Ollama != nil {
		adapter, err := ollamaBackend.New(*cfg.Backends.Ollama, newHTTPClient())
		if err != nil {
			return nil, fmt.Errorf("initialise ollama adapter: %w", err)
		}
		adapters[models.BackendOllama] = adapter
	}

	return adapters, nil
}

// newHTTPClient builds a transport tuned for long-lived streaming responses.
// No overall client timeout: a streamed generation legitimately outlives any
// fixed deadline, and cancellation rides on the request context instead.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}

	return &http.Client{
		Transport: transport,
	}
}
