package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"llamagate/internal/backend"
	"llamagate/internal/models"
)

type fakeAdapter struct {
	name   models.Backend
	listed []models.ModelInfo
	err    error
}

func (f *fakeAdapter) Name() models.Backend { return f.name }

func (f *fakeAdapter) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.listed, nil
}

func (f *fakeAdapter) Generate(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) Chat(ctx context.Context, req models.GenerationRequest) (*models.Envelope, error) {
	return nil, errors.New("not used")
}

func TestResolvePrefixMatchRegistrationOrder(t *testing.T) {
	r := New([]models.AliasEntry{
		{Alias: "gpt4", Backend: models.BackendOpenAI, UpstreamModel: "gpt-4"},
		{Alias: "gpt", Backend: models.BackendOpenAI, UpstreamModel: "gpt-3.5-turbo"},
	})

	entry := r.Resolve("gpt4-turbo")
	if entry.UpstreamModel != "gpt-4" {
		t.Fatalf("expected first matching prefix gpt4, got %q", entry.UpstreamModel)
	}

	entry = r.Resolve("gpt-3.5-turbo-16k")
	if entry.UpstreamModel != "gpt-3.5-turbo" {
		t.Fatalf("expected gpt alias, got %q", entry.UpstreamModel)
	}
}

func TestResolveCaseInsensitive(t *testing.T) {
	r := New([]models.AliasEntry{
		{Alias: "llama", Backend: models.BackendOllama, UpstreamModel: "llama3"},
	})

	entry := r.Resolve("LLaMA2:13b")
	if entry.Backend != models.BackendOllama || entry.UpstreamModel != "llama3" {
		t.Fatalf("case-insensitive match failed: %+v", entry)
	}
}

func TestResolveUnknownFallsBackToOpenAI(t *testing.T) {
	r := New([]models.AliasEntry{
		{Alias: "llama", Backend: models.BackendOllama, UpstreamModel: "llama3"},
	})

	entry := r.Resolve("Mistral-7B")
	if entry.Backend != models.BackendOpenAI {
		t.Fatalf("expected openai fallback, got %q", entry.Backend)
	}
	if entry.UpstreamModel != "Mistral-7B" {
		t.Fatalf("expected requested name forwarded verbatim, got %q", entry.UpstreamModel)
	}
}

func TestResolveDeterministic(t *testing.T) {
	r := New([]models.AliasEntry{
		{Alias: "gemini", Backend: models.BackendGemini, UpstreamModel: "gemini-pro"},
		{Alias: "gpt", Backend: models.BackendOpenAI, UpstreamModel: "gpt-3.5-turbo"},
	})

	first := r.Resolve("gemini-1.5-flash")
	for i := 0; i < 100; i++ {
		if got := r.Resolve("gemini-1.5-flash"); got != first {
			t.Fatalf("resolution not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestResolveLastRegistrationWins(t *testing.T) {
	r := New([]models.AliasEntry{
		{Alias: "llama", Backend: models.BackendOllama, UpstreamModel: "llama2"},
		{Alias: "llama", Backend: models.BackendOllama, UpstreamModel: "llama3"},
	})

	if got := r.Resolve("llama").UpstreamModel; got != "llama3" {
		t.Fatalf("expected later registration to win, got %q", got)
	}
}

func TestBuildRegistersDiscoveredModels(t *testing.T) {
	adapters := map[models.Backend]backend.Adapter{
		models.BackendOpenAI: &fakeAdapter{
			name: models.BackendOpenAI,
			listed: []models.ModelInfo{
				{ID: "gpt-4o", Backend: models.BackendOpenAI},
				{ID: "gpt-3.5-turbo", Backend: models.BackendOpenAI},
			},
		},
		models.BackendGemini: &fakeAdapter{
			name: models.BackendGemini,
			listed: []models.ModelInfo{
				{ID: "models/gemini-pro", Backend: models.BackendGemini},
			},
		},
	}

	r := Build(context.Background(), adapters, slog.Default())

	entry := r.Resolve("gpt-4o")
	if entry.UpstreamModel != "gpt-4o" {
		t.Fatalf("expected discovered gpt-4o, got %+v", entry)
	}

	// Vendor prefix stripped from the registered alias, full id kept as target.
	entry = r.Resolve("gemini-pro")
	if entry.Backend != models.BackendGemini || entry.UpstreamModel != "models/gemini-pro" {
		t.Fatalf("vendor prefix normalization failed: %+v", entry)
	}

	// Family convenience alias.
	entry = r.Resolve("gpt4")
	if entry.Backend != models.BackendOpenAI || entry.UpstreamModel != "gpt-4o" {
		t.Fatalf("expected gpt4 family alias for gpt-4o, got %+v", entry)
	}
}

func TestBuildIsolatesAdapterFailures(t *testing.T) {
	adapters := map[models.Backend]backend.Adapter{
		models.BackendOpenAI: &fakeAdapter{
			name: models.BackendOpenAI,
			err:  errors.New("listing exploded"),
		},
		models.BackendOllama: &fakeAdapter{
			name: models.BackendOllama,
			listed: []models.ModelInfo{
				{ID: "llama3:latest", Backend: models.BackendOllama},
			},
		},
	}

	r := Build(context.Background(), adapters, slog.Default())

	entry := r.Resolve("llama3:latest")
	if entry.Backend != models.BackendOllama {
		t.Fatalf("expected surviving adapter's models registered, got %+v", entry)
	}
}

func TestBuildFallsBackToDefaultTable(t *testing.T) {
	adapters := map[models.Backend]backend.Adapter{
		models.BackendOpenAI: &fakeAdapter{name: models.BackendOpenAI, err: errors.New("down")},
		models.BackendGemini: &fakeAdapter{name: models.BackendGemini, err: errors.New("down")},
	}

	r := Build(context.Background(), adapters, slog.Default())
	if r.Len() == 0 {
		t.Fatal("expected default table, got empty registry")
	}

	if got := r.Resolve("gemini-pro"); got.Backend != models.BackendGemini {
		t.Fatalf("default table missing gemini alias: %+v", got)
	}
	if got := r.Resolve("llama3"); got.Backend != models.BackendOllama {
		t.Fatalf("default table missing llama alias: %+v", got)
	}
}
