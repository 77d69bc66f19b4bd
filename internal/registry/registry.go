package registry

import (
	"context"
	"log/slog"
	"strings"

	"llamagate/internal/backend"
	"llamagate/internal/models"
)

// Registry holds the alias to (backend, upstream model) mapping. It is built
// once at startup and never mutated afterwards, so concurrent readers need no
// locking.
//
// Resolution walks aliases in registration order and picks the first alias
// that is a prefix of the requested name. Register more specific aliases
// first: with "llama" registered before "llama2", a request for "llama2" will
// match "llama". This ordering hazard is inherent to prefix matching and is
// not corrected automatically.
type Registry struct {
	entries []models.AliasEntry
	index   map[string]int
}

// New constructs a registry from the given entries, preserving order.
// Registering an alias twice keeps its original position but the later
// entry's target wins.
func New(entries []models.AliasEntry) *Registry {
	r := &Registry{
		index: make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		r.add(e)
	}
	return r
}

func (r *Registry) add(e models.AliasEntry) {
	e.Alias = strings.ToLower(strings.TrimSpace(e.Alias))
	if e.Alias == "" {
		return
	}
	if pos, ok := r.index[e.Alias]; ok {
		r.entries[pos] = e
		return
	}
	r.index[e.Alias] = len(r.entries)
	r.entries = append(r.entries, e)
}

// Resolve maps a requested model name to an alias entry. The comparison is
// case-insensitive: the first registered alias that is a prefix of the
// lowercased request wins. Unknown names fall back to the OpenAI backend with
// the requested name forwarded verbatim.
func (r *Registry) Resolve(requested string) models.AliasEntry {
	name := strings.ToLower(strings.TrimSpace(requested))

	for _, e := range r.entries {
		if strings.HasPrefix(name, e.Alias) {
			return e
		}
	}

	return models.AliasEntry{
		Alias:         name,
		Backend:       models.BackendOpenAI,
		UpstreamModel: strings.TrimSpace(requested),
	}
}

// Entries returns a copy of the registered aliases in registration order.
func (r *Registry) Entries() []models.AliasEntry {
	out := make([]models.AliasEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the number of registered aliases.
func (r *Registry) Len() int {
	return len(r.entries)
}

// buildOrder fixes the adapter iteration order so discovery is deterministic.
var buildOrder = []models.Backend{
	models.BackendOpenAI,
	models.BackendGemini,
	models.BackendOllama,
}

// Build runs the startup discovery pass: each adapter's model listing is
// queried and every returned model registered under its normalized short
// form. A single adapter failure is logged and skipped; it never aborts
// discovery for the others. When discovery produces nothing at all, the
// hardcoded default table is installed instead.
func Build(ctx context.Context, adapters map[models.Backend]backend.Adapter, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{index: make(map[string]int)}

	for _, tag := range buildOrder {
		adapter, ok := adapters[tag]
		if !ok {
			continue
		}

		listed, err := adapter.ListModels(ctx)
		if err != nil {
			logger.Warn("model discovery failed for backend, skipping",
				"backend", string(tag),
				"error", err,
			)
			continue
		}

		// Per-model aliases first, family conveniences after, so the
		// specific names are matched ahead of the generic ones.
		var families []models.AliasEntry
		for _, m := range listed {
			short := normalizeAlias(m.ID)
			r.add(models.AliasEntry{
				Alias:         short,
				Backend:       m.Backend,
				UpstreamModel: m.ID,
			})
			if fam, ok := familyAlias(short, m); ok {
				families = append(families, fam)
			}
		}
		for _, fam := range families {
			r.add(fam)
		}

		logger.Info("registered backend models",
			"backend", string(tag),
			"count", len(listed),
		)
	}

	if r.Len() == 0 {
		logger.Warn("model discovery produced no aliases, installing default table")
		return Default()
	}

	return r
}

// Default returns the fallback alias table used when discovery yields
// nothing: one well-known alias per backend.
func Default() *Registry {
	return New([]models.AliasEntry{
		{Alias: "gpt", Backend: models.BackendOpenAI, UpstreamModel: "gpt-3.5-turbo"},
		{Alias: "gemini", Backend: models.BackendGemini, UpstreamModel: "gemini-pro"},
		{Alias: "llama", Backend: models.BackendOllama, UpstreamModel: "llama3"},
	})
}

// normalizeAlias derives the short client-facing form of an upstream model
// identifier: known vendor prefixes stripped, lowercased.
func normalizeAlias(id string) string {
	short := strings.TrimPrefix(id, "models/")
	return strings.ToLower(short)
}

// familyAlias registers a generic convenience alias when the model
// identifier matches a recognized family pattern.
func familyAlias(short string, m models.ModelInfo) (models.AliasEntry, bool) {
	switch {
	case strings.HasPrefix(short, "gpt-4"):
		return models.AliasEntry{Alias: "gpt4", Backend: m.Backend, UpstreamModel: m.ID}, true
	case strings.Contains(short, "llama"):
		return models.AliasEntry{Alias: "llama", Backend: m.Backend, UpstreamModel: m.ID}, true
	}
	return models.AliasEntry{}, false
}
