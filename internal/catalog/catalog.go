// Package catalog lists the models the client can talk to.
package catalog

import "strings"

// Provider names the backend family serving a model.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
)

// Model describes one selectable model.
type Model struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Provider    Provider `json:"provider"`
}

const (
	// TopTier is the model that falls back on quota exhaustion.
	TopTier = "gemini-2.5-pro"
	// Fallback replaces TopTier when its quota runs out.
	Fallback = "gemini-2.5-flash"
	// Default is selected on first start.
	Default = TopTier
)

var models = []Model{
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Description: "Most capable, reasoning and long context", Provider: ProviderGemini},
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Description: "Fast and cheap, good default", Provider: ProviderGemini},
	{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite", Description: "Lowest latency", Provider: ProviderGemini},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", Description: "OpenAI compatible endpoint", Provider: ProviderOpenAI},
	{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Description: "Anthropic", Provider: ProviderClaude},
}

// All returns a copy of the catalog in display order.
func All() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Lookup finds a model by id.
func Lookup(id string) (Model, bool) {
	id = strings.TrimSpace(id)
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// IsTopTier reports whether id is the model subject to quota fallback.
func IsTopTier(id string) bool {
	return id == TopTier
}
