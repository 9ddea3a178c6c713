// Package llm routes prompts to hosted language models. Every provider
// implements the same Provider interface; Registry builds them from config
// and wraps each in retry and circuit-breaker protection.
package llm

import (
	"context"
	"sort"
	"strings"
)

// Request is one completion call.
type Request struct {
	Model           string
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
	// JSONMode asks the provider to constrain output to a JSON object where
	// the API supports it.
	JSONMode bool
}

// Response carries the model's text and token usage. Token counts are zero
// when the provider does not report them.
type Response struct {
	Text         string
	Model        string
	PromptTokens int
	TotalTokens  int
}

// Provider is a hosted model API.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// Provider names.
const (
	Gemini = "gemini"
	OpenAI = "openai"
	Claude = "claude"
	GLM    = "glm"
)

// Catalogue lists the models offered per provider.
var Catalogue = map[string][]string{
	Gemini: {"gemini-2.5-flash", "gemini-2.5-pro", "gemini-1.5-flash", "gemini-1.5-pro"},
	OpenAI: {"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"},
	Claude: {"claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "claude-3-haiku-20240307"},
	GLM:    {"glm-4", "glm-4-flash", "glm-4-air", "glm-4-plus"},
}

// Names returns the supported provider names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Catalogue))
	for name := range Catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether name is a known provider.
func Supported(name string) bool {
	_, ok := Catalogue[normalizeName(name)]
	return ok
}

// SupportsJSONMode reports whether the provider's API can constrain output to
// JSON.
func SupportsJSONMode(name string) bool {
	switch normalizeName(name) {
	case Gemini, OpenAI, GLM:
		return true
	}
	return false
}

// DefaultModel returns the first catalogued model of a provider.
func DefaultModel(name string) string {
	models := Catalogue[normalizeName(name)]
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
