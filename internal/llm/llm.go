// Package llm provides the text-generation backends used to translate
// audience prompts into filters and to describe saved segments.
//
// Every backend implements Generator. Callers pass a system instruction and a
// single user prompt and get back the first text response; conversation state
// and tool use are out of scope.
package llm

import (
	"context"
	"errors"
)

// Provider names accepted in configuration.
const (
	ProviderGemini  = "gemini"
	ProviderBedrock = "bedrock"
	ProviderOpenAI  = "openai"
)

var (
	// ErrNoCredentials is returned when a provider needs an API key and none
	// was configured.
	ErrNoCredentials = errors.New("llm: missing credentials")
	// ErrUnknownProvider is returned for a provider name New does not know.
	ErrUnknownProvider = errors.New("llm: unknown provider")
	// ErrEmptyCompletion is returned when the provider answered without text.
	ErrEmptyCompletion = errors.New("llm: provider returned no text")
)

// Request is a single-shot generation request.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// Operation labels the call for metrics and logs ("translate", "describe").
	Operation string
}

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
