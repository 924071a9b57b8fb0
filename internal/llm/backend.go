// Package llm provides a uniform chat interface over the supported model
// backends and the dispatcher that selects between them.
package llm

import (
	"context"

	"legalrag/internal/fault"
)

// ModelType names a backend.
type ModelType string

const (
	ModelOllama      ModelType = "OLLAMA"
	ModelDeepSeek    ModelType = "DEEPSEEK"
	ModelLangChain4J ModelType = "LANGCHAIN4J"
)

// ParseModelType validates a backend name.
func ParseModelType(s string) (ModelType, error) {
	switch ModelType(s) {
	case ModelOllama, ModelDeepSeek, ModelLangChain4J:
		return ModelType(s), nil
	}
	return "", fault.New(fault.KindInvalidModelType, "unknown model type %q", s)
}

// Options tunes a single chat call.
type Options struct {
	// Model overrides the backend's default model name when set.
	Model string
	// Temperature in [0,2]; zero means backend default.
	Temperature float64
	// MaxTokens caps the completion length; zero means backend default.
	MaxTokens int
}

// Backend is one model provider. StreamChat returns a content channel and an
// error channel; both are closed when the stream ends, and at most one error
// is ever delivered.
type Backend interface {
	Chat(ctx context.Context, prompt string, opts Options) (string, error)
	StreamChat(ctx context.Context, prompt string, opts Options) (<-chan string, <-chan error)
	Available(ctx context.Context) bool
	Name() string
}
