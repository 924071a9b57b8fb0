package llm

import (
	"context"

	"legalrag/internal/config"
	"legalrag/internal/fault"
	"legalrag/internal/logging"
)

// Dispatcher selects a backend per request. Selection is by explicit model
// type; when the selected backend fails its health check, the first available
// backend in fallbackOrder takes the call instead. Fallback happens only at
// selection time. There is no mid-stream fallback: a failing stream ends with
// its error.
type Dispatcher struct {
	backends       map[ModelType]Backend
	defaultBackend ModelType
}

// fallbackOrder fixes the substitution sequence for unavailable backends.
var fallbackOrder = []ModelType{ModelOllama, ModelDeepSeek, ModelLangChain4J}

// NewDispatcher wires the three standard backends from configuration.
func NewDispatcher(cfg config.LLMConfig, timeouts config.TimeoutsConfig) *Dispatcher {
	chatTimeout := timeouts.Chat.Std()

	d := &Dispatcher{
		backends: map[ModelType]Backend{
			ModelOllama:      NewOllamaBackend(cfg.Ollama.Endpoint, cfg.Ollama.Model, chatTimeout),
			ModelDeepSeek:    NewDeepSeekBackend(cfg.DeepSeek.APIKey, cfg.DeepSeek.BaseURL, cfg.DeepSeek.Model, chatTimeout),
			ModelLangChain4J: NewLangChainBackend(cfg.LangChain.Endpoint, cfg.LangChain.Model),
		},
		defaultBackend: ModelOllama,
	}
	if t, err := ParseModelType(cfg.DefaultBackend); err == nil {
		d.defaultBackend = t
	}
	return d
}

// NewDispatcherWithBackends builds a dispatcher over explicit backends.
func NewDispatcherWithBackends(backends map[ModelType]Backend, def ModelType) *Dispatcher {
	return &Dispatcher{backends: backends, defaultBackend: def}
}

// Default returns the configured default backend type.
func (d *Dispatcher) Default() ModelType { return d.defaultBackend }

// Backend resolves a model type. Empty selects the default.
func (d *Dispatcher) Backend(t ModelType) (Backend, error) {
	if t == "" {
		t = d.defaultBackend
	}
	b, ok := d.backends[t]
	if !ok {
		return nil, fault.New(fault.KindInvalidModelType, "no backend for model type %q", t)
	}
	return b, nil
}

// resolve picks the backend for a call: the requested one when healthy,
// otherwise the first available substitute in fallbackOrder. With no healthy
// substitute the requested backend keeps the call and surfaces its own error.
func (d *Dispatcher) resolve(ctx context.Context, t ModelType) (Backend, error) {
	b, err := d.Backend(t)
	if err != nil {
		return nil, err
	}
	if b.Available(ctx) {
		return b, nil
	}
	for _, alt := range fallbackOrder {
		sub, ok := d.backends[alt]
		if !ok || sub == b {
			continue
		}
		if sub.Available(ctx) {
			logging.Dispatch("Backend %s unavailable, falling back to %s", b.Name(), sub.Name())
			return sub, nil
		}
	}
	logging.Dispatch("Backend %s unavailable and no healthy fallback", b.Name())
	return b, nil
}

// Chat dispatches a blocking chat call.
func (d *Dispatcher) Chat(ctx context.Context, t ModelType, prompt string, opts Options) (string, error) {
	b, err := d.resolve(ctx, t)
	if err != nil {
		return "", err
	}
	logging.Dispatch("Chat via %s (model=%q)", b.Name(), opts.Model)
	return b.Chat(ctx, prompt, opts)
}

// StreamChat dispatches a streaming chat call.
func (d *Dispatcher) StreamChat(ctx context.Context, t ModelType, prompt string, opts Options) (<-chan string, <-chan error) {
	b, err := d.resolve(ctx, t)
	if err != nil {
		contentChan := make(chan string)
		errorChan := make(chan error, 1)
		errorChan <- err
		close(contentChan)
		close(errorChan)
		return contentChan, errorChan
	}
	logging.Dispatch("StreamChat via %s (model=%q)", b.Name(), opts.Model)
	return b.StreamChat(ctx, prompt, opts)
}

// Available reports backend availability for status endpoints.
func (d *Dispatcher) Available(ctx context.Context, t ModelType) bool {
	b, err := d.Backend(t)
	if err != nil {
		return false
	}
	return b.Available(ctx)
}
