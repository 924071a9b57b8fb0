package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"

	"legalrag/internal/fault"
	"legalrag/internal/logging"
)

// LangChainBackend drives a local Ollama server through the langchaingo
// client, the Go counterpart of the LangChain4j integration path.
type LangChainBackend struct {
	endpoint string
	model    string
}

// NewLangChainBackend creates a langchaingo-backed chat backend.
func NewLangChainBackend(endpoint, model string) *LangChainBackend {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:7b"
	}
	return &LangChainBackend{endpoint: endpoint, model: model}
}

func (b *LangChainBackend) Name() string { return "langchain" }

func (b *LangChainBackend) newModel(opts Options) (llms.Model, error) {
	model := b.model
	if opts.Model != "" {
		model = opts.Model
	}
	m, err := lcollama.New(
		lcollama.WithServerURL(b.endpoint),
		lcollama.WithModel(model),
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindModelUnavailable, err, "failed to create langchain model")
	}
	return m, nil
}

func callOptions(opts Options) []llms.CallOption {
	var co []llms.CallOption
	if opts.Temperature > 0 {
		co = append(co, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		co = append(co, llms.WithMaxTokens(opts.MaxTokens))
	}
	return co
}

// Chat sends a blocking generation request.
func (b *LangChainBackend) Chat(ctx context.Context, prompt string, opts Options) (string, error) {
	timer := logging.StartTimer(logging.CategoryDispatch, "langchain.Chat")
	defer timer.Stop()

	m, err := b.newModel(opts)
	if err != nil {
		return "", err
	}

	answer, err := llms.GenerateFromSinglePrompt(ctx, m, prompt, callOptions(opts)...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fault.Wrap(fault.KindModelTimeout, err, "langchain chat timed out")
		}
		return "", fault.Wrap(fault.KindModelUnavailable, err, "langchain generation failed")
	}
	return answer, nil
}

// StreamChat streams deltas through langchaingo's streaming callback.
func (b *LangChainBackend) StreamChat(ctx context.Context, prompt string, opts Options) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		m, err := b.newModel(opts)
		if err != nil {
			errorChan <- err
			return
		}

		co := append(callOptions(opts), llms.WithStreamingFunc(func(cbCtx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			select {
			case contentChan <- string(chunk):
				return nil
			case <-cbCtx.Done():
				return cbCtx.Err()
			}
		}))

		if _, err := llms.GenerateFromSinglePrompt(ctx, m, prompt, co...); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				errorChan <- fault.Wrap(fault.KindModelTimeout, err, "langchain stream timed out")
				return
			}
			errorChan <- fault.Wrap(fault.KindModelUnavailable, err, "langchain stream failed")
		}
	}()

	return contentChan, errorChan
}

// Available probes the underlying server by constructing a client. The
// langchaingo constructor validates the endpoint without a network call, so
// this reports configuration sanity, like the DeepSeek backend.
func (b *LangChainBackend) Available(ctx context.Context) bool {
	_, err := b.newModel(Options{})
	if err != nil {
		logging.DispatchDebug("langchain unavailable: %v", err)
		return false
	}
	return true
}
