package llm

import (
	"context"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"legalrag/internal/fault"
	"legalrag/internal/logging"
)

// DeepSeekBackend talks to the DeepSeek API, which speaks the OpenAI chat
// completions protocol.
type DeepSeekBackend struct {
	client openai.Client
	apiKey string
	model  string
}

// NewDeepSeekBackend creates a DeepSeek chat backend.
func NewDeepSeekBackend(apiKey, baseURL, model string, timeout time.Duration) *DeepSeekBackend {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	if model == "" {
		model = "deepseek-chat"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(timeout),
	)
	return &DeepSeekBackend{client: client, apiKey: apiKey, model: model}
}

func (b *DeepSeekBackend) Name() string { return "deepseek" }

func (b *DeepSeekBackend) params(prompt string, opts Options) openai.ChatCompletionNewParams {
	model := b.model
	if opts.Model != "" {
		model = opts.Model
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	return params
}

// Chat sends a blocking completion request.
func (b *DeepSeekBackend) Chat(ctx context.Context, prompt string, opts Options) (string, error) {
	timer := logging.StartTimer(logging.CategoryDispatch, "deepseek.Chat")
	defer timer.Stop()

	if b.apiKey == "" {
		return "", fault.New(fault.KindModelUnavailable, "deepseek api key not configured")
	}

	resp, err := b.client.Chat.Completions.New(ctx, b.params(prompt, opts))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fault.Wrap(fault.KindModelTimeout, err, "deepseek chat timed out")
		}
		return "", fault.Wrap(fault.KindModelUnavailable, err, "deepseek request failed")
	}
	if len(resp.Choices) == 0 {
		return "", fault.New(fault.KindModelUnavailable, "deepseek returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamChat streams completion deltas.
func (b *DeepSeekBackend) StreamChat(ctx context.Context, prompt string, opts Options) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		if b.apiKey == "" {
			errorChan <- fault.New(fault.KindModelUnavailable, "deepseek api key not configured")
			return
		}

		stream := b.client.Chat.Completions.NewStreaming(ctx, b.params(prompt, opts))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				errorChan <- streamCtxError(ctx)
				return
			}
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				errorChan <- fault.Wrap(fault.KindModelTimeout, err, "deepseek stream timed out")
				return
			}
			errorChan <- fault.Wrap(fault.KindModelUnavailable, err, "deepseek stream failed")
		}
	}()

	return contentChan, errorChan
}

// Available reports whether the backend is configured. DeepSeek has no cheap
// health endpoint, so configuration is the availability signal.
func (b *DeepSeekBackend) Available(ctx context.Context) bool {
	return b.apiKey != ""
}
