package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"legalrag/internal/fault"
	"legalrag/internal/logging"
)

// OllamaBackend talks to a local Ollama server over its native chat API.
type OllamaBackend struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// NewOllamaBackend creates an Ollama chat backend.
func NewOllamaBackend(endpoint, model string, timeout time.Duration) *OllamaBackend {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:7b"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaBackend{
		endpoint: endpoint,
		model:    model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (b *OllamaBackend) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}

func (b *OllamaBackend) buildRequest(prompt string, opts Options, stream bool) ollamaChatRequest {
	model := b.model
	if opts.Model != "" {
		model = opts.Model
	}
	req := ollamaChatRequest{
		Model:    model,
		Messages: []ollamaChatMessage{{Role: "user", Content: prompt}},
		Stream:   stream,
	}
	if opts.Temperature > 0 {
		if req.Options == nil {
			req.Options = map[string]any{}
		}
		req.Options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		if req.Options == nil {
			req.Options = map[string]any{}
		}
		req.Options["num_predict"] = opts.MaxTokens
	}
	return req
}

// Chat sends a blocking chat request.
func (b *OllamaBackend) Chat(ctx context.Context, prompt string, opts Options) (string, error) {
	timer := logging.StartTimer(logging.CategoryDispatch, "ollama.Chat")
	defer timer.Stop()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.httpClient.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(b.buildRequest(prompt, opts, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fault.Wrap(fault.KindModelTimeout, err, "ollama chat timed out")
		}
		return "", fault.Wrap(fault.KindModelUnavailable, err, "ollama request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fault.New(fault.KindModelUnavailable, "ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return "", fault.New(fault.KindModelUnavailable, "ollama error: %s", result.Error)
	}
	return result.Message.Content, nil
}

// StreamChat streams token deltas over the returned channel. Ollama emits
// newline-delimited JSON objects; the final object has done=true.
func (b *OllamaBackend) StreamChat(ctx context.Context, prompt string, opts Options) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.httpClient.Timeout)
			defer cancel()
		}

		body, err := json.Marshal(b.buildRequest(prompt, opts, true))
		if err != nil {
			errorChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", b.endpoint+"/api/chat", bytes.NewReader(body))
		if err != nil {
			errorChan <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		// The stream can outlive the client timeout; the context deadline is
		// the single authority here.
		client := &http.Client{}
		resp, err := client.Do(req)
		if err != nil {
			errorChan <- fault.Wrap(fault.KindModelUnavailable, err, "ollama request failed")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errorChan <- fault.New(fault.KindModelUnavailable, "ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				logging.DispatchDebug("Skipping malformed ollama chunk: %v", err)
				continue
			}
			if chunk.Error != "" {
				errorChan <- fault.New(fault.KindModelUnavailable, "ollama error: %s", chunk.Error)
				return
			}
			if chunk.Message.Content != "" {
				select {
				case contentChan <- chunk.Message.Content:
				case <-ctx.Done():
					errorChan <- streamCtxError(ctx)
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				errorChan <- streamCtxError(ctx)
				return
			}
			errorChan <- fault.Wrap(fault.KindModelUnavailable, err, "ollama stream broke")
		}
	}()

	return contentChan, errorChan
}

func streamCtxError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fault.Wrap(fault.KindModelTimeout, ctx.Err(), "stream timed out")
	}
	return ctx.Err()
}

// Available probes the Ollama server.
func (b *OllamaBackend) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", b.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
