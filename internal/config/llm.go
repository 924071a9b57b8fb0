package config

// LLMConfig configures the chat model backends.
type LLMConfig struct {
	// DefaultBackend selects the backend used when neither the request nor
	// the mode policy names one: ollama, deepseek, langchain4j.
	DefaultBackend string `yaml:"default_backend"`

	Ollama    OllamaBackendConfig    `yaml:"ollama"`
	DeepSeek  DeepSeekBackendConfig  `yaml:"deepseek"`
	LangChain LangChainBackendConfig `yaml:"langchain"`
}

// OllamaBackendConfig configures the local Ollama chat backend.
type OllamaBackendConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// DeepSeekBackendConfig configures the remote DeepSeek backend.
// DeepSeek exposes an OpenAI-compatible API surface.
type DeepSeekBackendConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// LangChainBackendConfig configures the alternate local client backend.
type LangChainBackendConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// DefaultLLMConfig returns backend defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultBackend: "ollama",
		Ollama: OllamaBackendConfig{
			Endpoint: "http://localhost:11434",
			Model:    "qwen2.5:7b",
		},
		DeepSeek: DeepSeekBackendConfig{
			BaseURL: "https://api.deepseek.com",
			Model:   "deepseek-chat",
		},
		LangChain: LangChainBackendConfig{
			Endpoint: "http://localhost:11434",
			Model:    "qwen2.5:7b",
		},
	}
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	// MaxTokens is the per-call truncation target (default 500).
	MaxTokens int `yaml:"max_tokens"`

	// MaxConcurrent caps in-flight embedding and search calls (default 8).
	MaxConcurrent int `yaml:"max_concurrent"`
}
