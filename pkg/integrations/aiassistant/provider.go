package aiassistant

import (
	"context"
	"errors"
	"fmt"

	"github.com/fanex-id/integrations/pkg/services"
)

// Provider names. ProviderAuto asks the dispatcher to choose.
const (
	ProviderAuto    = "auto"
	ProviderGemini  = "gemini"
	ProviderChatGPT = "chatgpt"
	ProviderAzure   = "azure"
	ProviderClaude  = "claude"
)

// priority is the fallback order used when provider is "auto" and the
// default provider has no credentials.
var priority = []string{ProviderGemini, ProviderChatGPT, ProviderAzure, ProviderClaude}

var (
	// ErrNoProvider is returned when no provider has credentials configured.
	ErrNoProvider = errors.New("no AI provider API keys configured")

	// ErrProviderUnavailable is returned for an explicitly requested provider
	// whose credentials are missing.
	ErrProviderUnavailable = errors.New("AI provider not configured")

	// ErrUnknownProvider is returned for a provider name outside the known set.
	ErrUnknownProvider = errors.New("unknown provider")
)

const (
	defaultAzureAPIVersion = "2024-02-15-preview"
	defaultMaxTokens       = 2000
	defaultTemperature     = 0.7
)

// Prompt is one normalized completion request.
type Prompt struct {
	Text        string
	System      string
	MaxTokens   int
	Temperature float64
}

// Result is the normalized completion shared by all providers.
type Result struct {
	Text       string
	Provider   string
	Model      string
	TokensUsed int64
}

// Backend performs a single completion against one vendor.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (Result, error)
}

// Config carries the credentials and defaults for every provider.
type Config struct {
	GeminiAPIKey string
	GeminiModel  string

	ChatGPTAPIKey  string
	ChatGPTModel   string
	ChatGPTBaseURL string

	AzureAPIKey     string
	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string
	AzureModel      string

	ClaudeAPIKey  string
	ClaudeModel   string
	ClaudeBaseURL string

	DefaultProvider string
	MaxTokens       int
	Temperature     float64
}

// ConfigFromValues reads the plugin configuration, applying defaults.
func ConfigFromValues(v services.Values) Config {
	cfg := Config{
		GeminiAPIKey:    v.String("gemini_api_key"),
		GeminiModel:     v.StringOr("gemini_model", "gemini-pro"),
		ChatGPTAPIKey:   v.String("chatgpt_api_key"),
		ChatGPTModel:    v.StringOr("chatgpt_model", "gpt-4"),
		ChatGPTBaseURL:  v.String("chatgpt_base_url"),
		AzureAPIKey:     v.String("azure_openai_api_key"),
		AzureEndpoint:   v.String("azure_openai_endpoint"),
		AzureDeployment: v.String("azure_openai_deployment"),
		AzureAPIVersion: v.StringOr("azure_openai_api_version", defaultAzureAPIVersion),
		AzureModel:      v.String("azure_openai_model"),
		ClaudeAPIKey:    v.String("claude_api_key"),
		ClaudeModel:     v.StringOr("claude_model", "claude-3-5-sonnet-latest"),
		ClaudeBaseURL:   v.String("claude_base_url"),
		DefaultProvider: v.StringOr("default_provider", ProviderGemini),
		MaxTokens:       v.IntOr("max_tokens", defaultMaxTokens),
		Temperature:     v.FloatOr("temperature", defaultTemperature),
	}
	if cfg.AzureModel == "" {
		cfg.AzureModel = cfg.AzureDeployment
	}
	return cfg
}

// canonical maps aliases onto provider names.
func canonical(name string) (string, error) {
	switch name {
	case ProviderGemini, ProviderChatGPT, ProviderAzure, ProviderClaude:
		return name, nil
	case "azure_openai":
		return ProviderAzure, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// available reports whether the credentials for provider are present.
// Azure needs key, endpoint and deployment together.
func (c Config) available(provider string) bool {
	switch provider {
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	case ProviderChatGPT:
		return c.ChatGPTAPIKey != ""
	case ProviderAzure:
		return c.AzureAPIKey != "" && c.AzureEndpoint != "" && c.AzureDeployment != ""
	case ProviderClaude:
		return c.ClaudeAPIKey != ""
	}
	return false
}

// newBackend builds the SDK client for provider.
func newBackend(ctx context.Context, provider string, cfg Config) (Backend, error) {
	switch provider {
	case ProviderGemini:
		return newGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case ProviderChatGPT:
		return newChatGPTBackend(cfg.ChatGPTAPIKey, cfg.ChatGPTModel, cfg.ChatGPTBaseURL), nil
	case ProviderAzure:
		return newAzureBackend(cfg.AzureAPIKey, cfg.AzureEndpoint, cfg.AzureDeployment, cfg.AzureAPIVersion, cfg.AzureModel), nil
	case ProviderClaude:
		return newClaudeBackend(cfg.ClaudeAPIKey, cfg.ClaudeModel, cfg.ClaudeBaseURL), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
}
