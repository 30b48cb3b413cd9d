package providers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/rexec/internal/llm"
)

// compatEndpoint describes an OpenAI-compatible provider.
type compatEndpoint struct {
	defaultModel string
	baseURL      string // empty means the SDK default
	keyOptional  bool   // local servers accept any key
	fallbackKey  string
}

var compatEndpoints = map[string]compatEndpoint{
	"openai":   {defaultModel: "gpt-4o-mini"},
	"kimi":     {defaultModel: "kimi-k2-250711", baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3"},
	"deepseek": {defaultModel: "deepseek-chat", baseURL: "https://api.deepseek.com/v1"},
	"groq":     {defaultModel: "llama-3.1-70b-versatile", baseURL: "https://api.groq.com/openai/v1"},
	"lmstudio": {defaultModel: "local-model", baseURL: "http://localhost:1234/v1", keyOptional: true, fallbackKey: "lm-studio"},
}

const (
	anthropicDefaultModel = "claude-3-5-sonnet-20241022"
	geminiDefaultModel    = "gemini-2.0-flash"
	ollamaDefaultModel    = "llama3.1"
)

// SupportedProviders lists every accepted LLM_PROVIDER value.
func SupportedProviders() []string {
	names := []string{"anthropic", "gemini", "ollama"}
	for name := range compatEndpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewLLMClientFromEnv creates an llm.LLMClient based on environment variables.
// It returns the client and the resolved model name.
func NewLLMClientFromEnv(ctx context.Context) (llm.LLMClient, string, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	if provider == "" {
		provider = "openai"
	}
	return NewLLMClient(ctx, provider)
}

// NewLLMClient creates the client for a named provider, reading its
// <PROVIDER>_API_KEY, <PROVIDER>_MODEL and <PROVIDER>_BASE_URL variables.
func NewLLMClient(ctx context.Context, provider string) (llm.LLMClient, string, error) {
	prefix := strings.ToUpper(provider)
	apiKey := os.Getenv(prefix + "_API_KEY")
	modelName := os.Getenv(prefix + "_MODEL")
	baseURL := os.Getenv(prefix + "_BASE_URL")

	switch provider {
	case "anthropic":
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		if modelName == "" {
			modelName = anthropicDefaultModel
		}
		client, err := NewAnthropicClient(apiKey, modelName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, modelName, nil

	case "gemini":
		if apiKey == "" {
			return nil, "", fmt.Errorf("GEMINI_API_KEY not set")
		}
		if modelName == "" {
			modelName = geminiDefaultModel
		}
		client, err := NewGeminiClient(ctx, apiKey, modelName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return client, modelName, nil

	case "ollama":
		if modelName == "" {
			modelName = ollamaDefaultModel
		}
		client, err := NewOllamaClient(baseURL, modelName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, modelName, nil
	}

	ep, ok := compatEndpoints[provider]
	if !ok {
		return nil, "", fmt.Errorf("unknown LLM_PROVIDER: %s (supported: %s)", provider, strings.Join(SupportedProviders(), ", "))
	}
	if apiKey == "" {
		if !ep.keyOptional {
			return nil, "", fmt.Errorf("%s_API_KEY not set", prefix)
		}
		apiKey = ep.fallbackKey
	}
	if modelName == "" {
		modelName = ep.defaultModel
	}
	if baseURL == "" {
		baseURL = ep.baseURL
	}
	client, err := NewOpenAIClient(apiKey, modelName, baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return client, modelName, nil
}
