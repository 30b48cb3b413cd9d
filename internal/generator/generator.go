// Package generator turns prompt contexts into candidate programs using an LLM.
package generator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ChamsBouzaiene/rexec/internal/engine"
	"github.com/ChamsBouzaiene/rexec/internal/llm"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 1000
)

// LLMGenerator implements engine.Generator with one chat request per call.
type LLMGenerator struct {
	client llm.LLMClient
	model  string
	lang   Language
	opts   llm.ChatOptions
	logger *slog.Logger

	mu    sync.Mutex
	usage llm.Usage
	calls int
}

// Option configures an LLMGenerator.
type Option func(*LLMGenerator)

// WithChatOptions overrides temperature and output token limit.
func WithChatOptions(opts llm.ChatOptions) Option {
	return func(g *LLMGenerator) { g.opts = opts }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(g *LLMGenerator) { g.logger = l }
}

// New creates a generator for the given model and target language.
func New(client llm.LLMClient, model string, lang Language, opts ...Option) *LLMGenerator {
	g := &LLMGenerator{
		client: client,
		model:  model,
		lang:   lang,
		opts: llm.ChatOptions{
			Temperature:     defaultTemperature,
			MaxOutputTokens: defaultMaxTokens,
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate implements engine.Generator.
func (g *LLMGenerator) Generate(ctx context.Context, promptContext string) (engine.Candidate, error) {
	msgs := []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: SystemPrompt(g.lang)},
		{Role: llm.RoleUser, Content: promptContext},
	}

	g.logger.DebugContext(ctx, "requesting candidate", "model", g.model,
		"context_tokens", llm.EstimateTokens(promptContext))

	resp, err := g.client.Chat(ctx, g.model, msgs, g.opts)
	if err != nil {
		if llm.IsInfrastructure(err) {
			return engine.Candidate{}, engine.NewGeneratorUnavailable("llm unavailable", err)
		}
		return engine.Candidate{}, engine.NewGenerationError("llm request failed", err)
	}
	g.record(llm.EstimateUsage(resp.Usage, msgs, resp.Assistant.Content, g.model))

	if resp.FinishReason == "length" {
		g.logger.WarnContext(ctx, "llm reply truncated", "model", g.model, "max_tokens", g.opts.MaxOutputTokens)
	}

	code := ExtractCode(resp.Assistant.Content, g.lang)
	if code == "" {
		return engine.Candidate{}, engine.NewGenerationError("empty response", nil)
	}
	return engine.Candidate{Code: code}, nil
}

func (g *LLMGenerator) record(u llm.Usage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.usage.Prompt += u.Prompt
	g.usage.Completion += u.Completion
	g.usage.Total += u.Total
}

// Usage returns the accumulated token usage and the number of successful calls.
func (g *LLMGenerator) Usage() (llm.Usage, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage, g.calls
}
