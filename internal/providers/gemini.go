package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/rexec/internal/llm"

	"google.golang.org/genai"
)

// GeminiClient implements llm.LLMClient on the native Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client bound to the Gemini API backend.
func NewGeminiClient(ctx context.Context, apiKey, modelName string) (*GeminiClient, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}
	return &GeminiClient{client: c, model: modelName}, nil
}

// Chat implements llm.LLMClient.Chat.
func (c *GeminiClient) Chat(ctx context.Context, modelName string, messages []llm.ChatMessage, opts llm.ChatOptions) (llm.LLMResponse, error) {
	if modelName == "" {
		modelName = c.model
	}

	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content
	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	if opts.Temperature > 0 {
		temperature := opts.Temperature
		cfg.Temperature = &temperature
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		httpStatus, retryAfter := llm.ErrorMetadata(err)
		return llm.LLMResponse{}, llm.WrapLLMError(fmt.Errorf("gemini generate: %w", err), httpStatus, retryAfter)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return llm.LLMResponse{}, fmt.Errorf("gemini: empty response")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}

	finishReason := "stop"
	switch string(cand.FinishReason) {
	case "MAX_TOKENS":
		finishReason = "length"
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		finishReason = "content_filter"
	}

	var usage llm.Usage
	if resp.UsageMetadata != nil {
		usage = llm.Usage{
			Prompt:     int(resp.UsageMetadata.PromptTokenCount),
			Completion: int(resp.UsageMetadata.CandidatesTokenCount),
			Total:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return llm.LLMResponse{
		Assistant:    llm.ChatMessage{Role: llm.RoleAssistant, Content: text.String()},
		Usage:        usage,
		FinishReason: finishReason,
	}, nil
}
