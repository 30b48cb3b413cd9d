package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ChamsBouzaiene/rexec/internal/llm"

	"github.com/ollama/ollama/api"
)

// OllamaClient implements llm.LLMClient against a local Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient uses OLLAMA_HOST when set, falling back to host (default http://localhost:11434).
func NewOllamaClient(host, modelName string) (*OllamaClient, error) {
	c, err := api.ClientFromEnvironment()
	if err != nil || host != "" {
		if host == "" {
			host = "http://localhost:11434"
		}
		u, uerr := url.Parse(host)
		if uerr != nil {
			return nil, fmt.Errorf("ollama: bad host %q: %w", host, uerr)
		}
		c = api.NewClient(u, nil)
	}
	return &OllamaClient{client: c, model: modelName}, nil
}

// Chat implements llm.LLMClient.Chat.
func (c *OllamaClient) Chat(ctx context.Context, modelName string, messages []llm.ChatMessage, opts llm.ChatOptions) (llm.LLMResponse, error) {
	if modelName == "" {
		modelName = c.model
	}

	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}

	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxOutputTokens > 0 {
		options["num_predict"] = opts.MaxOutputTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    modelName,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}

	var out strings.Builder
	var last api.ChatResponse
	if err := c.client.Chat(ctx, req, func(cr api.ChatResponse) error {
		out.WriteString(cr.Message.Content)
		last = cr
		return nil
	}); err != nil {
		httpStatus, retryAfter := llm.ErrorMetadata(err)
		return llm.LLMResponse{}, llm.WrapLLMError(fmt.Errorf("ollama chat: %w", err), httpStatus, retryAfter)
	}

	finishReason := "stop"
	if last.DoneReason == "length" {
		finishReason = "length"
	}

	return llm.LLMResponse{
		Assistant: llm.ChatMessage{Role: llm.RoleAssistant, Content: out.String()},
		Usage: llm.Usage{
			Prompt:     last.PromptEvalCount,
			Completion: last.EvalCount,
			Total:      last.PromptEvalCount + last.EvalCount,
		},
		FinishReason: finishReason,
	}, nil
}
