package providers

import (
	"context"
	"strings"

	"github.com/ChamsBouzaiene/rexec/internal/llm"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicClient implements llm.LLMClient by calling the Anthropic SDK directly.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, modelName string) (*AnthropicClient, error) {
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey),
		model:  modelName,
	}, nil
}

// Chat implements llm.LLMClient.Chat.
func (c *AnthropicClient) Chat(ctx context.Context, modelName string, messages []llm.ChatMessage, opts llm.ChatOptions) (llm.LLMResponse, error) {
	if modelName == "" {
		modelName = c.model
	}

	var systemParts []anthropic.MessageSystemPart
	var anthropicMsgs []anthropic.Message

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, anthropic.MessageSystemPart{
				Type: "text",
				Text: msg.Content,
			})
		case llm.RoleAssistant:
			anthropicMsgs = append(anthropicMsgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		default:
			anthropicMsgs = append(anthropicMsgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		}
	}

	maxTokens := 4096
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}

	temperature := float32(0.1)
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(modelName),
		Messages:    anthropicMsgs,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if len(systemParts) > 0 {
		req.MultiSystem = systemParts
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		httpStatus, retryAfter := llm.ErrorMetadata(err)
		return llm.LLMResponse{}, llm.WrapLLMError(err, httpStatus, retryAfter)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}

	finishReason := "stop"
	switch resp.StopReason {
	case "max_tokens":
		finishReason = "length"
	case "content_filtered":
		finishReason = "content_filter"
	}

	return llm.LLMResponse{
		Assistant: llm.ChatMessage{
			Role:    llm.RoleAssistant,
			Content: text.String(),
		},
		Usage: llm.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: finishReason,
	}, nil
}
