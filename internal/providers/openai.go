package providers

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/rexec/internal/llm"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements llm.LLMClient by calling the OpenAI SDK directly.
// It also serves every OpenAI-compatible endpoint (Kimi, DeepSeek, Groq, LM Studio).
type OpenAIClient struct {
	client  *openai.Client
	model   string
	baseURL string
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey, modelName, baseURL string) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   modelName,
		baseURL: baseURL,
	}, nil
}

// Chat implements llm.LLMClient.Chat.
func (c *OpenAIClient) Chat(ctx context.Context, modelName string, messages []llm.ChatMessage, opts llm.ChatOptions) (llm.LLMResponse, error) {
	if modelName == "" {
		modelName = c.model
	}

	openaiMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case llm.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case llm.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		openaiMsgs = append(openaiMsgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: openaiMsgs,
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		temperature := opts.Temperature
		req.Temperature = &temperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		httpStatus, retryAfter := llm.ErrorMetadata(err)
		return llm.LLMResponse{}, llm.WrapLLMError(err, httpStatus, retryAfter)
	}

	if len(resp.Choices) == 0 {
		return llm.LLMResponse{}, fmt.Errorf("empty response from OpenAI")
	}

	choice := resp.Choices[0]

	finishReason := "stop"
	switch choice.FinishReason {
	case openai.FinishReasonLength:
		finishReason = "length"
	case openai.FinishReasonContentFilter:
		finishReason = "content_filter"
	}

	return llm.LLMResponse{
		Assistant: llm.ChatMessage{
			Role:    llm.RoleAssistant,
			Content: choice.Message.Content,
		},
		Usage: llm.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
		FinishReason: finishReason,
	}, nil
}
