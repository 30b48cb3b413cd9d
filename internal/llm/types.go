// Package llm holds the provider-agnostic chat types and error classification
// shared by the provider adapters and the code generator.
package llm

import (
	"context"
	"fmt"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is the provider-agnostic message we pass around.
type ChatMessage struct {
	Role    MessageRole
	Content string
}

// Validate checks if the ChatMessage is valid.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// LLMResponse is a normalized result of one chat call.
type LLMResponse struct {
	Assistant    ChatMessage
	Usage        Usage
	FinishReason string // "stop" | "length" | "content_filter"
}

// ChatOptions keeps knobs forwarded to the SDK.
type ChatOptions struct {
	Temperature     float32
	MaxOutputTokens int
}

// LLMClient abstracts the chosen SDK (OpenAI, Anthropic, Gemini, Ollama).
// Implementations make exactly one request per call and never retry.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (LLMResponse, error)
}
