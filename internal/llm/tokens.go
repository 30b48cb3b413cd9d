package llm

import (
	"fmt"
	"strings"
)

// Tokenizer provides token counting for text.
// Different models use different tokenization schemes, so the model name is required.
type Tokenizer interface {
	CountTokens(text string, model string) (int, error)
}

// EstimateTokens provides a rough token count estimation.
// Uses a simple heuristic: ~4 characters per token for English/code.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	// Whitespace-heavy text has fewer tokens per character
	estimated := (charCount / 4) + (whitespaceCount / 6)
	if estimated < 1 {
		return 1
	}
	return estimated
}

// DefaultTokenizer uses estimation as a fallback when no specific tokenizer is available.
type DefaultTokenizer struct{}

// CountTokens implements Tokenizer using estimation.
func (t DefaultTokenizer) CountTokens(text string, model string) (int, error) {
	return EstimateTokens(text), nil
}

// CountTokensForMessages counts tokens for a conversation, including the role names.
func CountTokensForMessages(tokenizer Tokenizer, messages []ChatMessage, model string) (int, error) {
	total := 0
	for _, msg := range messages {
		roleTokens, err := tokenizer.CountTokens(string(msg.Role), model)
		if err != nil {
			return 0, fmt.Errorf("failed to count role tokens: %w", err)
		}
		contentTokens, err := tokenizer.CountTokens(msg.Content, model)
		if err != nil {
			return 0, fmt.Errorf("failed to count content tokens: %w", err)
		}
		// Separator overhead per message
		total += roleTokens + contentTokens + 3
	}
	return total, nil
}

// EstimateUsage fills missing usage fields from the request and reply text.
// Some local providers return no accounting at all.
func EstimateUsage(u Usage, messages []ChatMessage, reply string, model string) Usage {
	if u.Prompt == 0 {
		u.Prompt, _ = CountTokensForMessages(DefaultTokenizer{}, messages, model)
	}
	if u.Completion == 0 {
		u.Completion = EstimateTokens(reply)
	}
	if u.Total == 0 {
		u.Total = u.Prompt + u.Completion
	}
	return u
}
