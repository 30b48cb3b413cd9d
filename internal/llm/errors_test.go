package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyLLMError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"unauthorized", errors.New("error, status code: 401, message: invalid api key"), ClassInfrastructure},
		{"forbidden", errors.New("403 Forbidden"), ClassInfrastructure},
		{"quota", errors.New("You exceeded your current quota"), ClassInfrastructure},
		{"refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), ClassInfrastructure},
		{"dns", errors.New("dial tcp: lookup api.example: no such host"), ClassInfrastructure},
		{"refused on port 4000", errors.New("dial tcp 127.0.0.1:4000: connect: connection refused"), ClassInfrastructure},
		{"refused on port 500", errors.New("Post \"http://10.0.0.5:500/v1/chat\": dial tcp 10.0.0.5:500: connect: connection refused"), ClassInfrastructure},
		{"port is not a status", errors.New("unexpected EOF from localhost:4010"), ClassRecoverable},
		{"rate limit", errors.New("429 Too Many Requests"), ClassRecoverable},
		{"server error", errors.New("503 service unavailable"), ClassRecoverable},
		{"context length", errors.New("maximum context length exceeded"), ClassRecoverable},
		{"unknown", errors.New("something odd"), ClassRecoverable},
		{"wrapped", fmt.Errorf("chat: %w", &LLMError{Err: errors.New("x"), Class: ClassInfrastructure}), ClassInfrastructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyLLMError(tt.err); got != tt.want {
				t.Errorf("ClassifyLLMError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapLLMError(t *testing.T) {
	if WrapLLMError(nil, 0, "") != nil {
		t.Fatal("WrapLLMError(nil) should be nil")
	}

	err := WrapLLMError(errors.New("boom"), http.StatusTooManyRequests, "30")
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *LLMError, got %T", err)
	}
	if llmErr.Class != ClassRecoverable || !llmErr.IsRateLimit || llmErr.RetryAfter != "30" {
		t.Errorf("unexpected metadata: %+v", llmErr)
	}

	if !IsInfrastructure(WrapLLMError(errors.New("nope"), http.StatusUnauthorized, "")) {
		t.Error("401 should be infrastructure")
	}

	unreachable := []string{
		"dial tcp 127.0.0.1:4000: connect: connection refused",
		"dial tcp 127.0.0.1:5000: connect: connection refused",
		"dial tcp 127.0.0.1:11434: connect: connection refused",
		"Post \"http://litellm:4000/chat/completions\": dial tcp: lookup litellm: no such host",
	}
	for _, msg := range unreachable {
		src := errors.New(msg)
		status, retry := ErrorMetadata(src)
		wrapped := WrapLLMError(src, status, retry)
		if status != 0 {
			t.Errorf("ErrorMetadata(%q) status = %d, want 0", msg, status)
		}
		if !IsInfrastructure(wrapped) {
			t.Errorf("%q should be infrastructure", msg)
		}
		if !errors.As(wrapped, &llmErr) || !llmErr.IsNetwork {
			t.Errorf("%q: IsNetwork not set", msg)
		}
	}

	// A status reported alongside an unreachable endpoint does not make it recoverable.
	if !IsInfrastructure(WrapLLMError(errors.New("dial tcp 10.1.2.3:443: connect: connection refused"), http.StatusBadGateway, "")) {
		t.Error("connection refused with 502 should stay infrastructure")
	}
}

func TestErrorMetadata(t *testing.T) {
	tests := []struct {
		msg        string
		wantStatus int
		wantRetry  string
	}{
		{"status code: 429, Retry-After: 12", http.StatusTooManyRequests, "12"},
		{"HTTP 502 bad gateway", http.StatusBadGateway, ""},
		{"please retry after 5 seconds", 0, "5"},
		{"plain", 0, ""},
		{"Error 429, Message: Resource exhausted", http.StatusTooManyRequests, ""},
		{"status 503: overloaded", http.StatusServiceUnavailable, ""},
		{"dial tcp 127.0.0.1:4000: connect: connection refused", 0, ""},
		{"dial tcp 192.168.1.200:500: i/o timeout", 0, ""},
		{"max_tokens must be at most 4096", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			status, retry := ErrorMetadata(errors.New(tt.msg))
			if status != tt.wantStatus || retry != tt.wantRetry {
				t.Errorf("ErrorMetadata() = (%d, %q), want (%d, %q)", status, retry, tt.wantStatus, tt.wantRetry)
			}
		})
	}
}
