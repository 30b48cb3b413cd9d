package llm

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// ErrorClass tells the caller whether another request could succeed.
type ErrorClass string

const (
	// ClassRecoverable errors are worth another attempt: rate limits, 5xx, bad output.
	ClassRecoverable ErrorClass = "recoverable"
	// ClassInfrastructure errors will not go away by asking again: auth, quota, unreachable host.
	ClassInfrastructure ErrorClass = "infrastructure"
)

// LLMError wraps provider errors with classification metadata.
type LLMError struct {
	Err         error
	Class       ErrorClass
	HTTPStatus  int    // HTTP status code if applicable
	RetryAfter  string // Retry-After header value if present
	IsRateLimit bool
	IsAuth      bool
	IsQuota     bool
	IsNetwork   bool
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("llm error: %s", e.Class)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// ClassifyLLMError classifies an error from an LLM provider call.
func ClassifyLLMError(err error) ErrorClass {
	if err == nil {
		return ClassRecoverable
	}

	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Class
	}

	errStr := strings.ToLower(err.Error())

	// Endpoint unreachable
	if isNetworkText(errStr) {
		return ClassInfrastructure
	}

	status := statusFromText(errStr)

	// Authentication errors (401, 403)
	if status == http.StatusUnauthorized ||
		status == http.StatusForbidden ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication failed") {
		return ClassInfrastructure
	}

	// Quota exhausted (402)
	if status == http.StatusPaymentRequired ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment required") {
		return ClassInfrastructure
	}

	// Model missing on the provider side
	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "does not exist") {
		return ClassInfrastructure
	}

	// Rate limits, server errors, overflows, malformed output and everything
	// unknown consume one attempt and the loop moves on.
	return ClassRecoverable
}

// WrapLLMError wraps an LLM provider error with classification metadata.
func WrapLLMError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}

	class := ClassifyLLMError(err)
	network := isNetworkText(strings.ToLower(err.Error()))
	switch httpStatus {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired, http.StatusNotFound:
		class = ClassInfrastructure
	case http.StatusTooManyRequests, http.StatusBadRequest,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		if !network {
			class = ClassRecoverable
		}
	}

	return &LLMError{
		Err:         err,
		Class:       class,
		HTTPStatus:  httpStatus,
		RetryAfter:  retryAfter,
		IsRateLimit: httpStatus == http.StatusTooManyRequests,
		IsAuth:      httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden,
		IsQuota:     httpStatus == http.StatusPaymentRequired,
		IsNetwork:   network,
	}
}

// IsInfrastructure reports whether err should abort the run instead of consuming an attempt.
func IsInfrastructure(err error) bool {
	return err != nil && ClassifyLLMError(err) == ClassInfrastructure
}

// ErrorMetadata extracts HTTP status code and Retry-After value from an SDK error message.
func ErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	httpStatus := statusFromText(errStr)
	var retryAfter string

	lower := strings.ToLower(errStr)
	for _, marker := range []string{"retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			parts := strings.Fields(strings.TrimLeft(errStr[idx+len(marker):], ": "))
			if len(parts) > 0 {
				retryAfter = parts[0]
			}
			break
		}
	}

	return httpStatus, retryAfter
}

var (
	statusLabelRe = regexp.MustCompile(`(?i)(?:status(?:[ _]?code)?|http(?:/[0-9.]+)?)\s*[:=]?\s*([1-5][0-9]{2})\b`)
	statusWordRe  = regexp.MustCompile(`\b[45][0-9]{2}\b`)
)

// statusFromText finds an HTTP status in an error message. Labelled forms such as
// "status code: 429" or "HTTP 502" are preferred; a bare 4xx/5xx word counts
// only when it is not part of an address, port or path.
func statusFromText(s string) int {
	if m := statusLabelRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	for _, loc := range statusWordRe.FindAllStringIndex(s, -1) {
		if loc[0] > 0 && strings.ContainsRune(":./", rune(s[loc[0]-1])) {
			continue
		}
		if loc[1] < len(s) && strings.ContainsRune(":./", rune(s[loc[1]])) {
			continue
		}
		n, _ := strconv.Atoi(s[loc[0]:loc[1]])
		return n
	}
	return 0
}

func isNetworkText(lower string) bool {
	return strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "dial tcp")
}
