package config

import "fmt"

// Recommended ranges for run parameters. Values outside them are allowed
// but reported, since very large budgets mostly burn provider quota.
const (
	MaxRecommendedAttempts = 10
	MaxRecommendedTimeout  = 300
)

// CheckBounds returns warnings for run parameters outside the recommended ranges.
// Non-positive values are left to the engine, which rejects them.
func CheckBounds(maxAttempts, timeoutSeconds int) []string {
	var warnings []string
	if maxAttempts > MaxRecommendedAttempts {
		warnings = append(warnings, fmt.Sprintf("max attempts %d exceeds the recommended maximum of %d", maxAttempts, MaxRecommendedAttempts))
	}
	if timeoutSeconds > MaxRecommendedTimeout {
		warnings = append(warnings, fmt.Sprintf("timeout %ds exceeds the recommended maximum of %ds", timeoutSeconds, MaxRecommendedTimeout))
	}
	return warnings
}
