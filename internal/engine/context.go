package engine

import (
	"fmt"
	"strings"
)

const failureHeader = "Previous attempts failed. Fix these errors in the new program:"

// BuildPromptContext combines the original prompt with every prior failure, in order.
//
//	<prompt>
//
//	Previous attempts failed. Fix these errors in the new program:
//	Attempt 1 (failure): SyntaxError: invalid syntax (line 2)
//	Attempt 2 (timeout): execution exceeded the 10s time limit
//
// Multi-line messages are indented under their attempt line.
func BuildPromptContext(prompt string, prior []Attempt) string {
	var b strings.Builder
	b.WriteString(prompt)

	wroteHeader := false
	for _, a := range prior {
		if a.Outcome == nil || a.Outcome.Succeeded() {
			continue
		}
		if !wroteHeader {
			b.WriteString("\n\n")
			b.WriteString(failureHeader)
			wroteHeader = true
		}
		lines := strings.Split(strings.TrimRight(a.Outcome.Summary(), "\n"), "\n")
		fmt.Fprintf(&b, "\nAttempt %d (%s): %s", a.Index, a.Outcome.Kind, lines[0])
		for _, l := range lines[1:] {
			b.WriteString("\n    ")
			b.WriteString(l)
		}
	}
	return b.String()
}
