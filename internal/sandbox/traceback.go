package sandbox

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tracebackLineRe = regexp.MustCompile(`File "([^"]*)", line (\d+)`)
	positionLineRe  = regexp.MustCompile(`main\.\w+:(\d+)(?::\d+)?`)
)

// ParseFailure extracts a concise error message and the failing line of the
// candidate program from interpreter stderr. The line is 0 when unknown.
func ParseFailure(stderr string) (string, int) {
	text := strings.TrimSpace(stderr)
	if text == "" {
		return "program exited with a non-zero status", 0
	}

	line := 0
	for _, m := range tracebackLineRe.FindAllStringSubmatch(text, -1) {
		if strings.HasSuffix(m[1], programFile) {
			if n, err := strconv.Atoi(m[2]); err == nil {
				line = n
			}
		}
	}
	if line == 0 {
		line = lineFromPosition(text)
	}

	if !strings.Contains(text, "Traceback (most recent call last)") && !tracebackLineRe.MatchString(text) {
		return text, line
	}
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l, line
		}
	}
	return text, line
}

// lineFromPosition finds a "main.py:12" or "main.star:3:7" style position.
func lineFromPosition(s string) int {
	if m := positionLineRe.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}
