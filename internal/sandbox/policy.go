package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// dangerousNames are modules and builtins a candidate may not touch.
var dangerousNames = map[string]bool{
	"os": true, "subprocess": true, "sys": true, "importlib": true,
	"eval": true, "exec": true, "open": true, "__import__": true,
	"compile": true, "globals": true, "locals": true,
}

var (
	importRe     = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\b`)
	callRe       = regexp.MustCompile(`([A-Za-z_]\w*)\s*\(`)
	dunderAttrRe = regexp.MustCompile(`\.\s*(__\w+)`)
)

// Screen statically checks a Python program and returns the policy violations found.
// String literals and comments are ignored.
func Screen(code string) []string {
	var violations []string
	seen := map[string]bool{}
	add := func(v string) {
		if !seen[v] {
			seen[v] = true
			violations = append(violations, v)
		}
	}

	for _, line := range strings.Split(stripLiterals(code), "\n") {
		if m := importRe.FindStringSubmatch(line); m != nil {
			for _, part := range strings.Split(m[1], ",") {
				fields := strings.Fields(part)
				if len(fields) == 0 {
					continue
				}
				if mod := rootModule(fields[0]); dangerousNames[mod] {
					add("Dangerous import: " + fields[0])
				}
			}
		}
		if m := fromImportRe.FindStringSubmatch(line); m != nil {
			if dangerousNames[rootModule(m[1])] {
				add("Dangerous import from: " + m[1])
			}
		}
		for _, m := range callRe.FindAllStringSubmatchIndex(line, -1) {
			name := line[m[2]:m[3]]
			// Method calls such as re.compile( are not builtins, nor are definitions.
			before := strings.TrimRight(line[:m[2]], " \t")
			if strings.HasSuffix(before, ".") || strings.HasSuffix(before, "def") {
				continue
			}
			if dangerousNames[name] {
				add("Dangerous function call: " + name)
			}
		}
		for _, m := range dunderAttrRe.FindAllStringSubmatch(line, -1) {
			add("Dangerous attribute access: " + m[1])
		}
	}
	return violations
}

// ScreenMessage formats violations the way they are reported back to the generator.
func ScreenMessage(violations []string) string {
	return fmt.Sprintf("Security violations: %s", strings.Join(violations, "; "))
}

func rootModule(name string) string {
	if i := strings.IndexByte(name, '.'); i != -1 {
		return name[:i]
	}
	return name
}

// stripLiterals blanks out comments and the contents of string literals while
// keeping line structure, so line-based checks only see code.
func stripLiterals(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for i := 0; i < len(code); {
		c := code[i]
		switch {
		case c == '#':
			for i < len(code) && code[i] != '\n' {
				i++
			}
		case c == '\'' || c == '"':
			quote := code[i : i+1]
			if strings.HasPrefix(code[i:], strings.Repeat(quote, 3)) {
				quote = strings.Repeat(quote, 3)
			}
			b.WriteString(`""`)
			i += len(quote)
			for i < len(code) && !strings.HasPrefix(code[i:], quote) {
				if code[i] == '\\' && i+1 < len(code) {
					if code[i+1] == '\n' {
						b.WriteByte('\n')
					}
					i += 2
					continue
				}
				if code[i] == '\n' {
					if len(quote) == 1 {
						break
					}
					b.WriteByte('\n')
				}
				i++
			}
			if strings.HasPrefix(code[i:], quote) {
				i += len(quote)
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
