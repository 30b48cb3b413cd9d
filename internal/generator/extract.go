package generator

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// ExtractCode pulls the program out of a model reply.
// A fence tagged with the target language (or "py" for Python) wins over an untagged one;
// a reply without fences is taken as code verbatim.
func ExtractCode(reply string, lang Language) string {
	matches := fenceRe.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		text := strings.TrimSpace(reply)
		// Unterminated fence from a truncated reply.
		if strings.HasPrefix(text, "```") {
			if nl := strings.IndexByte(text, '\n'); nl != -1 {
				return strings.TrimSpace(text[nl+1:])
			}
			return ""
		}
		return text
	}

	var untagged string
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		switch {
		case tag == string(lang), lang == LangPython && tag == "py":
			if body != "" {
				return body
			}
		case tag == "" && untagged == "":
			untagged = body
		}
	}
	if untagged != "" {
		return untagged
	}
	return strings.TrimSpace(matches[0][2])
}
