package engine

import (
	"testing"
	"unicode/utf8"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii cut", "abcdef", 3, "abc..."},
		{"cut inside rune", "aé€b", 3, "aé..."},
		{"cut inside first rune", "€uro", 2, "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := preview(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("preview(%q, %d) produced invalid UTF-8", tt.in, tt.n)
			}
		})
	}
}
