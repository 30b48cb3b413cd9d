package sandbox

import "testing"

func TestParseFailure(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		wantMsg  string
		wantLine int
	}{
		{
			name: "runtime error",
			stderr: `Traceback (most recent call last):
  File "/workspace/main.py", line 7, in <module>
    print(divide(1, 0))
  File "/workspace/main.py", line 3, in divide
    return a / b
ZeroDivisionError: division by zero
`,
			wantMsg:  "ZeroDivisionError: division by zero",
			wantLine: 3,
		},
		{
			name: "library frame after program frame",
			stderr: `Traceback (most recent call last):
  File "/tmp/rexec-1/main.py", line 2, in <module>
    json.loads("{")
  File "/usr/lib/python3.11/json/__init__.py", line 346, in loads
    return _default_decoder.decode(s)
json.decoder.JSONDecodeError: Expecting property name enclosed in double quotes: line 1 column 2 (char 1)`,
			wantMsg:  "json.decoder.JSONDecodeError: Expecting property name enclosed in double quotes: line 1 column 2 (char 1)",
			wantLine: 2,
		},
		{
			name: "syntax error",
			stderr: `  File "/workspace/main.py", line 4
    print("x"
         ^
SyntaxError: '(' was never closed`,
			wantMsg:  "SyntaxError: '(' was never closed",
			wantLine: 4,
		},
		{
			name:     "plain stderr",
			stderr:   "something went wrong\n",
			wantMsg:  "something went wrong",
			wantLine: 0,
		},
		{
			name:     "starlark position",
			stderr:   "main.star:5:3: undefined: foo",
			wantMsg:  "main.star:5:3: undefined: foo",
			wantLine: 5,
		},
		{
			name:     "empty",
			stderr:   "  ",
			wantMsg:  "program exited with a non-zero status",
			wantLine: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, line := ParseFailure(tt.stderr)
			if msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
			if line != tt.wantLine {
				t.Errorf("line = %d, want %d", line, tt.wantLine)
			}
		})
	}
}
