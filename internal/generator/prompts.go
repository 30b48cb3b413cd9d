package generator

// Language selects the system prompt and code fence the generator expects.
type Language string

const (
	LangPython   Language = "python"
	LangStarlark Language = "starlark"
)

const pythonSystemPrompt = `You are an expert Python programmer. Generate clean, working Python code based on the user's request.

Rules:
1. Write one complete, executable Python program
2. Include proper error handling where appropriate
3. Add comments for complex logic
4. Use only safe, standard library functions
5. Avoid dangerous operations (file I/O, subprocess, imports of os/sys, eval/exec, dunder attributes)
6. Include test/demo code that prints its results to stdout
7. Reply with the program in a single ` + "```python" + ` fenced block and nothing else

If previous attempts failed, fix every listed error in the new program.`

const starlarkSystemPrompt = `You are an expert Starlark programmer. Generate a clean, working Starlark program based on the user's request.

Rules:
1. Write one complete program; top-level statements run in order
2. Starlark has no imports, no load(), no file or network access and no exceptions (no try/except/raise; use fail() to abort)
3. Only the json and math modules are available, without import
4. Define helper functions with def and call them at top level
5. Print results with print()
6. Reply with the program in a single ` + "```python" + ` fenced block and nothing else

If previous attempts failed, fix every listed error in the new program.`

// SystemPrompt returns the instructions sent ahead of every prompt context.
func SystemPrompt(lang Language) string {
	if lang == LangStarlark {
		return starlarkSystemPrompt
	}
	return pythonSystemPrompt
}
