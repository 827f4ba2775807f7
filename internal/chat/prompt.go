package chat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const promptInstructions = `**Instructions:**
- Analyze the provided code files carefully
- Provide detailed, accurate answers with examples
- Use proper markdown formatting
- Include code snippets with syntax highlighting using ` + "```" + `language syntax
- Explain step-by-step when needed
- If suggesting changes, show before/after code
- Be concise but thorough
- Focus on best practices and code quality`

// BuildContextPrompt renders the file context and the user's question into a
// single prompt. Conversation history is not inlined here; it travels to the
// provider separately as role-tagged turns.
//
// No truncation happens here: the prompt grows with the file set. See
// EstimateTokens for the observability side of that limit.
func BuildContextPrompt(question string, files []FileContent) string {
	var b strings.Builder

	if len(files) > 0 {
		b.WriteString("📁 **Uploaded Codebase Files:**\n\n")
		for i, f := range files {
			fmt.Fprintf(&b, "**File %d: %s**\n", i+1, f.Filename)
			b.WriteString("```\n")
			b.WriteString(f.Content)
			b.WriteString("\n```\n\n")
		}
		b.WriteString("---\n\n")
	}

	b.WriteString("**User Question:**\n")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(promptInstructions)

	return b.String()
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// EstimateTokens approximates the prompt's token count. When the BPE
// dictionary cannot be loaded (offline runs, tests) it falls back to a
// bytes/4 heuristic, which is good enough for logging.
func EstimateTokens(prompt string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(prompt) / 4
	}
	return len(enc.Encode(prompt, nil, nil))
}
