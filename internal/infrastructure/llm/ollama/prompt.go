package ollama

import "strings"

func buildSummaryPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Summarize the following document in at most 200 words. ")
	b.WriteString("Keep the key facts, figures and names. Answer with the summary only, no preamble.\n\n")
	b.WriteString("Document:\n")
	b.WriteString(text)
	return b.String()
}
