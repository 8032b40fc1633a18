package generator

import "strings"

// BuildPrompt renders the question-answering template. The context line is
// omitted entirely when there is no context.
func BuildPrompt(question, context string) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n")
	if context != "" {
		b.WriteString("Context: ")
		b.WriteString(context)
		b.WriteString("\n")
	}
	b.WriteString("Answer:")
	return b.String()
}
