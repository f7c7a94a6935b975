package retrieval

import (
	"fmt"
	"strings"
)

// knowledgeHeader frames retrieved snippets inside the prompt. Kept stable:
// agents are often instructed to cite "the relevant documents" verbatim.
const knowledgeHeader = "=== RELEVANT DOCUMENTS ==="

// RenderKnowledge formats ranked snippets into the prompt's knowledge
// section. Returns "" for an empty result so callers can skip the section
// entirely.
func RenderKnowledge(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(knowledgeHeader)
	sb.WriteString("\n")
	for i, s := range snippets {
		fmt.Fprintf(&sb, "\n[Document %d", i+1)
		if s.Source != "" {
			fmt.Fprintf(&sb, " (%s)", s.Source)
		}
		sb.WriteString("]\n")
		sb.WriteString(strings.TrimSpace(s.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}
