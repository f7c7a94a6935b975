package orchestrator

import (
	"fmt"
	"strings"

	"github.com/orchestron-ai/orchestron/types"
	"github.com/orchestron-ai/orchestron/workflow"
)

// BuildPrompt assembles the user-role content for one agent turn: the
// agent's instructions, the knowledge section, the conversation so far, the
// triggering message, and the closing cue. The system_message is not
// repeated here; both providers carry it through their dedicated system
// channel.
func BuildPrompt(agent *workflow.Agent, knowledge string, transcript []types.Message, trigger string) string {
	var sb strings.Builder

	if agent.Instructions != "" {
		sb.WriteString(strings.TrimSpace(agent.Instructions))
		sb.WriteString("\n\n")
	}

	if knowledge != "" {
		sb.WriteString(knowledge)
		sb.WriteString("\n")
	}

	if history := renderHistory(transcript); history != "" {
		sb.WriteString("Conversation History:")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}

	sb.WriteString(strings.TrimSpace(trigger))
	fmt.Fprintf(&sb, "\n\n%s, please provide your response:", agent.Name)

	return sb.String()
}

// renderHistory lists prior agent turns as "Name: content" lines. System
// and retrieval-context messages stay out of the rendered history; they
// reach the model through other prompt sections.
func renderHistory(transcript []types.Message) string {
	var sb strings.Builder
	for _, m := range transcript {
		if m.Role != types.RoleAgent {
			continue
		}
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		fmt.Fprintf(&sb, "\n%s: %s", name, m.Content)
	}
	return sb.String()
}
