package retrieval

import (
	"strings"

	"github.com/orchestron-ai/orchestron/types"
)

// Query assembly bounds. The trigger message carries most of the signal;
// a few recent agent turns add context without flooding the backend.
const (
	maxContextTurns = 3
	maxQueryRunes   = 512
)

// BuildQueryText joins the trigger message with up to the three most recent
// prior agent turns, newest last, joined by newlines and truncated to 512
// runes. System and retrieval-context messages never feed back into the
// query.
func BuildQueryText(trigger string, transcript []types.Message) string {
	parts := []string{strings.TrimSpace(trigger)}

	var recent []string
	for i := len(transcript) - 1; i >= 0 && len(recent) < maxContextTurns; i-- {
		m := transcript[i]
		if m.Role != types.RoleAgent || strings.TrimSpace(m.Content) == "" {
			continue
		}
		recent = append(recent, strings.TrimSpace(m.Content))
	}
	// recent is newest-first; append oldest-first after the trigger.
	for i := len(recent) - 1; i >= 0; i-- {
		parts = append(parts, recent[i])
	}

	joined := strings.Join(parts, "\n")
	runes := []rune(joined)
	if len(runes) > maxQueryRunes {
		joined = string(runes[:maxQueryRunes])
	}
	return joined
}
