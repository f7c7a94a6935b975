package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orchestron-ai/orchestron/types"
	"github.com/orchestron-ai/orchestron/workflow"
)

func TestBuildPromptOrdering(t *testing.T) {
	agent := &workflow.Agent{
		ID: "writer", Name: "Writer",
		Instructions: "Keep answers short.",
	}
	transcript := []types.Message{
		{Role: types.RoleAgent, SenderID: "planner", SenderName: "Planner", Content: "outline first"},
		{Role: types.RoleSystem, SenderID: "sys", Content: "should not appear"},
		{Role: types.RoleRetrievalContext, SenderID: "writer", Content: "should not appear either"},
		{Role: types.RoleAgent, SenderID: "critic", Content: "tighten section two"},
	}
	knowledge := "=== RELEVANT DOCUMENTS ===\n[Document 1 (kb.md)]\nhouse style guide"

	prompt := BuildPrompt(agent, knowledge, transcript, "draft the post")

	// Sections appear in order: instructions, knowledge, history, trigger, cue.
	iInstr := strings.Index(prompt, "Keep answers short.")
	iKnow := strings.Index(prompt, "=== RELEVANT DOCUMENTS ===")
	iHist := strings.Index(prompt, "Conversation History:")
	iTrig := strings.Index(prompt, "draft the post")
	iCue := strings.Index(prompt, "Writer, please provide your response:")
	for name, idx := range map[string]int{
		"instructions": iInstr, "knowledge": iKnow, "history": iHist, "trigger": iTrig, "cue": iCue,
	} {
		assert.GreaterOrEqual(t, idx, 0, "missing section %s", name)
	}
	assert.Less(t, iInstr, iKnow)
	assert.Less(t, iKnow, iHist)
	assert.Less(t, iHist, iTrig)
	assert.Less(t, iTrig, iCue)

	// Only agent turns render in history; sender names fall back to IDs.
	assert.Contains(t, prompt, "Planner: outline first")
	assert.Contains(t, prompt, "critic: tighten section two")
	assert.NotContains(t, prompt, "should not appear")
	assert.True(t, strings.HasSuffix(prompt, "Writer, please provide your response:"))
}

func TestBuildPromptMinimal(t *testing.T) {
	agent := &workflow.Agent{ID: "a", Name: "Alpha"}

	prompt := BuildPrompt(agent, "", nil, "  hello  ")

	assert.Equal(t, "hello\n\nAlpha, please provide your response:", prompt)
	assert.NotContains(t, prompt, "Conversation History:")
}
