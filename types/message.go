// Package types provides core types shared across the orchestron engine.
// This package has ZERO dependencies on other orchestron packages to avoid
// circular imports. All other packages import types from here.
package types

import "time"

// Role classifies who produced a transcript message.
type Role string

const (
	// RoleAgent marks output generated by a workflow agent turn.
	RoleAgent Role = "agent"
	// RoleSystem marks engine-generated messages (start prompts, end notes,
	// limit notices).
	RoleSystem Role = "system"
	// RoleRetrievalContext marks knowledge snippets injected by the
	// retrieval gateway.
	RoleRetrievalContext Role = "retrieval-context"
)

// Message is one entry of an execution transcript.
type Message struct {
	Role       Role      `json:"role"`
	SenderID   string    `json:"sender_agent_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
}

// NewMessage creates a message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAgentMessage creates an agent turn message.
func NewAgentMessage(agentID, agentName, content string) Message {
	return Message{
		Role:       RoleAgent,
		SenderID:   agentID,
		SenderName: agentName,
		Content:    content,
		Timestamp:  time.Now(),
	}
}

// NewSystemMessage creates an engine-generated message attributed to an agent.
func NewSystemMessage(agentID, agentName, content string) Message {
	return Message{
		Role:       RoleSystem,
		SenderID:   agentID,
		SenderName: agentName,
		Content:    content,
		Timestamp:  time.Now(),
	}
}

// WithTokens records the token count consumed producing this message.
func (m Message) WithTokens(n int) Message {
	m.TokensUsed = n
	return m
}
