// Package workflow defines the static workflow graph model (agents,
// connections, flow configuration) together with its structural queries,
// JSON form, and the validator.
//
// Agents and connections are held in flat lists indexed by ID rather than
// nested object references, so traversal, validation, and serialization all
// operate over indices and the structure round-trips through JSON without
// ownership-cycle concerns.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/orchestron-ai/orchestron/types"
)

// AgentType is the closed set of node variants a graph may contain.
type AgentType string

const (
	AgentStartNode        AgentType = "StartNode"
	AgentEndNode          AgentType = "EndNode"
	AgentAssistant        AgentType = "AssistantAgent"
	AgentUserProxy        AgentType = "UserProxyAgent"
	AgentDelegate         AgentType = "DelegateAgent"
	AgentGroupChatManager AgentType = "GroupChatManager"
	AgentCustom           AgentType = "CustomAgent"
)

// Known reports whether t is a declared agent type.
func (t AgentType) Known() bool {
	switch t {
	case AgentStartNode, AgentEndNode, AgentAssistant, AgentUserProxy,
		AgentDelegate, AgentGroupChatManager, AgentCustom:
		return true
	}
	return false
}

// Terminal reports whether the type is a start or end marker rather than a
// completing agent. Terminal agents carry no llm_configuration.
func (t AgentType) Terminal() bool {
	return t == AgentStartNode || t == AgentEndNode
}

// LLMConfiguration holds the completion parameters of one agent.
type LLMConfiguration struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// RetrievalConfiguration marks an agent as retrieval-augmented.
type RetrievalConfiguration struct {
	Enabled       bool              `json:"enabled"`
	Method        string            `json:"method"`
	Parameters    map[string]any    `json:"parameters,omitempty"`
	ContentFilter map[string]string `json:"content_filter,omitempty"`
}

// Agent is one node of the workflow graph. Agents are immutable during a
// run; the authoring surface creates and edits them.
type Agent struct {
	ID            string    `json:"agent_id"`
	Type          AgentType `json:"agent_type"`
	Name          string    `json:"name"`
	SystemMessage string    `json:"system_message,omitempty"`
	// Instructions is an agent-specific addendum rendered after the system
	// message when the prompt is assembled.
	Instructions string                  `json:"instructions,omitempty"`
	LLM          *LLMConfiguration       `json:"llm_configuration,omitempty"`
	IsStartNode  bool                    `json:"is_start_node"`
	IsEndNode    bool                    `json:"is_end_node"`
	Retrieval    *RetrievalConfiguration `json:"retrieval_configuration,omitempty"`
	// LoopIterationLimit bounds loop_back edges leaving this agent. Required
	// (> 0) for any agent that is the source of a loop_back edge.
	LoopIterationLimit int `json:"loop_iteration_limit,omitempty"`
	// StartPrompt seeds the conversation when this agent is the start node.
	StartPrompt string `json:"start_prompt,omitempty"`
	// EndMessage is recorded when this end node is reached.
	EndMessage string `json:"end_message,omitempty"`
}

// RetrievalEnabled reports whether the agent's prompt gets a knowledge section.
func (a *Agent) RetrievalEnabled() bool {
	return a.Retrieval != nil && a.Retrieval.Enabled
}

// ConnectionType is the closed set of edge variants.
type ConnectionType string

const (
	ConnectionDirect      ConnectionType = "direct"
	ConnectionConditional ConnectionType = "conditional"
	ConnectionBroadcast   ConnectionType = "broadcast"
	ConnectionHandoff     ConnectionType = "handoff"
	ConnectionLoopBack    ConnectionType = "loop_back"
	ConnectionTermination ConnectionType = "termination"
)

// Known reports whether t is a declared connection type.
func (t ConnectionType) Known() bool {
	switch t {
	case ConnectionDirect, ConnectionConditional, ConnectionBroadcast,
		ConnectionHandoff, ConnectionLoopBack, ConnectionTermination:
		return true
	}
	return false
}

// ConditionKind selects how a routing condition inspects the last message.
type ConditionKind string

const (
	ConditionContains    ConditionKind = "contains"
	ConditionNotContains ConditionKind = "not_contains"
	ConditionEquals      ConditionKind = "equals"
	ConditionRoleIs      ConditionKind = "role_is"
)

// Condition is a predicate over the last produced message, attached to
// conditional connections.
type Condition struct {
	Kind  ConditionKind `json:"kind"`
	Value string        `json:"value"`
}

// Matches evaluates the condition against a transcript message.
func (c *Condition) Matches(msg types.Message) bool {
	if c == nil {
		return false
	}
	switch c.Kind {
	case ConditionContains:
		return strings.Contains(msg.Content, c.Value)
	case ConditionNotContains:
		return !strings.Contains(msg.Content, c.Value)
	case ConditionEquals:
		return strings.TrimSpace(msg.Content) == c.Value
	case ConditionRoleIs:
		return string(msg.Role) == c.Value
	}
	return false
}

// Connection is one directed edge of the workflow graph.
type Connection struct {
	ID          string         `json:"connection_id"`
	FromAgentID string         `json:"from_agent_id"`
	ToAgentID   string         `json:"to_agent_id"`
	Type        ConnectionType `json:"connection_type"`
	Condition   *Condition     `json:"condition,omitempty"`
	// IsDefault marks the fallback edge among a group of conditional edges
	// leaving the same agent.
	IsDefault bool `json:"is_default,omitempty"`
	// Priority orders edges leaving the same agent; lower fires first.
	Priority int `json:"priority,omitempty"`
}

// TerminationStrategy is the rule deciding when a run stops.
type TerminationStrategy string

const (
	TerminateEndNodeReached       TerminationStrategy = "end_node_reached"
	TerminateMaxIterations        TerminationStrategy = "max_iterations_reached"
	TerminateAnyDelegateComplete  TerminationStrategy = "any_delegate_complete"
	TerminateAllDelegatesComplete TerminationStrategy = "all_delegates_complete"
	TerminateCustomCondition      TerminationStrategy = "custom_condition"
)

// FlowMode selects how strictly the orchestrator follows declared edges.
type FlowMode string

const (
	// FlowStrict allows only declared edges to fire.
	FlowStrict FlowMode = "strict"
	// FlowSelective lets the orchestrator skip agents with no actionable input.
	FlowSelective FlowMode = "selective"
)

// DefaultMaxTotalMessages caps a run's transcript when the flow
// configuration does not set its own limit.
const DefaultMaxTotalMessages = 50

// FlowConfiguration holds the run parameters of a graph.
type FlowConfiguration struct {
	StartAgentID            string              `json:"start_agent_id"`
	EndAgentIDs             []string            `json:"end_agent_ids"`
	MaxTotalMessages        int                 `json:"max_total_messages,omitempty"`
	TerminationStrategy     TerminationStrategy `json:"termination_strategy"`
	FlowMode                FlowMode            `json:"flow_mode,omitempty"`
	CustomTerminationPhrase string              `json:"custom_termination_phrase,omitempty"`
}

// MessageLimit returns the effective transcript cap.
func (f *FlowConfiguration) MessageLimit() int {
	if f.MaxTotalMessages > 0 {
		return f.MaxTotalMessages
	}
	return DefaultMaxTotalMessages
}

// Graph is the static definition of a workflow: flat agent and connection
// lists plus the flow configuration. The exported fields are the persisted
// and exchanged JSON shape.
type Graph struct {
	WorkflowID   string            `json:"workflow_id"`
	WorkflowName string            `json:"workflow_name"`
	ProjectID    string            `json:"project_id"`
	Agents       []Agent           `json:"agents"`
	Connections  []Connection      `json:"connections"`
	Flow         FlowConfiguration `json:"flow_configuration"`

	idx *graphIndex
}

// graphIndex accelerates structural queries. Built lazily, never serialized.
// Unknown endpoint IDs are tolerated here; the validator reports them.
type graphIndex struct {
	agentByID map[string]int   // agent ID -> position in Agents
	outgoing  map[string][]int // agent ID -> positions in Connections
	incoming  map[string][]int
}

// ParseGraph decodes the exchanged JSON shape into a Graph.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, types.NewError(types.ErrSchema, "malformed workflow graph JSON").WithCause(err)
	}
	return &g, nil
}

// JSON encodes the graph back to its exchanged shape.
func (g *Graph) JSON() ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode workflow graph: %w", err)
	}
	return data, nil
}

func (g *Graph) ensureIndex() *graphIndex {
	if g.idx != nil {
		return g.idx
	}
	idx := &graphIndex{
		agentByID: make(map[string]int, len(g.Agents)),
		outgoing:  make(map[string][]int),
		incoming:  make(map[string][]int),
	}
	for i := range g.Agents {
		// First declaration wins on duplicate IDs; the validator flags them.
		if _, dup := idx.agentByID[g.Agents[i].ID]; !dup {
			idx.agentByID[g.Agents[i].ID] = i
		}
	}
	for i := range g.Connections {
		c := &g.Connections[i]
		idx.outgoing[c.FromAgentID] = append(idx.outgoing[c.FromAgentID], i)
		idx.incoming[c.ToAgentID] = append(idx.incoming[c.ToAgentID], i)
	}
	for id := range idx.outgoing {
		conns := g.Connections
		sort.SliceStable(idx.outgoing[id], func(a, b int) bool {
			ca, cb := conns[idx.outgoing[id][a]], conns[idx.outgoing[id][b]]
			if ca.Priority != cb.Priority {
				return ca.Priority < cb.Priority
			}
			return ca.ID < cb.ID
		})
	}
	g.idx = idx
	return idx
}

// InvalidateIndex discards cached structural indices. Call after mutating
// Agents or Connections; mutating a graph while a run is in flight is
// rejected by validation-on-start, not here.
func (g *Graph) InvalidateIndex() { g.idx = nil }

// AgentByID resolves an agent by its ID.
func (g *Graph) AgentByID(id string) (*Agent, bool) {
	i, ok := g.ensureIndex().agentByID[id]
	if !ok {
		return nil, false
	}
	return &g.Agents[i], true
}

// Outgoing returns the connections leaving an agent, ordered by priority
// then connection ID.
func (g *Graph) Outgoing(agentID string) []*Connection {
	idx := g.ensureIndex()
	out := make([]*Connection, 0, len(idx.outgoing[agentID]))
	for _, i := range idx.outgoing[agentID] {
		out = append(out, &g.Connections[i])
	}
	return out
}

// Incoming returns the connections entering an agent.
func (g *Graph) Incoming(agentID string) []*Connection {
	idx := g.ensureIndex()
	in := make([]*Connection, 0, len(idx.incoming[agentID]))
	for _, i := range idx.incoming[agentID] {
		in = append(in, &g.Connections[i])
	}
	return in
}

// OutDegree returns the number of edges leaving an agent.
func (g *Graph) OutDegree(agentID string) int {
	return len(g.ensureIndex().outgoing[agentID])
}

// InDegree returns the number of edges entering an agent.
func (g *Graph) InDegree(agentID string) int {
	return len(g.ensureIndex().incoming[agentID])
}

// StartAgent returns the agent flagged is_start_node, when exactly one exists.
func (g *Graph) StartAgent() (*Agent, bool) {
	var found *Agent
	for i := range g.Agents {
		if g.Agents[i].IsStartNode {
			if found != nil {
				return nil, false
			}
			found = &g.Agents[i]
		}
	}
	return found, found != nil
}

// EndAgentIDs returns the set of agents flagged is_end_node.
func (g *Graph) EndAgentIDs() map[string]bool {
	ends := make(map[string]bool)
	for i := range g.Agents {
		if g.Agents[i].IsEndNode {
			ends[g.Agents[i].ID] = true
		}
	}
	return ends
}

// IsConfiguredEnd reports whether the agent is in the flow configuration's
// end set.
func (g *Graph) IsConfiguredEnd(agentID string) bool {
	for _, id := range g.Flow.EndAgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}
