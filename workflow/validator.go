package workflow

import (
	"fmt"
	"sort"
)

// Validation error codes. SCHEMA_* codes cover identity and shape problems,
// FLOW_* codes cover graph-structure problems. Both classes are fatal to
// starting a run; warnings are not.
const (
	CodeDuplicateAgentID  = "SCHEMA_DUPLICATE_AGENT_ID"
	CodeUnknownAgentType  = "SCHEMA_UNKNOWN_AGENT_TYPE"
	CodeUnknownEdgeType   = "SCHEMA_UNKNOWN_CONNECTION_TYPE"
	CodeDanglingEndpoint  = "SCHEMA_DANGLING_ENDPOINT"
	CodeIllegalSelfLoop   = "SCHEMA_ILLEGAL_SELF_LOOP"
	CodeMissingLLMConfig  = "SCHEMA_MISSING_LLM_CONFIG"
	CodeConditionRequired = "SCHEMA_CONDITION_REQUIRED"
	CodeStartCardinality  = "FLOW_START_CARDINALITY"
	CodeEndMissing        = "FLOW_END_MISSING"
	CodeStartMismatch     = "FLOW_START_MISMATCH"
	CodeEndNotFlagged     = "FLOW_END_NOT_FLAGGED"
	CodeIsolatedAgent     = "FLOW_ISOLATED_AGENT"
	CodeUnreachableAgent  = "FLOW_UNREACHABLE_AGENT"
	CodeUnboundedCycle    = "FLOW_UNBOUNDED_CYCLE"
	CodeDeadEnd           = "FLOW_DEAD_END"
)

// ValidationError is one typed finding of the validator.
type ValidationError struct {
	Code         string `json:"code"`
	AgentID      string `json:"agent_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Message      string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the full outcome of validating a graph. Errors block execution;
// Warnings do not. Analysis is advisory output for tooling and logging.
type Result struct {
	Valid    bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
	Analysis Analysis          `json:"analysis"`
}

// Validate runs every structural check over the graph. Checks do not
// short-circuit: all findings are collected so the authoring surface can
// show them at once. Execution must refuse to start while Errors is
// non-empty.
func Validate(g *Graph) Result {
	v := &validator{graph: g}
	v.checkIdentity()
	v.checkStartEndCardinality()
	v.checkIsolation()
	v.checkReachability()
	v.checkCycles()
	v.checkDeadEnds()

	res := Result{
		Valid:    len(v.errors) == 0,
		Errors:   v.errors,
		Warnings: v.warnings,
	}
	res.Analysis = analyze(g, v)
	return res
}

type validator struct {
	graph    *Graph
	errors   []ValidationError
	warnings []ValidationError

	// populated by checkCycles for analysis
	cycleCount int
}

func (v *validator) errf(code, agentID, connID, format string, args ...any) {
	v.errors = append(v.errors, ValidationError{
		Code:         code,
		AgentID:      agentID,
		ConnectionID: connID,
		Message:      fmt.Sprintf(format, args...),
	})
}

func (v *validator) warnf(code, agentID, connID, format string, args ...any) {
	v.warnings = append(v.warnings, ValidationError{
		Code:         code,
		AgentID:      agentID,
		ConnectionID: connID,
		Message:      fmt.Sprintf(format, args...),
	})
}

// checkIdentity verifies agent ID uniqueness, declared type membership,
// endpoint resolution, the self-loop rule, and per-type required fields.
func (v *validator) checkIdentity() {
	g := v.graph
	seen := make(map[string]bool, len(g.Agents))
	for i := range g.Agents {
		a := &g.Agents[i]
		if a.ID == "" {
			v.errf(CodeDuplicateAgentID, a.ID, "", "agent %q has an empty agent_id", a.Name)
			continue
		}
		if seen[a.ID] {
			v.errf(CodeDuplicateAgentID, a.ID, "", "agent_id %q declared more than once", a.ID)
		}
		seen[a.ID] = true

		if !a.Type.Known() {
			v.errf(CodeUnknownAgentType, a.ID, "", "agent %q has unknown agent_type %q", a.ID, a.Type)
		}
		if !a.Type.Terminal() && a.LLM == nil {
			v.errf(CodeMissingLLMConfig, a.ID, "", "agent %q (%s) requires an llm_configuration", a.ID, a.Type)
		}
	}

	for i := range g.Connections {
		c := &g.Connections[i]
		if !c.Type.Known() {
			v.errf(CodeUnknownEdgeType, "", c.ID, "connection %q has unknown connection_type %q", c.ID, c.Type)
		}
		if !seen[c.FromAgentID] {
			v.errf(CodeDanglingEndpoint, c.FromAgentID, c.ID, "connection %q references undeclared from_agent_id %q", c.ID, c.FromAgentID)
		}
		if !seen[c.ToAgentID] {
			v.errf(CodeDanglingEndpoint, c.ToAgentID, c.ID, "connection %q references undeclared to_agent_id %q", c.ID, c.ToAgentID)
		}
		if c.FromAgentID == c.ToAgentID {
			// Self-loops are permitted only for loop_back edges whose source
			// declares a bounded iteration count.
			src, ok := g.AgentByID(c.FromAgentID)
			if c.Type != ConnectionLoopBack {
				v.errf(CodeIllegalSelfLoop, c.FromAgentID, c.ID, "self-loop %q must be typed loop_back, got %q", c.ID, c.Type)
			} else if ok && src.LoopIterationLimit <= 0 {
				v.errf(CodeIllegalSelfLoop, c.FromAgentID, c.ID, "loop_back self-loop %q requires a positive loop_iteration_limit on agent %q", c.ID, c.FromAgentID)
			}
		}
		if c.Type == ConnectionConditional && c.Condition == nil && !c.IsDefault {
			v.errf(CodeConditionRequired, c.FromAgentID, c.ID, "conditional connection %q requires a condition or is_default", c.ID)
		}
	}
}

// checkStartEndCardinality verifies exactly one start flag, at least one end
// flag, and that the flow configuration agrees with the flags.
func (v *validator) checkStartEndCardinality() {
	g := v.graph
	var starts []string
	for i := range g.Agents {
		if g.Agents[i].IsStartNode {
			starts = append(starts, g.Agents[i].ID)
		}
	}
	switch len(starts) {
	case 1:
		if g.Flow.StartAgentID != "" && g.Flow.StartAgentID != starts[0] {
			v.errf(CodeStartMismatch, g.Flow.StartAgentID, "",
				"flow_configuration.start_agent_id %q does not match flagged start agent %q", g.Flow.StartAgentID, starts[0])
		}
	case 0:
		v.errf(CodeStartCardinality, "", "", "exactly one agent must set is_start_node, found none")
	default:
		v.errf(CodeStartCardinality, "", "", "exactly one agent must set is_start_node, found %d (%v)", len(starts), starts)
	}

	ends := g.EndAgentIDs()
	if len(ends) == 0 {
		v.errf(CodeEndMissing, "", "", "at least one agent must set is_end_node")
	}
	if len(g.Flow.EndAgentIDs) == 0 {
		v.errf(CodeEndMissing, "", "", "flow_configuration.end_agent_ids must not be empty")
	}
	for _, id := range g.Flow.EndAgentIDs {
		if !ends[id] {
			v.errf(CodeEndNotFlagged, id, "", "flow_configuration end agent %q is not flagged is_end_node", id)
		}
	}
}

// checkIsolation verifies every non-start agent has an inbound edge and
// every non-end agent an outbound edge.
func (v *validator) checkIsolation() {
	g := v.graph
	for i := range g.Agents {
		a := &g.Agents[i]
		if !a.IsStartNode && g.InDegree(a.ID) == 0 {
			v.errf(CodeIsolatedAgent, a.ID, "", "agent %q has no inbound connection", a.ID)
		}
		if !a.IsEndNode && g.OutDegree(a.ID) == 0 {
			v.errf(CodeIsolatedAgent, a.ID, "", "agent %q has no outbound connection", a.ID)
		}
	}
}

// checkReachability walks forward from the start agent and reports every
// agent the walk does not visit, individually.
func (v *validator) checkReachability() {
	g := v.graph
	start, ok := g.StartAgent()
	if !ok {
		// Start cardinality already reported; reachability needs an anchor.
		return
	}
	visited := map[string]bool{start.ID: true}
	queue := []string{start.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.Outgoing(cur) {
			if _, declared := g.AgentByID(c.ToAgentID); !declared {
				continue
			}
			if !visited[c.ToAgentID] {
				visited[c.ToAgentID] = true
				queue = append(queue, c.ToAgentID)
			}
		}
	}
	// Deterministic report order.
	var unreached []string
	for i := range g.Agents {
		if !visited[g.Agents[i].ID] {
			unreached = append(unreached, g.Agents[i].ID)
		}
	}
	sort.Strings(unreached)
	for _, id := range unreached {
		v.errf(CodeUnreachableAgent, id, "", "agent %q is not reachable from start agent %q", id, start.ID)
	}
}

// checkCycles runs a three-color DFS. White nodes are unvisited, gray nodes
// are on the current stack, black nodes are done. An edge into a gray node
// is a back-edge closing a cycle. A cycle is legal only when every edge on
// it is typed loop_back and every source agent declares a positive
// loop_iteration_limit; the bounded counters are what guarantee the loop
// exits.
func (v *validator) checkCycles() {
	g := v.graph

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Agents))
	var stack []string         // gray agents in DFS order
	var stackEdges []*Connection // edge taken into stack[i]

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, c := range g.Outgoing(id) {
			to := c.ToAgentID
			if _, declared := g.AgentByID(to); !declared {
				continue
			}
			switch color[to] {
			case white:
				stackEdges = append(stackEdges, c)
				visit(to)
				stackEdges = stackEdges[:len(stackEdges)-1]
			case gray:
				v.cycleCount++
				v.reportCycle(stack, stackEdges, c)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for i := range g.Agents {
		if color[g.Agents[i].ID] == white {
			visit(g.Agents[i].ID)
		}
	}
}

// reportCycle inspects the cycle closed by back-edge closing: the gray stack
// suffix from the back-edge target onward, plus the closing edge itself.
func (v *validator) reportCycle(stack []string, stackEdges []*Connection, closing *Connection) {
	g := v.graph

	from := 0
	for i, id := range stack {
		if id == closing.ToAgentID {
			from = i
			break
		}
	}
	cycleAgents := append([]string{}, stack[from:]...)
	cycleEdges := append(append([]*Connection{}, stackEdges[from:]...), closing)

	for _, c := range cycleEdges {
		if c.Type != ConnectionLoopBack {
			v.errf(CodeUnboundedCycle, c.FromAgentID, c.ID,
				"cycle through %v contains non-loop_back connection %q (%s)", cycleAgents, c.ID, c.Type)
			return
		}
		src, ok := g.AgentByID(c.FromAgentID)
		if ok && src.LoopIterationLimit <= 0 {
			v.errf(CodeUnboundedCycle, c.FromAgentID, c.ID,
				"loop_back connection %q requires a positive loop_iteration_limit on agent %q", c.ID, c.FromAgentID)
			return
		}
	}
}

// checkDeadEnds reports non-end agents whose outbound edges cannot fire
// under the declared flow mode. These are warnings: the run may still
// terminate through the message cap.
func (v *validator) checkDeadEnds() {
	g := v.graph
	for i := range g.Agents {
		a := &g.Agents[i]
		if a.IsEndNode || g.OutDegree(a.ID) == 0 {
			// Zero outbound is already a hard isolation error.
			continue
		}
		if !v.hasViableExit(a) {
			v.warnf(CodeDeadEnd, a.ID, "",
				"agent %q has no outbound connection guaranteed to fire under %s flow mode", a.ID, g.Flow.FlowMode)
		}
	}
}

// hasViableExit reports whether at least one outbound edge is guaranteed
// eligible: unconditional types always are, conditional groups need a
// default, loop_back needs a positive bound.
func (v *validator) hasViableExit(a *Agent) bool {
	for _, c := range v.graph.Outgoing(a.ID) {
		switch c.Type {
		case ConnectionDirect, ConnectionBroadcast, ConnectionHandoff, ConnectionTermination:
			return true
		case ConnectionConditional:
			if c.IsDefault {
				return true
			}
		case ConnectionLoopBack:
			if a.LoopIterationLimit > 0 && c.FromAgentID != c.ToAgentID {
				return true
			}
		}
	}
	return false
}
