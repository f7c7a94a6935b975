package orchestrator

import (
	"github.com/orchestron-ai/orchestron/types"
	"github.com/orchestron-ai/orchestron/workflow"
)

type selKind int

const (
	// selNone: no outgoing edge could fire.
	selNone selKind = iota
	// selAdvance: a single successor turn was selected.
	selAdvance
	// selBroadcast: a fan-out group was selected; steps hold the targets in
	// priority order and mergeAgentID the post-merge successor.
	selBroadcast
	// selTerminationEdge: a termination edge fired; the run ends now.
	selTerminationEdge
	// selLoopExhausted: the only firable edge was a loop_back whose budget
	// ran out.
	selLoopExhausted
)

type selection struct {
	kind         selKind
	steps        []step
	mergeAgentID string
}

// selectNext picks the successor turn(s) of the agent that just spoke.
// Edges are considered in priority order. Broadcast edges take the whole
// group at once: every target receives the speaker's output sequentially,
// and the speaker's first non-broadcast edge names the merge successor that
// continues the flow with the joined outputs. Among the rest, the first
// firable edge wins: direct and handoff always fire, conditional fires on a
// matching predicate, loop_back fires while the source's visit budget lasts,
// termination ends the run. A default conditional edge is the fallback when
// nothing else fired.
func (o *Orchestrator) selectNext(rc *runContext, from *workflow.Agent, lastMsg types.Message) selection {
	outs := rc.graph.Outgoing(from.ID)

	var broadcasts []*workflow.Connection
	var mergeAgentID string
	for _, c := range outs {
		if c.Type == workflow.ConnectionBroadcast {
			broadcasts = append(broadcasts, c)
		} else if mergeAgentID == "" {
			mergeAgentID = c.ToAgentID
		}
	}
	if len(broadcasts) > 0 {
		steps := make([]step, 0, len(broadcasts))
		for _, c := range broadcasts {
			steps = append(steps, step{agentID: c.ToAgentID, trigger: lastMsg.Content})
		}
		return selection{kind: selBroadcast, steps: steps, mergeAgentID: mergeAgentID}
	}

	var defaultEdge *workflow.Connection
	loopExhausted := false
	for _, c := range outs {
		switch c.Type {
		case workflow.ConnectionDirect, workflow.ConnectionHandoff:
			// Handoff carries only the speaker's last message as the new
			// input; the accumulated transcript still reaches the target
			// through prompt assembly.
			return advance(c.ToAgentID, lastMsg.Content)
		case workflow.ConnectionConditional:
			if c.IsDefault {
				if defaultEdge == nil {
					defaultEdge = c
				}
				continue
			}
			if c.Condition.Matches(lastMsg) {
				return advance(c.ToAgentID, lastMsg.Content)
			}
		case workflow.ConnectionLoopBack:
			if rc.loopBudget[from.ID] > 0 {
				return advance(c.ToAgentID, lastMsg.Content)
			}
			loopExhausted = true
		case workflow.ConnectionTermination:
			return selection{kind: selTerminationEdge}
		}
	}

	if defaultEdge != nil {
		return advance(defaultEdge.ToAgentID, lastMsg.Content)
	}
	if loopExhausted {
		return selection{kind: selLoopExhausted}
	}
	return selection{kind: selNone}
}

func advance(agentID, trigger string) selection {
	return selection{kind: selAdvance, steps: []step{{agentID: agentID, trigger: trigger}}}
}
