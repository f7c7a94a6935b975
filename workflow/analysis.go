package workflow

import (
	"fmt"
	"math"
)

// MaxEnumeratedPaths caps path enumeration. Graphs with heavy fan-out can
// hold an exponential number of start-to-end paths; enumeration stops at
// the cap and sets PathsTruncated instead of running away.
const MaxEnumeratedPaths = 500

// Analysis is the advisory structural summary attached to a validation
// result. It never affects Valid.
type Analysis struct {
	AgentCount      int        `json:"agent_count"`
	ConnectionCount int        `json:"connection_count"`
	CycleCount      int        `json:"cycle_count"`
	PathCount       int        `json:"path_count"`
	PathsTruncated  bool       `json:"paths_truncated,omitempty"`
	ShortestPath    int        `json:"shortest_path_length,omitempty"`
	LongestPath     int        `json:"longest_path_length,omitempty"`
	Paths           [][]string `json:"paths,omitempty"`
	ComplexityScore float64    `json:"complexity_score"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// analyze computes the structural summary. It tolerates invalid graphs:
// with no unique start agent the path section stays empty.
func analyze(g *Graph, v *validator) Analysis {
	a := Analysis{
		AgentCount:      len(g.Agents),
		ConnectionCount: len(g.Connections),
		CycleCount:      v.cycleCount,
	}

	if start, ok := g.StartAgent(); ok {
		a.Paths, a.PathsTruncated = enumeratePaths(g, start.ID)
		a.PathCount = len(a.Paths)
		for _, p := range a.Paths {
			hops := len(p) - 1
			if a.ShortestPath == 0 || hops < a.ShortestPath {
				a.ShortestPath = hops
			}
			if hops > a.LongestPath {
				a.LongestPath = hops
			}
		}
	}

	a.ComplexityScore = complexityScore(g, v.cycleCount)
	a.Recommendations = recommend(g, &a)
	return a
}

// enumeratePaths lists every simple path from the start agent to any
// configured end agent, capped at MaxEnumeratedPaths. Cycles are broken by
// never revisiting an agent on the current path, so loop_back edges
// contribute structure but not repetition here.
func enumeratePaths(g *Graph, startID string) (paths [][]string, truncated bool) {
	ends := g.EndAgentIDs()
	onPath := map[string]bool{startID: true}
	path := []string{startID}

	var walk func(id string) bool
	walk = func(id string) bool {
		if ends[id] {
			paths = append(paths, append([]string{}, path...))
			if len(paths) >= MaxEnumeratedPaths {
				return false
			}
			// An end agent may still have outbound edges; keep walking.
		}
		for _, c := range g.Outgoing(id) {
			to := c.ToAgentID
			if onPath[to] {
				continue
			}
			if _, declared := g.AgentByID(to); !declared {
				continue
			}
			onPath[to] = true
			path = append(path, to)
			ok := walk(to)
			path = path[:len(path)-1]
			onPath[to] = false
			if !ok {
				return false
			}
		}
		return true
	}

	truncated = !walk(startID)
	return paths, truncated
}

// complexityScore weighs node count, edge count, fan-out beyond linear,
// and cycles into one number for dashboards and recommendations.
//
//	score = agents + 0.5*connections + 2*branching_excess + 3*cycles
//
// where branching_excess sums (out_degree - 1) over agents with more than
// one outbound edge.
func complexityScore(g *Graph, cycles int) float64 {
	branching := 0
	for i := range g.Agents {
		if d := g.OutDegree(g.Agents[i].ID); d > 1 {
			branching += d - 1
		}
	}
	score := float64(len(g.Agents)) +
		0.5*float64(len(g.Connections)) +
		2*float64(branching) +
		3*float64(cycles)
	return math.Round(score*10) / 10
}

func recommend(g *Graph, a *Analysis) []string {
	var recs []string
	if a.ComplexityScore > 40 {
		recs = append(recs, fmt.Sprintf("complexity score %.1f is high; consider splitting the workflow into smaller sub-workflows", a.ComplexityScore))
	}
	if a.PathsTruncated {
		recs = append(recs, fmt.Sprintf("more than %d start-to-end paths exist; conditional routing may be under-constrained", MaxEnumeratedPaths))
	}
	if a.CycleCount > 0 && g.Flow.MaxTotalMessages == 0 {
		recs = append(recs, "workflow contains loops but flow_configuration.max_total_messages is unset; the default message cap will apply")
	}
	if a.PathCount == 0 && a.AgentCount > 0 {
		recs = append(recs, "no start-to-end path was found; verify end agents are reachable")
	}
	for i := range g.Agents {
		ag := &g.Agents[i]
		if ag.RetrievalEnabled() && ag.Retrieval.Method == "" {
			recs = append(recs, fmt.Sprintf("agent %q enables retrieval without a method; the default retrieval method will be used", ag.ID))
		}
	}
	return recs
}
