package engine

import "github.com/flowline/backend/internal/apperr"

// BuildPlan produces the sequential execution order via Kahn's algorithm.
// The work queue is FIFO and seeds with zero in-degree nodes in graph
// insertion order, so ties are broken deterministically. A plan shorter than
// the node count means a cycle or a node unreachable from the in-degree
// frontier.
func BuildPlan(g *Graph) ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	successors := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		successors[e.From] = append(successors[e.From], e.To)
		indegree[e.To]++
	}

	queue := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	plan := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		plan = append(plan, id)
		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(plan) != len(g.Nodes) {
		return nil, apperr.New(apperr.KindInvalidGraph, "cycle or disconnected node")
	}
	return plan, nil
}
