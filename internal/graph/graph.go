// Package graph provides the work item dependency graph: an arena of nodes
// addressed by integer index, with cycle checks and critical path analysis.
package graph

import (
	"errors"
	"fmt"
)

// Graph errors.
var (
	ErrSelfLoop      = errors.New("work item cannot depend on itself")
	ErrDuplicateEdge = errors.New("dependency already exists")
	ErrCycle         = errors.New("dependency would create a cycle")
	ErrUnknownNode   = errors.New("unknown work item")
	ErrDuplicateNode = errors.New("work item added twice")
)

// Graph is a directed graph of work items. Edges point from predecessor to
// successor. Nodes live in flat slices and are addressed by index.
type Graph struct {
	ids     []string
	index   map[string]int
	rank    []int
	weight  []int
	succ    [][]int
	pred    [][]int
	edges   map[[2]int]struct{}
	edgeCnt int
}

// New creates an empty graph sized for n nodes.
func New(n int) *Graph {
	return &Graph{
		ids:    make([]string, 0, n),
		index:  make(map[string]int, n),
		rank:   make([]int, 0, n),
		weight: make([]int, 0, n),
		succ:   make([][]int, 0, n),
		pred:   make([][]int, 0, n),
		edges:  make(map[[2]int]struct{}),
	}
}

// AddNode registers a work item. Rank orders ties deterministically (lower
// first, typically the item's sequence number); weight is its planned
// duration in minutes.
func (g *Graph) AddNode(id string, rank, weight int) (int, error) {
	if _, ok := g.index[id]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	idx := len(g.ids)
	g.ids = append(g.ids, id)
	g.index[id] = idx
	g.rank = append(g.rank, rank)
	g.weight = append(g.weight, weight)
	g.succ = append(g.succ, nil)
	g.pred = append(g.pred, nil)
	return idx, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.ids)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return g.edgeCnt
}

// ID returns the work item id stored at idx.
func (g *Graph) ID(idx int) string {
	return g.ids[idx]
}

// Index looks up a node index by work item id.
func (g *Graph) Index(id string) (int, bool) {
	idx, ok := g.index[id]
	return idx, ok
}

// Predecessors returns the indices of direct predecessors of idx.
func (g *Graph) Predecessors(idx int) []int {
	return g.pred[idx]
}

// HasEdge reports whether the edge from -> to exists.
func (g *Graph) HasEdge(from, to int) bool {
	_, ok := g.edges[[2]int{from, to}]
	return ok
}

// CheckEdge validates a new predecessor -> successor edge without adding it.
func (g *Graph) CheckEdge(predecessorID, successorID string) error {
	if predecessorID == successorID {
		return ErrSelfLoop
	}
	from, ok := g.index[predecessorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, predecessorID)
	}
	to, ok := g.index[successorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, successorID)
	}
	if g.HasEdge(from, to) {
		return ErrDuplicateEdge
	}
	if g.reachesBackward(from, to) {
		return ErrCycle
	}
	return nil
}

// AddEdge validates and adds a predecessor -> successor edge.
func (g *Graph) AddEdge(predecessorID, successorID string) error {
	if err := g.CheckEdge(predecessorID, successorID); err != nil {
		return err
	}
	g.link(g.index[predecessorID], g.index[successorID])
	return nil
}

// LoadEdge adds an already persisted edge. Only unknown endpoints and exact
// duplicates are rejected; the stored graph is trusted to be acyclic and
// CriticalPath reports ErrCycle if it is not.
func (g *Graph) LoadEdge(predecessorID, successorID string) error {
	from, ok := g.index[predecessorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, predecessorID)
	}
	to, ok := g.index[successorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, successorID)
	}
	if g.HasEdge(from, to) {
		return ErrDuplicateEdge
	}
	g.link(from, to)
	return nil
}

func (g *Graph) link(from, to int) {
	g.edges[[2]int{from, to}] = struct{}{}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
	g.edgeCnt++
}

// reachesBackward walks predecessor links from start with an explicit stack
// and reports whether target is an ancestor of start. If so, an edge
// start -> target would close a cycle.
func (g *Graph) reachesBackward(start, target int) bool {
	visited := make([]bool, len(g.ids))
	stack := []int{start}
	visited[start] = true

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		for _, p := range g.pred[n] {
			if !visited[p] {
				visited[p] = true
				stack = append(stack, p)
			}
		}
	}
	return false
}
