package graph

import "container/heap"

// Path is the longest-duration chain of the graph.
type Path struct {
	IDs           []string
	TotalDuration int
}

// Contains reports whether the work item is on the path.
func (p Path) Contains(id string) bool {
	for _, v := range p.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// TopologicalOrder returns node indices so that every predecessor precedes
// its successors. Among ready nodes the lowest rank goes first. Returns
// ErrCycle if the graph is not acyclic.
func (g *Graph) TopologicalOrder() ([]int, error) {
	inDegree := make([]int, len(g.ids))
	for i := range g.ids {
		inDegree[i] = len(g.pred[i])
	}

	ready := &rankHeap{rank: g.rank}
	for i, d := range inDegree {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, len(g.ids))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		order = append(order, n)
		for _, s := range g.succ[n] {
			inDegree[s]--
			if inDegree[s] == 0 {
				heap.Push(ready, s)
			}
		}
	}

	if len(order) != len(g.ids) {
		return nil, ErrCycle
	}
	return order, nil
}

// CriticalPath computes the longest path by summed node weight. Ties are
// broken towards lower rank, so the result is deterministic. An empty graph
// yields an empty path.
func (g *Graph) CriticalPath() (Path, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return Path{}, err
	}
	if len(order) == 0 {
		return Path{}, nil
	}

	finish := make([]int, len(g.ids))
	via := make([]int, len(g.ids))

	for _, n := range order {
		best := -1
		for _, p := range g.pred[n] {
			if best == -1 || finish[p] > finish[best] ||
				(finish[p] == finish[best] && g.less(p, best)) {
				best = p
			}
		}
		via[n] = best
		finish[n] = g.weight[n]
		if best >= 0 {
			finish[n] += finish[best]
		}
	}

	end := order[0]
	for _, n := range order[1:] {
		if finish[n] > finish[end] || (finish[n] == finish[end] && g.less(n, end)) {
			end = n
		}
	}

	var rev []string
	for n := end; n >= 0; n = via[n] {
		rev = append(rev, g.ids[n])
	}
	ids := make([]string, len(rev))
	for i, id := range rev {
		ids[len(rev)-1-i] = id
	}

	return Path{IDs: ids, TotalDuration: finish[end]}, nil
}

func (g *Graph) less(a, b int) bool {
	if g.rank[a] != g.rank[b] {
		return g.rank[a] < g.rank[b]
	}
	return a < b
}

// rankHeap is a min-heap of node indices ordered by rank, then index.
type rankHeap struct {
	items []int
	rank  []int
}

func (h *rankHeap) Len() int { return len(h.items) }

func (h *rankHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.rank[a] != h.rank[b] {
		return h.rank[a] < h.rank[b]
	}
	return a < b
}

func (h *rankHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *rankHeap) Push(x any) { h.items = append(h.items, x.(int)) }

func (h *rankHeap) Pop() any {
	n := len(h.items)
	v := h.items[n-1]
	h.items = h.items[:n-1]
	return v
}
