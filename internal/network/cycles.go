package network

import (
	"sort"
	"strings"
)

// DefaultMaxLoops caps simple-cycle enumeration on dense networks.
const DefaultMaxLoops = 500

type Polarity string

const (
	Reinforcing Polarity = "reinforcing"
	Balancing   Polarity = "balancing"
)

// Loop is one simple feedback cycle, listed in traversal order starting
// from its lowest-index stock.
type Loop struct {
	Stocks     []string `json:"stocks"`
	Mechanisms []string `json:"mechanisms"`
	Polarity   Polarity `json:"polarity"`
}

func (l Loop) String() string {
	return strings.Join(append(l.Stocks, l.Stocks[0]), " -> ") + " (" + string(l.Polarity) + ")"
}

// Components returns the strongly connected components that contain a
// cycle, as stock indices. Components are sorted by size descending.
func (n *Network) Components() [][]int { return n.components }

// Loops returns the enumerated feedback loops. The second result reports
// whether enumeration stopped at the cap.
func (n *Network) Loops() ([]Loop, bool) { return n.loops, n.truncated }

// HasCycles reports whether any feedback exists.
func (n *Network) HasCycles() bool { return len(n.components) > 0 }

func (n *Network) analyze() {
	n.components = n.tarjan()
	max := n.opts.MaxLoops
	if max <= 0 {
		max = DefaultMaxLoops
	}
	n.loops, n.truncated = n.enumerateLoops(max)
}

// tarjan computes SCCs with an explicit call stack.
func (n *Network) tarjan() [][]int {
	const unvisited = -1
	size := len(n.stocks)
	index := make([]int, size)
	low := make([]int, size)
	onStack := make([]bool, size)
	for i := range index {
		index[i] = unvisited
	}
	var stack []int
	var sccs [][]int
	counter := 0

	type frame struct {
		node  int
		edge  int
		child int
	}

	for root := 0; root < size; root++ {
		if index[root] != unvisited {
			continue
		}
		index[root], low[root] = counter, counter
		counter++
		stack = append(stack, root)
		onStack[root] = true
		calls := []frame{{node: root, child: unvisited}}

		for len(calls) > 0 {
			f := &calls[len(calls)-1]
			if f.child != unvisited {
				if low[f.child] < low[f.node] {
					low[f.node] = low[f.child]
				}
				f.child = unvisited
			}

			descended := false
			for f.edge < len(n.outgoing[f.node]) {
				to := n.edges[n.outgoing[f.node][f.edge]].Target
				f.edge++
				if index[to] == unvisited {
					index[to], low[to] = counter, counter
					counter++
					stack = append(stack, to)
					onStack[to] = true
					f.child = to
					calls = append(calls, frame{node: to, child: unvisited})
					descended = true
					break
				}
				if onStack[to] && index[to] < low[f.node] {
					low[f.node] = index[to]
				}
			}
			if descended {
				continue
			}

			node := f.node
			calls = calls[:len(calls)-1]
			if low[node] != index[node] {
				continue
			}
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == node {
					break
				}
			}
			if len(scc) > 1 || n.selfLooped(scc[0]) {
				sort.Ints(scc)
				sccs = append(sccs, scc)
			}
		}
	}

	sort.SliceStable(sccs, func(i, j int) bool {
		if len(sccs[i]) != len(sccs[j]) {
			return len(sccs[i]) > len(sccs[j])
		}
		return sccs[i][0] < sccs[j][0]
	})
	return sccs
}

func (n *Network) selfLooped(i int) bool {
	for _, ei := range n.outgoing[i] {
		if n.edges[ei].Target == i {
			return true
		}
	}
	return false
}

// enumerateLoops lists simple cycles inside each component. Each cycle is
// found once, from its lowest-index stock, by only visiting stocks with a
// higher index than the start.
func (n *Network) enumerateLoops(max int) ([]Loop, bool) {
	comp := make([]int, len(n.stocks))
	for i := range comp {
		comp[i] = -1
	}
	for ci, c := range n.components {
		for _, s := range c {
			comp[s] = ci
		}
	}

	var loops []Loop
	truncated := false
	onPath := make([]bool, len(n.stocks))
	var path, via []int

	var visit func(start, node int) bool
	visit = func(start, node int) bool {
		for _, ei := range n.outgoing[node] {
			to := n.edges[ei].Target
			if comp[to] != comp[start] || to < start {
				continue
			}
			if to == start {
				if len(loops) >= max {
					truncated = true
					return false
				}
				loops = append(loops, n.makeLoop(path, append(via, ei)))
				continue
			}
			if onPath[to] {
				continue
			}
			onPath[to] = true
			path = append(path, to)
			via = append(via, ei)
			ok := visit(start, to)
			path = path[:len(path)-1]
			via = via[:len(via)-1]
			onPath[to] = false
			if !ok {
				return false
			}
		}
		return true
	}

	for start := range n.stocks {
		if comp[start] < 0 {
			continue
		}
		onPath[start] = true
		path = append(path[:0], start)
		via = via[:0]
		ok := visit(start, start)
		onPath[start] = false
		if !ok {
			break
		}
	}
	return loops, truncated
}

func (n *Network) makeLoop(path, via []int) Loop {
	l := Loop{
		Stocks:     make([]string, len(path)),
		Mechanisms: make([]string, len(via)),
		Polarity:   Reinforcing,
	}
	negatives := 0
	for i, s := range path {
		l.Stocks[i] = n.stocks[s].ID
	}
	for i, ei := range via {
		l.Mechanisms[i] = n.mechs[ei].ID
		if n.edges[ei].Params.Alpha < 0 {
			negatives++
		}
	}
	if negatives%2 == 1 {
		l.Polarity = Balancing
	}
	return l
}
