// Package routing resolves the ordered list of links between two endpoints.
//
// Explicit routes win. Otherwise the table falls back to a shortest path, in
// hops, over the graph of endpoints (hosts and routers) connected by links.
// Among equally short paths the one visiting the earliest declared endpoints
// is chosen, so routes do not depend on map iteration order.
package routing

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
)

type pair struct{ src, dst string }

// Table is a routing table. It implements resource.Router.
type Table struct {
	explicit map[pair][]*resource.Link

	graph *simple.WeightedUndirectedGraph
	ids   map[string]int64
	links map[[2]int64]*resource.Link
	// shortest path trees, by root node
	trees map[int64]path.ShortestAlts
}

// New creates an empty table.
func New() *Table {
	return &Table{
		explicit: make(map[pair][]*resource.Link),
		graph:    simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		ids:      make(map[string]int64),
		links:    make(map[[2]int64]*resource.Link),
		trees:    make(map[int64]path.ShortestAlts),
	}
}

// AddRoute registers the links from src to dst, and the reversed list from
// dst to src when symmetric is set.
func (t *Table) AddRoute(src, dst string, links []*resource.Link, symmetric bool) {
	t.explicit[pair{src, dst}] = slices.Clone(links)
	if symmetric {
		back := slices.Clone(links)
		slices.Reverse(back)
		t.explicit[pair{dst, src}] = back
	}
}

// AddEdge connects two endpoints through link for the shortest path fallback.
func (t *Table) AddEdge(from, to string, link *resource.Link) error {
	if from == to {
		return fmt.Errorf("edge %s: endpoints must differ", link.Name())
	}
	u, v := t.node(from), t.node(to)
	key := edgeKey(u.ID(), v.ID())
	if prev, ok := t.links[key]; ok {
		return fmt.Errorf("edge %s: %s and %s are already connected by %s", link.Name(), from, to, prev.Name())
	}
	t.links[key] = link
	t.graph.SetWeightedEdge(simple.WeightedEdge{F: u, T: v, W: 1})
	t.trees = make(map[int64]path.ShortestAlts)
	return nil
}

// Route returns the links from src to dst.
func (t *Table) Route(src, dst string) ([]*resource.Link, error) {
	if links, ok := t.explicit[pair{src, dst}]; ok {
		return links, nil
	}
	u, okU := t.ids[src]
	v, okV := t.ids[dst]
	if !okU || !okV {
		return nil, fmt.Errorf("%w from %s to %s", resource.ErrNoRoute, src, dst)
	}

	tree, ok := t.trees[u]
	if !ok {
		tree = path.DijkstraAllFrom(t.graph.Node(u), t.graph)
		t.trees[u] = tree
	}
	var best []graph.Node
	tree.AllToFunc(v, func(p []graph.Node) {
		if best == nil || lessPath(p, best) {
			best = slices.Clone(p)
		}
	})
	if len(best) < 2 {
		return nil, fmt.Errorf("%w from %s to %s", resource.ErrNoRoute, src, dst)
	}

	route := make([]*resource.Link, 0, len(best)-1)
	for i := 1; i < len(best); i++ {
		route = append(route, t.links[edgeKey(best[i-1].ID(), best[i].ID())])
	}
	return route, nil
}

func (t *Table) node(name string) graph.Node {
	if id, ok := t.ids[name]; ok {
		return t.graph.Node(id)
	}
	n := simple.Node(len(t.ids))
	t.ids[name] = n.ID()
	t.graph.AddNode(n)
	return n
}

func edgeKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func lessPath(a, b []graph.Node) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].ID() != b[i].ID() {
			return a[i].ID() < b[i].ID()
		}
	}
	return len(a) < len(b)
}
