// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package track computes the access transitions that GPU
// resources require.
// Given the committed state of a resource and the ordered
// list of accesses declared against it, Resolve produces
// the minimal set of barriers that takes the resource
// through every requested state.
package track

import (
	"slices"

	"github.com/gviegas/rendersync/driver"
)

// Resource is the interface that tracked resources
// implement.
// Values are used as map keys, so implementations should
// be pointer types.
type Resource interface {
	// Subresources returns the number of subresources.
	Subresources() int

	// DefaultAccess returns the access state in which
	// the resource is created, and to which it returns
	// at the end of a frame.
	DefaultAccess() driver.Access
}

// Request is a declared access.
// Requests are replayed in the order they were recorded.
type Request struct {
	Res    Resource
	Sub    int
	Access driver.Access
	// Batch identifies where in the recorded commands
	// the access happens.
	Batch int
}

// Barrier is a resolved access transition.
// Before is never equal to After.
type Barrier struct {
	Res    Resource
	Sub    int
	Before driver.Access
	After  driver.Access
	// Batch is the batch of the first access that
	// requires the After state, not the batch where the
	// Before state was last used. The barrier must be
	// recorded before the commands of this batch.
	Batch int
}

// SubAccess is the access state of a single subresource.
type SubAccess struct {
	Sub    int
	Access driver.Access
}

// State is the committed state of a resource.
// If Split is nil, every subresource is in Access.
// Otherwise, subresources listed in Split (in ascending
// order) are in their own states and the remaining ones
// are in Access (the complementary state).
type State struct {
	Access driver.Access
	Split  []SubAccess
}

// IsSplit returns whether s is in split form.
func (s *State) IsSplit() bool { return s.Split != nil }

// Of returns the access state of subresource sub.
func (s *State) Of(sub int) driver.Access {
	for _, x := range s.Split {
		if x.Sub == sub {
			return x.Access
		}
	}
	return s.Access
}

// Result is the outcome of Resolve.
type Result struct {
	Barriers []Barrier
	// Final is the state of the resource after every
	// request executes.
	Final State
}

// node is a segment of a resource's access history.
type node struct {
	access driver.Access
	sub    int
	batch  int
	// Seed nodes describe committed state and are
	// never widened.
	seed bool
}

// edge connects a node to a successor.
// If subs is not nil, the edge stands for the listed
// subresources only (a complementary node merging into
// a whole-resource node).
type edge struct {
	from, to int
	sub      int
	subs     []int
}

// graph is the access graph of a single resource.
type graph struct {
	res   Resource
	nsub  int
	nodes []node
	edges []edge
	// Indices into edges, per destination node.
	preds [][]int
	// Current whole-resource node, or -1 when split.
	all int
	// Current complementary node while split.
	compl int
	// Current node of each split subresource, or -1.
	split []int
	// Scratch worklist for widen.
	work []int
}

func newGraph(res Resource, seed State) *graph {
	nsub := res.Subresources()
	if nsub < 1 {
		panic("track: resource has no subresources")
	}
	g := &graph{
		res:   res,
		nsub:  nsub,
		all:   -1,
		compl: -1,
		split: make([]int, nsub),
	}
	for i := range g.split {
		g.split[i] = -1
	}
	if !seed.IsSplit() {
		g.all = g.addNode(node{seed.Access, driver.SubAll, -1, true})
		return g
	}
	g.compl = g.addNode(node{seed.Access, driver.SubAll, -1, true})
	for _, x := range seed.Split {
		g.checkSub(x.Sub)
		g.split[x.Sub] = g.addNode(node{x.Access, x.Sub, -1, true})
	}
	return g
}

func (g *graph) checkSub(sub int) {
	if sub != driver.SubAll && (sub < 0 || sub >= g.nsub) {
		panic("track: subresource out of range")
	}
}

func (g *graph) addNode(n node) int {
	g.nodes = append(g.nodes, n)
	g.preds = append(g.preds, nil)
	return len(g.nodes) - 1
}

func (g *graph) link(from, to, sub int, subs []int) {
	g.edges = append(g.edges, edge{from, to, sub, subs})
	g.preds[to] = append(g.preds[to], len(g.edges)-1)
}

// isSplit returns whether g tracks subresources
// separately.
func (g *graph) isSplit() bool { return g.all < 0 }

// current returns the node that holds the state of sub.
func (g *graph) current(sub int) int {
	if !g.isSplit() {
		return g.all
	}
	if x := g.split[sub]; x >= 0 {
		return x
	}
	return g.compl
}

// request replays a single request.
func (g *graph) request(r Request) {
	if !r.Access.Valid() {
		panic("track: invalid access state " + r.Access.String())
	}
	g.checkSub(r.Sub)

	if r.Sub == driver.SubAll {
		if g.isSplit() {
			g.merge(r)
		}
		g.all = g.apply(g.all, r)
		return
	}

	cur := g.current(r.Sub)
	n := g.apply(cur, r)
	if n == cur {
		return
	}
	if !g.isSplit() {
		g.compl = g.all
		g.all = -1
	}
	g.split[r.Sub] = n
}

// apply applies r to the current node cur.
// It returns cur itself if r did not require a new
// node.
func (g *graph) apply(cur int, r Request) int {
	c := &g.nodes[cur]
	if r.Access == c.access {
		return cur
	}
	if r.Access.IsRead() && c.access.IsRead() {
		if c.access&r.Access == r.Access {
			// The current read state already
			// covers the request.
			return cur
		}
		if !c.seed {
			g.widen(cur, r.Access)
			return cur
		}
	}
	n := g.addNode(node{r.Access, r.Sub, r.Batch, false})
	g.link(cur, n, r.Sub, nil)
	return n
}

// widen adds read states to node n and propagates them
// to every predecessor that is itself a mutable read
// node lacking them.
func (g *graph) widen(n int, a driver.Access) {
	g.nodes[n].access |= a
	g.work = append(g.work[:0], n)
	for len(g.work) > 0 {
		x := g.work[len(g.work)-1]
		g.work = g.work[:len(g.work)-1]
		for _, e := range g.preds[x] {
			p := &g.nodes[g.edges[e].from]
			if p.seed || !p.access.IsRead() || p.access&a == a {
				continue
			}
			p.access |= a
			g.work = append(g.work, g.edges[e].from)
		}
	}
}

// merge joins the complementary node and every split
// node into a new whole-resource node, as required by
// the whole-resource request r.
// If every subresource is in the same state, the new
// node takes that state and r is applied to it as to
// any other node. Otherwise the new node takes r's
// state directly, so subresources that are already in
// that state are linked without a transition.
func (g *graph) merge(r Request) {
	var covered []int
	for sub, x := range g.split {
		if x < 0 {
			covered = append(covered, sub)
		}
	}
	var a driver.Access
	same := true
	if len(covered) > 0 {
		a = g.nodes[g.compl].access
	} else {
		a = g.nodes[g.split[0]].access
	}
	for _, x := range g.split {
		if x >= 0 && g.nodes[x].access != a {
			same = false
			break
		}
	}
	if !same {
		a = r.Access
	}

	m := g.addNode(node{a, driver.SubAll, r.Batch, false})
	for sub, x := range g.split {
		if x >= 0 {
			g.link(x, m, sub, nil)
			g.split[sub] = -1
		}
	}
	if len(covered) > 0 {
		g.link(g.compl, m, driver.SubAll, covered)
	}
	g.compl = -1
	g.all = m
}

// barriers returns the barriers of every edge whose
// endpoints differ.
func (g *graph) barriers() (b []Barrier) {
	for _, e := range g.edges {
		from, to := &g.nodes[e.from], &g.nodes[e.to]
		if from.access == to.access {
			continue
		}
		if e.subs == nil {
			b = append(b, Barrier{g.res, e.sub, from.access, to.access, to.batch})
			continue
		}
		for _, sub := range e.subs {
			b = append(b, Barrier{g.res, sub, from.access, to.access, to.batch})
		}
	}
	slices.SortStableFunc(b, func(x, y Barrier) int { return x.Batch - y.Batch })
	return
}

// final returns the state of the resource after the
// last request.
func (g *graph) final() State {
	if !g.isSplit() {
		return State{Access: g.nodes[g.all].access}
	}
	s := State{Access: g.nodes[g.compl].access, Split: []SubAccess{}}
	for sub, x := range g.split {
		if x >= 0 {
			s.Split = append(s.Split, SubAccess{sub, g.nodes[x].access})
		}
	}
	return s
}

// Resolve computes the barriers that take res from the
// seed state through every request in reqs.
// Requests must refer to res and be in recording order.
// Consecutive read requests are merged into a single
// read state whenever possible, so the number of
// barriers depends only on actual state changes.
func Resolve(res Resource, seed State, reqs []Request) Result {
	g := newGraph(res, seed)
	for _, r := range reqs {
		if r.Res != res {
			panic("track: request does not refer to the resolved resource")
		}
		g.request(r)
	}
	return Result{g.barriers(), g.final()}
}
