// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package track

import (
	"github.com/gviegas/rendersync/driver"
)

// Use is an access declared by a Pass.
type Use struct {
	Res    Resource
	Sub    int
	Access driver.Access
}

// Pass is a logical render pass.
type Pass struct {
	Name string
	Uses []Use
}

// Plan is the outcome of PlanPasses.
type Plan struct {
	// Barriers[i] must be recorded before pass i.
	// The last element holds the barriers of the
	// finalize pass that follows every given pass.
	Barriers [][]Barrier
	// Resources lists every resource that the passes
	// touch, in the order they were first used.
	Resources []Resource
}

// Finalize returns the barriers of the finalize pass.
func (p *Plan) Finalize() []Barrier { return p.Barriers[len(p.Barriers)-1] }

// PlanPasses computes the barriers required by a known
// sequence of passes.
// Every resource starts in its default access state,
// and a finalize pass returns every resource to that
// same state, so a plan never leaves a resource in a
// different state than it found it.
// The barriers of pass i have Batch set to i.
func PlanPasses(passes []Pass) Plan {
	var order []Resource
	reqs := make(map[Resource][]Request)
	for i := range passes {
		for _, u := range passes[i].Uses {
			if _, ok := reqs[u.Res]; !ok {
				order = append(order, u.Res)
			}
			reqs[u.Res] = append(reqs[u.Res], Request{u.Res, u.Sub, u.Access, i})
		}
	}

	fin := len(passes)
	p := Plan{Barriers: make([][]Barrier, fin+1), Resources: order}
	for _, res := range order {
		def := res.DefaultAccess()
		rs := append(reqs[res], Request{res, driver.SubAll, def, fin})
		for _, b := range Resolve(res, State{Access: def}, rs).Barriers {
			p.Barriers[b.Batch] = append(p.Barriers[b.Batch], b)
		}
	}
	return p
}
