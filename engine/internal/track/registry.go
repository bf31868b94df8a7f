// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package track

import (
	"github.com/google/btree"

	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/engine/internal/fence"
)

// btreeDegree is the degree of split maps.
const btreeDegree = 8

func lessSub(a, b SubAccess) bool { return a.Sub < b.Sub }

// regEntry is the committed state of a single resource.
type regEntry struct {
	// Whole-resource value, or complementary value if
	// split is not nil.
	access driver.Access
	split  *btree.BTreeG[SubAccess]
}

// forget is a pending call to Registry.Forget.
type forget struct {
	tk  fence.Ticket
	res Resource
}

// Registry holds the committed access state of every
// tracked resource.
// A resource that was never set is in its default
// access state.
// Registry is not safe for concurrent use.
type Registry struct {
	ents  map[Resource]*regEntry
	queue []forget
	head  int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ents: make(map[Resource]*regEntry)}
}

// Len returns the number of resources whose state
// differs from the default one or was explicitly set.
func (r *Registry) Len() int { return len(r.ents) }

func (r *Registry) entry(res Resource) *regEntry {
	e, ok := r.ents[res]
	if !ok {
		e = &regEntry{access: res.DefaultAccess()}
		r.ents[res] = e
	}
	return e
}

// Set sets the state of subresource sub of res to a.
// If sub is driver.SubAll, every subresource is set
// and any split state is discarded.
// Setting a single subresource to the state it already
// is in has no effect.
func (r *Registry) Set(res Resource, sub int, a driver.Access) {
	if !a.Valid() {
		panic("track: invalid access state " + a.String())
	}
	if sub == driver.SubAll {
		e := r.entry(res)
		e.access = a
		e.split = nil
		return
	}
	if sub < 0 || sub >= res.Subresources() {
		panic("track: subresource out of range")
	}
	e := r.entry(res)
	if e.split == nil {
		if a == e.access {
			return
		}
		e.split = btree.NewG(btreeDegree, lessSub)
		e.split.ReplaceOrInsert(SubAccess{sub, a})
		return
	}
	if a == e.access {
		// Rejoins the complementary state.
		e.split.Delete(SubAccess{Sub: sub})
		if e.split.Len() == 0 {
			e.split = nil
		}
		return
	}
	e.split.ReplaceOrInsert(SubAccess{sub, a})
}

// Commit replaces the state of res with s.
func (r *Registry) Commit(res Resource, s State) {
	r.Set(res, driver.SubAll, s.Access)
	for _, x := range s.Split {
		r.Set(res, x.Sub, x.Access)
	}
}

// Seed returns the committed state of res, suitable for
// seeding Resolve.
func (r *Registry) Seed(res Resource) State {
	e, ok := r.ents[res]
	if !ok {
		return State{Access: res.DefaultAccess()}
	}
	if e.split == nil {
		return State{Access: e.access}
	}
	s := State{Access: e.access, Split: make([]SubAccess, 0, e.split.Len())}
	e.split.Ascend(func(x SubAccess) bool {
		s.Split = append(s.Split, x)
		return true
	})
	return s
}

// Access returns the committed state of subresource sub
// of res.
func (r *Registry) Access(res Resource, sub int) driver.Access {
	e, ok := r.ents[res]
	switch {
	case !ok:
		return res.DefaultAccess()
	case e.split == nil || sub == driver.SubAll:
		return e.access
	}
	if x, ok := e.split.Get(SubAccess{Sub: sub}); ok {
		return x.Access
	}
	return e.access
}

// Forget removes res from r once tk completes.
// Until then, the committed state of res remains
// visible.
func (r *Registry) Forget(res Resource, tk fence.Ticket) {
	if tk.Completed() {
		delete(r.ents, res)
		return
	}
	r.queue = append(r.queue, forget{tk, res})
}

// Tick removes resources whose Forget tickets have
// completed. It never blocks.
// It returns the number of resources removed.
func (r *Registry) Tick() (n int) {
	for r.head < len(r.queue) {
		f := r.queue[r.head]
		if !f.tk.Completed() {
			break
		}
		r.queue[r.head] = forget{}
		r.head++
		delete(r.ents, f.res)
		n++
	}
	if r.head == len(r.queue) {
		r.queue = r.queue[:0]
		r.head = 0
	}
	return
}
