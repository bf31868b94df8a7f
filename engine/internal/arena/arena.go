// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package arena implements fixed-capacity slot allocators
// whose slots are only reused once the GPU is done with
// them.
package arena

import (
	"github.com/gviegas/rendersync/engine/internal/fence"
	"github.com/gviegas/rendersync/internal/bitvec"
)

// Slot identifies a range of slots in an Arena.
// Gen is checked on every access, so a Slot that was
// released cannot be used to reach a reallocated slot.
type Slot struct {
	Index int
	Len   int
	Gen   uint32
}

// IsValid returns whether s was returned by an Alloc
// call (it does not check whether s is stale).
func (s Slot) IsValid() bool { return s.Len > 0 }

// entry is an element of Arena.
type entry[T any] struct {
	val  T
	gen  uint32
	live bool
}

// pending is a release waiting for its ticket.
type pending struct {
	tk   fence.Ticket
	slot Slot
}

// Arena is a fixed-capacity slot allocator.
// Released slots are held in a FIFO queue until the
// ticket given to Release completes; Tick moves them
// back to the free list.
// Arena is not safe for concurrent use.
type Arena[T any] struct {
	ents []entry[T]
	bv   bitvec.V
	cap  int
	// FIFO of deferred releases.
	queue []pending
	head  int
	// OnFree, if not nil, is called with the value of
	// every slot as it returns to the free list.
	OnFree func(T)
}

// New creates a new Arena that holds at most capacity
// slots.
func New[T any](capacity int) *Arena[T] {
	if capacity <= 0 {
		panic("arena: capacity <= 0")
	}
	return &Arena[T]{cap: capacity}
}

// Cap returns the capacity of a.
func (a *Arena[_]) Cap() int { return a.cap }

// Len returns the number of slots in use, including
// those waiting for deferred release.
func (a *Arena[_]) Len() int { return a.bv.Len() - a.bv.Rem() }

// Pending returns the number of deferred releases.
func (a *Arena[_]) Pending() int { return len(a.queue) - a.head }

// grow extends the free list so that n more slots fit.
// It returns false if that would exceed the capacity.
func (a *Arena[T]) grow(n int) bool {
	nword := (n + 63) / 64
	if a.bv.Len() >= a.cap {
		return false
	}
	a.bv.Grow(nword)
	for len(a.ents) < a.bv.Len() {
		a.ents = append(a.ents, entry[T]{})
	}
	return true
}

// Alloc allocates a single slot and stores v in it.
// It panics if a is full.
func (a *Arena[T]) Alloc(v T) Slot { return a.AllocRange(1, v) }

// AllocRange allocates n contiguous slots and stores v
// in the first one.
// It panics if a cannot fit n more contiguous slots.
func (a *Arena[T]) AllocRange(n int, v T) Slot {
	if n <= 0 {
		panic("arena: AllocRange n <= 0")
	}
	idx, ok := a.bv.SearchRange(n)
	for !ok || idx+n > a.cap {
		if !a.grow(n) {
			panic("arena: capacity exhausted")
		}
		idx, ok = a.bv.SearchRange(n)
	}
	a.bv.SetRange(idx, n)
	e := &a.ents[idx]
	e.gen++
	e.val = v
	e.live = true
	return Slot{idx, n, e.gen}
}

// entry returns the entry of s.
// It panics if s is stale.
func (a *Arena[T]) entry(s Slot) *entry[T] {
	if s.Index < 0 || s.Index >= len(a.ents) {
		panic("arena: slot out of range")
	}
	e := &a.ents[s.Index]
	if !e.live || e.gen != s.Gen {
		panic("arena: stale slot")
	}
	return e
}

// Get returns a pointer to the value stored in s.
// It panics if s is stale.
func (a *Arena[T]) Get(s Slot) *T { return &a.entry(s).val }

// Release releases s.
// If tk has completed, s is freed immediately.
// Otherwise, s is queued and will be freed by the first
// call to Tick that observes tk as completed.
// The slot is no longer reachable through s either way.
func (a *Arena[T]) Release(s Slot, tk fence.Ticket) {
	e := a.entry(s)
	e.live = false
	if tk.Completed() {
		a.free(s)
		return
	}
	a.queue = append(a.queue, pending{tk, s})
}

// free returns s to the free list.
func (a *Arena[T]) free(s Slot) {
	e := &a.ents[s.Index]
	if a.OnFree != nil {
		a.OnFree(e.val)
	}
	var zero T
	e.val = zero
	a.bv.UnsetRange(s.Index, s.Len)
}

// Tick frees queued slots whose tickets have completed.
// It stops at the first incomplete ticket: tickets are
// issued in submission order, so later releases cannot
// be older.
// It never blocks. It returns the number of slot ranges
// freed.
func (a *Arena[T]) Tick() (n int) {
	for a.head < len(a.queue) {
		p := a.queue[a.head]
		if !p.tk.Completed() {
			break
		}
		a.queue[a.head] = pending{}
		a.head++
		a.free(p.slot)
		n++
	}
	switch {
	case a.head == len(a.queue):
		a.queue = a.queue[:0]
		a.head = 0
	case a.head > len(a.queue)/2:
		k := copy(a.queue, a.queue[a.head:])
		clear(a.queue[k:])
		a.queue = a.queue[:k]
		a.head = 0
	}
	return
}
