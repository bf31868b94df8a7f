// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package fence implements sync tickets: lightweight
// handles that represent work submitted to a GPU queue
// up to a given counter value.
package fence

import (
	"github.com/gviegas/rendersync/driver"
)

// DefaultPoolSize is the ticket pool size used when
// NewPool is called with n <= 0.
const DefaultPoolSize = 1024

// slot is an element of a Pool.
type slot struct {
	gen    uint32
	q      driver.Queue
	target uint64
}

// completed returns whether the work tracked by s has
// completed. Unarmed slots are considered completed for
// the purpose of recycling.
func (s *slot) completed() bool { return s.q == nil || s.q.CompletedValue() >= s.target }

// Pool is a fixed-size pool of ticket slots.
// Slots are handed out in a ring, so a slot is only
// reused after every other slot was handed out once.
// Pool is not safe for concurrent use.
type Pool struct {
	slots []slot
	next  uint64
}

// NewPool creates a new pool with n slots.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = DefaultPoolSize
	}
	return &Pool{slots: make([]slot, n)}
}

// Len returns the number of slots in p.
func (p *Pool) Len() int { return len(p.slots) }

// New creates a new unarmed ticket.
// It invalidates any ticket that still refers to the
// recycled slot, which must have completed already.
func (p *Pool) New() Ticket {
	idx := int(p.next % uint64(len(p.slots)))
	p.next++
	s := &p.slots[idx]
	if !s.completed() {
		panic("fence: recycling a ticket slot that has not completed (pool too small)")
	}
	s.gen++
	s.q = nil
	s.target = 0
	return Ticket{p, int32(idx), s.gen}
}

// Ticket represents work submitted to a queue up to a
// given value.
// The zero value is a dummy ticket that is always
// completed.
type Ticket struct {
	p   *Pool
	idx int32
	gen uint32
}

// slot returns t's slot, or nil if t is stale or
// a dummy.
func (t Ticket) slot() *slot {
	if t.p == nil {
		return nil
	}
	if s := &t.p.slots[t.idx]; s.gen == t.gen {
		return s
	}
	return nil
}

// IsDummy returns whether t is the zero Ticket.
func (t Ticket) IsDummy() bool { return t.p == nil }

// Arm binds t to the next value that q will signal.
// It must be called before the corresponding submission.
func (t Ticket) Arm(q driver.Queue) { t.ArmValue(q, q.NextValue()) }

// ArmValue binds t to the given value of q.
// It panics if t was already armed.
func (t Ticket) ArmValue(q driver.Queue, value uint64) {
	if q == nil {
		panic("fence: nil queue")
	}
	s := t.slot()
	switch {
	case t.p == nil:
		panic("fence: arming a dummy ticket")
	case s == nil:
		panic("fence: arming a stale ticket")
	case s.q != nil:
		panic("fence: ticket already armed")
	}
	s.q = q
	s.target = value
}

// Armed returns whether t is bound to a queue.
// Stale tickets report false.
func (t Ticket) Armed() bool {
	s := t.slot()
	return s != nil && s.q != nil
}

// Value returns the queue and counter value t is bound
// to. It returns a nil queue if t is not armed.
func (t Ticket) Value() (driver.Queue, uint64) {
	if s := t.slot(); s != nil {
		return s.q, s.target
	}
	return nil, 0
}

// Completed returns whether the work that t represents
// has completed.
// A ticket whose slot was recycled is completed, since
// slots are only recycled once they complete. A ticket
// that was never armed is not.
// Once Completed returns true for a ticket, it will
// keep returning true.
func (t Ticket) Completed() bool {
	if t.p == nil {
		return true
	}
	s := t.slot()
	switch {
	case s == nil:
		return true
	case s.q == nil:
		return false
	}
	return s.q.CompletedValue() >= s.target
}

// Wait blocks until t completes.
// It returns immediately if t is completed already.
// Waiting on an unarmed ticket is not allowed.
func (t Ticket) Wait() error {
	if t.Completed() {
		return nil
	}
	s := t.slot()
	if s.q == nil {
		panic("fence: waiting on an unarmed ticket")
	}
	return s.q.WaitValue(s.target)
}
