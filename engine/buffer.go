// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"errors"
	"fmt"

	"github.com/docker/go-units"
	"github.com/gogpu/gputypes"

	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/engine/internal/arena"
	"github.com/gviegas/rendersync/engine/internal/track"
)

const bufPrefix = "buffer: "

// Resource is the interface that GPU resources created
// by a Session implement.
// It is implemented by *Buffer and *Texture.
type Resource interface {
	track.Resource

	// Manual returns whether synchronization of the
	// resource is the caller's responsibility.
	Manual() bool

	resource() driver.Resource
	refs() *resRef
}

// resRef counts the unexecuted command streams and frames
// that refer to a resource.
type resRef struct {
	n        int
	released bool
}

func (r *resRef) acquire(prefix string) {
	if r.released {
		panic(prefix + "use of released resource")
	}
	r.n++
}

func (r *resRef) drop() { r.n-- }

// free marks the resource as released.
// It panics if the resource is still referenced by a
// CmdStream or Frame that was neither executed nor
// discarded.
func (r *resRef) free(prefix string) {
	switch {
	case r.released:
		panic(prefix + "resource released twice")
	case r.n > 0:
		panic(prefix + "resource released while referenced by an unexecuted CmdStream or Frame")
	}
	r.released = true
}

// refSet is the set of resources that a CmdStream or a
// Frame holds a reference to.
type refSet map[Resource]struct{}

func (rs refSet) hold(res Resource) {
	if _, ok := rs[res]; ok {
		return
	}
	res.refs().acquire("engine: ")
	rs[res] = struct{}{}
}

func (rs refSet) dropAll() {
	for res := range rs {
		res.refs().drop()
	}
	clear(rs)
}

// Buffer wraps a driver.Buffer.
type Buffer struct {
	s      *Session
	slot   arena.Slot
	param  BufParam
	access driver.Access
	rc     resRef
}

// BufParam describes parameters of a buffer.
type BufParam struct {
	Label   string
	Size    int64
	Visible bool
	Usage   gputypes.BufferUsage
	// Manual buffers are not tracked.
	Manual bool
}

// bufferAccess returns the access state in which a
// buffer with the given usage rests between uses.
func bufferAccess(usg gputypes.BufferUsage) driver.Access {
	if usg.Contains(gputypes.BufferUsageStorage) {
		return driver.AShaderWrite
	}
	return driver.AUnspecified
}

// NewBuffer creates a new buffer.
// It fails if the buffer would not fit in the buffer
// budget of the Session.
func (s *Session) NewBuffer(param *BufParam) (b *Buffer, err error) {
	var reason string
	switch {
	case param == nil:
		reason = "nil param"
	case param.Size < 1:
		reason = "invalid size"
	case param.Size > s.lim.MaxBuffer:
		reason = "size too big"
	case param.Usage == 0:
		reason = "no usage"
	case s.used+param.Size > s.budget:
		reason = fmt.Sprintf("budget exceeded (%s in use, %s requested)",
			units.BytesSize(float64(s.used)), units.BytesSize(float64(param.Size)))
	case s.bufs.Len() == s.bufs.Cap():
		reason = "too many buffers"
	default:
		goto validParam
	}
	err = errors.New(bufPrefix + reason)
	return
validParam:
	acc := bufferAccess(param.Usage)
	buf, err := s.gpu.NewBuffer(param.Size, param.Visible, param.Usage, acc)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	s.used += buf.Cap()
	b = &Buffer{
		s:      s,
		slot:   s.bufs.Alloc(buf),
		param:  *param,
		access: acc,
	}
	Logger().Debug("engine: buffer created",
		"label", param.Label,
		"size", units.BytesSize(float64(param.Size)),
		"access", acc)
	return
}

// String returns the buffer's label.
func (b *Buffer) String() string { return b.param.Label }

// Cap returns the size of the buffer in bytes.
func (b *Buffer) Cap() int64 { return b.param.Size }

// Visible returns whether the buffer is host visible.
func (b *Buffer) Visible() bool { return b.param.Visible }

// Bytes returns the buffer's memory, or nil if the
// buffer is not host visible.
func (b *Buffer) Bytes() []byte { return b.buffer().Bytes() }

// Subresources returns 1.
func (b *Buffer) Subresources() int { return 1 }

// DefaultAccess returns the access state in which the
// buffer is created and to which every Frame returns it.
func (b *Buffer) DefaultAccess() driver.Access { return b.access }

// Manual returns whether b is untracked.
func (b *Buffer) Manual() bool { return b.param.Manual }

func (b *Buffer) resource() driver.Resource { return b.buffer() }

func (b *Buffer) refs() *resRef { return &b.rc }

// buffer returns the driver.Buffer.
// It panics if b was released.
func (b *Buffer) buffer() driver.Buffer {
	if b.rc.released {
		panic(bufPrefix + "use of released buffer " + b.param.Label)
	}
	return *b.s.bufs.Get(b.slot)
}

// Release releases the buffer.
// tk is the ticket of the last submission that uses b.
// The driver.Buffer is destroyed and its memory returned
// to the budget when tk completes.
// b must not be used afterwards, and no CmdStream or
// Frame that refers to b may be pending.
func (b *Buffer) Release(tk Ticket) {
	b.rc.free(bufPrefix)
	if !b.param.Manual {
		b.s.reg.Forget(b, tk)
	}
	b.s.bufs.Release(b.slot, tk)
}

// DescRange is a contiguous range of descriptor slots.
type DescRange struct {
	s    *Session
	slot arena.Slot
}

// AllocDescs allocates n contiguous descriptor slots.
// It panics if there is no room for them.
func (s *Session) AllocDescs(n int) DescRange {
	return DescRange{s, s.descs.AllocRange(n, n)}
}

// Base returns the index of the first slot in r.
func (r DescRange) Base() int { return r.slot.Index }

// Len returns the number of slots in r.
func (r DescRange) Len() int { return r.slot.Len }

// Release releases r.
// The slots become available again when tk completes.
func (r DescRange) Release(tk Ticket) { r.s.descs.Release(r.slot, tk) }
