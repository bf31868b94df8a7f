// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/engine/internal/track"
)

// Use declares that a pass accesses subresource Sub of
// Res in the Access state.
type Use struct {
	Res    Resource
	Sub    int
	Access driver.Access
}

// Frame is a known sequence of passes.
// Unlike CmdStream, a Frame knows every access up front,
// and it always leaves the resources it touches in their
// default access states.
type Frame struct {
	s      *Session
	passes []track.Pass
	recs   []func(*PassEncoder)
	plan   *track.Plan
	held   refSet
	done   bool
}

// NewFrame creates a new, empty Frame.
func (s *Session) NewFrame() *Frame { return &Frame{s: s, held: make(refSet)} }

// AddPass appends a pass to the frame.
// uses lists every access that the pass performs. Uses
// of manual resources are ignored.
// record is called during Execute to record the pass's
// commands, after the barriers that the pass needs.
func (f *Frame) AddPass(name string, uses []Use, record func(*PassEncoder)) {
	if f.plan != nil || f.done {
		panic("engine: Frame already planned")
	}
	p := track.Pass{Name: name, Uses: make([]track.Use, 0, len(uses))}
	for _, u := range uses {
		f.held.hold(u.Res)
		if u.Res.Manual() {
			continue
		}
		p.Uses = append(p.Uses, track.Use{Res: u.Res, Sub: u.Sub, Access: u.Access})
	}
	f.passes = append(f.passes, p)
	f.recs = append(f.recs, record)
}

// Len returns the number of passes.
func (f *Frame) Len() int { return len(f.passes) }

func (f *Frame) planPasses() *track.Plan {
	if f.plan == nil {
		p := track.PlanPasses(f.passes)
		f.plan = &p
	}
	return f.plan
}

// Barriers returns the barriers of each pass.
// Barriers()[i] is recorded right before pass i, and the
// last element holds the barriers that return every
// resource to its default state after the last pass.
// No more passes can be added afterwards.
func (f *Frame) Barriers() [][]Barrier { return f.planPasses().Barriers }

// Execute records every pass into a command buffer and
// submits it to the queue of the given kind.
// Every resource that the frame uses must be in its
// default access state.
// A Frame can only be executed once.
func (f *Frame) Execute(kind driver.QueueKind) (Ticket, error) {
	if f.done {
		panic("engine: Frame already executed or discarded")
	}
	plan := f.planPasses()
	for _, res := range plan.Resources {
		if s := f.s.reg.Seed(res); s.IsSplit() || s.Access != res.DefaultAccess() {
			panic("engine: Frame resource not in its default access state")
		}
	}
	tk, err := f.s.record(kind, func(cb driver.CmdBuffer) {
		pe := PassEncoder{cb: cb}
		for i := range f.passes {
			f.s.emit(cb, plan.Barriers[i])
			if f.recs[i] != nil {
				f.recs[i](&pe)
			}
		}
		f.s.emit(cb, plan.Finalize())
	})
	if err != nil {
		return Ticket{}, err
	}
	f.done = true
	f.held.dropAll()
	Logger().Debug("engine: frame executed",
		"queue", kind,
		"passes", len(f.passes),
		"resources", len(plan.Resources))
	return tk, nil
}

// Discard abandons f without executing it.
// Resources that f refers to can be released afterwards.
// Discarding an executed Frame has no effect.
func (f *Frame) Discard() {
	if f.done {
		return
	}
	f.done = true
	f.held.dropAll()
}

// PassEncoder records the commands of a pass.
// It is only valid during the call to the function given
// to AddPass.
type PassEncoder struct {
	cb driver.CmdBuffer
}

// Draw draws primitives.
func (pe *PassEncoder) Draw(vertCount, instCount, baseVert, baseInst int) {
	pe.cb.Draw(vertCount, instCount, baseVert, baseInst)
}

// DrawIndexed draws indexed primitives.
func (pe *PassEncoder) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	pe.cb.DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst)
}

// Dispatch dispatches compute thread groups.
func (pe *PassEncoder) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	pe.cb.Dispatch(grpCountX, grpCountY, grpCountZ)
}

// CopyBuffer copies size bytes from one buffer to
// another.
func (pe *PassEncoder) CopyBuffer(from *Buffer, fromOff int64, to *Buffer, toOff int64, size int64) {
	if fromOff < 0 || toOff < 0 || size < 1 || fromOff+size > from.Cap() || toOff+size > to.Cap() {
		panic(bufPrefix + "copy out of bounds")
	}
	copyBuffer(pe.cb, from, fromOff, to, toOff, size)
}

// CopyTexture copies a whole mip level from one texture
// subresource to another.
func (pe *PassEncoder) CopyTexture(from *Texture, fromLayer, fromLevel int, to *Texture, toLayer, toLevel int) {
	checkTextureCopy(from, fromLayer, fromLevel, to, toLayer, toLevel)
	copyTexture(pe.cb, from, fromLayer, fromLevel, to, toLayer, toLevel)
}

// Fill fills a buffer range with value.
func (pe *PassEncoder) Fill(buf *Buffer, off int64, value byte, size int64) {
	checkFill(buf, off, size)
	pe.cb.Fill(buf.buffer(), off, value, size)
}
