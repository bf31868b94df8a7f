// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/engine/internal/track"
)

type cmdKind int

const (
	cmdCheckpoint cmdKind = iota
	cmdDraw
	cmdDrawIndexed
	cmdDispatch
	cmdCopyBuffer
	cmdCopyImage
	cmdFill
	cmdBarrier
)

// command is a deferred command.
// Which fields are meaningful depends on kind.
type command struct {
	kind cmdKind
	// Draw/dispatch counts, copy layers/levels and the
	// batch of checkpoints.
	args [5]int
	res  [2]Resource
	off  [2]int64
	size int64
	// Fill value.
	value byte
	// Explicit barrier of a manual resource.
	before driver.Access
	after  driver.Access
}

// CmdStream records commands whose resource accesses are
// declared up front with SetAccess.
// Commands are not recorded into a driver.CmdBuffer
// until Execute is called. At that point, the barriers
// needed to bring every resource from its committed
// state into the declared ones are computed and
// interleaved with the commands.
//
// Commands that follow one or more SetAccess calls begin
// a new batch. Every barrier that a batch requires is
// recorded right before its first command.
type CmdStream struct {
	s    *Session
	cmds []command
	reqs map[Resource][]track.Request
	// Resources in first-use order.
	order []Resource
	// Resources with requests not yet assigned a batch.
	dirty []Resource
	// Every resource that cs refers to.
	held  refSet
	batch int
	// Computed by resolve.
	plan   [][]Barrier
	final  []track.State
	epoch  int
	closed bool
	done   bool
}

// NewCmdStream creates a new CmdStream.
func (s *Session) NewCmdStream() *CmdStream {
	return &CmdStream{
		s:     s,
		reqs:  make(map[Resource][]track.Request),
		held:  make(refSet),
		epoch: -1,
	}
}

func (cs *CmdStream) checkOpen() {
	if cs.closed {
		panic("engine: CmdStream already closed")
	}
}

// SetAccess declares that the commands that follow
// access subresource sub of res in the given state.
// sub can be driver.SubAll.
// Manual resources are ignored.
func (cs *CmdStream) SetAccess(res Resource, sub int, access driver.Access) {
	cs.checkOpen()
	if !access.Valid() {
		panic("engine: invalid access state " + access.String())
	}
	if sub != driver.SubAll && (sub < 0 || sub >= res.Subresources()) {
		panic("engine: subresource out of range")
	}
	cs.held.hold(res)
	if res.Manual() {
		return
	}
	rs, ok := cs.reqs[res]
	if !ok {
		cs.order = append(cs.order, res)
	}
	n := len(rs)
	if n > 0 && rs[n-1].Sub == sub && rs[n-1].Access == access {
		return
	}
	if n == 0 || rs[n-1].Batch >= 0 {
		cs.dirty = append(cs.dirty, res)
	}
	cs.reqs[res] = append(rs, track.Request{Res: res, Sub: sub, Access: access, Batch: -1})
}

// checkpoint ends the current batch if any access was
// declared since the last one.
func (cs *CmdStream) checkpoint() {
	if len(cs.dirty) == 0 {
		return
	}
	for _, res := range cs.dirty {
		rs := cs.reqs[res]
		for i := len(rs) - 1; i >= 0 && rs[i].Batch < 0; i-- {
			rs[i].Batch = cs.batch
		}
	}
	clear(cs.dirty)
	cs.dirty = cs.dirty[:0]
	c := command{kind: cmdCheckpoint}
	c.args[0] = cs.batch
	cs.cmds = append(cs.cmds, c)
	cs.batch++
}

func (cs *CmdStream) push(c command) {
	cs.checkOpen()
	cs.checkpoint()
	cs.cmds = append(cs.cmds, c)
}

// Draw draws primitives.
func (cs *CmdStream) Draw(vertCount, instCount, baseVert, baseInst int) {
	cs.push(command{kind: cmdDraw, args: [5]int{vertCount, instCount, baseVert, baseInst}})
}

// DrawIndexed draws indexed primitives.
func (cs *CmdStream) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	cs.push(command{kind: cmdDrawIndexed, args: [5]int{idxCount, instCount, baseIdx, vertOff, baseInst}})
}

// Dispatch dispatches compute thread groups.
func (cs *CmdStream) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	cs.push(command{kind: cmdDispatch, args: [5]int{grpCountX, grpCountY, grpCountZ}})
}

// CopyBuffer copies size bytes from one buffer to
// another.
// from must be in the driver.ACopyRead state and to in
// the driver.ACopyWrite state when the copy executes.
func (cs *CmdStream) CopyBuffer(from *Buffer, fromOff int64, to *Buffer, toOff int64, size int64) {
	if fromOff < 0 || toOff < 0 || size < 1 || fromOff+size > from.Cap() || toOff+size > to.Cap() {
		panic(bufPrefix + "copy out of bounds")
	}
	cs.checkOpen()
	cs.held.hold(from)
	cs.held.hold(to)
	cs.push(command{
		kind: cmdCopyBuffer,
		res:  [2]Resource{from, to},
		off:  [2]int64{fromOff, toOff},
		size: size,
	})
}

// CopyTexture copies a whole mip level from one texture
// subresource to another.
func (cs *CmdStream) CopyTexture(from *Texture, fromLayer, fromLevel int, to *Texture, toLayer, toLevel int) {
	checkTextureCopy(from, fromLayer, fromLevel, to, toLayer, toLevel)
	cs.checkOpen()
	cs.held.hold(from)
	cs.held.hold(to)
	cs.push(command{
		kind: cmdCopyImage,
		args: [5]int{fromLayer, fromLevel, toLayer, toLevel},
		res:  [2]Resource{from, to},
	})
}

// Fill fills a buffer range with value.
// off and size must be aligned to 4 bytes.
func (cs *CmdStream) Fill(buf *Buffer, off int64, value byte, size int64) {
	checkFill(buf, off, size)
	cs.checkOpen()
	cs.held.hold(buf)
	cs.push(command{
		kind:  cmdFill,
		res:   [2]Resource{buf},
		off:   [2]int64{off},
		size:  size,
		value: value,
	})
}

// Barrier records an explicit access transition of a
// manual resource.
// It panics if res is tracked.
func (cs *CmdStream) Barrier(res Resource, sub int, before, after driver.Access) {
	cs.checkOpen()
	if !res.Manual() {
		panic("engine: explicit barrier of a tracked resource")
	}
	if !before.Valid() || !after.Valid() {
		panic("engine: invalid access state in barrier")
	}
	if sub != driver.SubAll && (sub < 0 || sub >= res.Subresources()) {
		panic("engine: subresource out of range")
	}
	cs.held.hold(res)
	c := command{kind: cmdBarrier, before: before, after: after}
	c.res[0] = res
	c.args[0] = sub
	cs.cmds = append(cs.cmds, c)
}

// Close ends recording.
// Accesses declared after the last command apply to a
// trailing batch, so that the resources are left in the
// declared states.
// The barriers are computed against the states
// committed at this point. Calling Close is optional:
// Execute closes the CmdStream if needed.
func (cs *CmdStream) Close() {
	cs.checkOpen()
	cs.checkpoint()
	cs.closed = true
	cs.resolve()
}

// resolve computes the barriers of every batch and the
// final state of every resource.
func (cs *CmdStream) resolve() {
	cs.plan = make([][]Barrier, cs.batch)
	cs.final = make([]track.State, len(cs.order))
	for i, res := range cs.order {
		r := track.Resolve(res, cs.s.reg.Seed(res), cs.reqs[res])
		for _, b := range r.Barriers {
			cs.plan[b.Batch] = append(cs.plan[b.Batch], b)
		}
		cs.final[i] = r.Final
	}
	cs.epoch = cs.s.epoch
}

// Barriers returns the barriers of each batch.
// Barriers()[i] is recorded right before the first
// command of batch i.
// It must only be called after Close.
func (cs *CmdStream) Barriers() [][]Barrier {
	if !cs.closed {
		panic("engine: CmdStream not closed")
	}
	return cs.plan
}

// Execute records cs into a command buffer and submits it
// to the queue of the given kind.
// If other command streams were executed since cs was
// closed, its barriers are recomputed against the new
// committed states.
// On success, the final access states of the stream's
// resources become the committed ones.
// A CmdStream can only be executed once.
func (cs *CmdStream) Execute(kind driver.QueueKind) (Ticket, error) {
	if !cs.closed {
		cs.Close()
	}
	if cs.done {
		panic("engine: CmdStream already executed or discarded")
	}
	if cs.epoch != cs.s.epoch {
		cs.resolve()
	}
	tk, err := cs.s.record(kind, cs.playback)
	if err != nil {
		return Ticket{}, err
	}
	for i, res := range cs.order {
		cs.s.reg.Commit(res, cs.final[i])
	}
	cs.s.epoch++
	cs.done = true
	cs.held.dropAll()
	n := 0
	for _, b := range cs.plan {
		n += len(b)
	}
	Logger().Debug("engine: stream executed",
		"queue", kind,
		"commands", len(cs.cmds),
		"batches", cs.batch,
		"barriers", n)
	return tk, nil
}

// Discard abandons cs without executing it.
// Resources that cs refers to can be released
// afterwards. Discarding an executed CmdStream has no
// effect.
func (cs *CmdStream) Discard() {
	if cs.done {
		return
	}
	cs.closed = true
	cs.done = true
	cs.held.dropAll()
}

// ExecuteImmediately calls Execute and waits for the
// submission to complete.
func (cs *CmdStream) ExecuteImmediately(kind driver.QueueKind) error {
	tk, err := cs.Execute(kind)
	if err != nil {
		return err
	}
	return tk.Wait()
}

// playback records the commands of cs into cb.
func (cs *CmdStream) playback(cb driver.CmdBuffer) {
	for i := range cs.cmds {
		c := &cs.cmds[i]
		switch c.kind {
		case cmdCheckpoint:
			cs.s.emit(cb, cs.plan[c.args[0]])
		case cmdDraw:
			cb.Draw(c.args[0], c.args[1], c.args[2], c.args[3])
		case cmdDrawIndexed:
			cb.DrawIndexed(c.args[0], c.args[1], c.args[2], c.args[3], c.args[4])
		case cmdDispatch:
			cb.Dispatch(c.args[0], c.args[1], c.args[2])
		case cmdCopyBuffer:
			copyBuffer(cb, c.res[0].(*Buffer), c.off[0], c.res[1].(*Buffer), c.off[1], c.size)
		case cmdCopyImage:
			copyTexture(cb, c.res[0].(*Texture), c.args[0], c.args[1], c.res[1].(*Texture), c.args[2], c.args[3])
		case cmdFill:
			cb.Fill(c.res[0].(*Buffer).buffer(), c.off[0], c.value, c.size)
		case cmdBarrier:
			cb.Barrier([]driver.Barrier{{
				Res:    c.res[0].resource(),
				Sub:    c.args[0],
				Before: c.before,
				After:  c.after,
			}})
		}
	}
}

func copyBuffer(cb driver.CmdBuffer, from *Buffer, fromOff int64, to *Buffer, toOff int64, size int64) {
	cb.CopyBuffer(&driver.BufferCopy{
		From:    from.buffer(),
		FromOff: fromOff,
		To:      to.buffer(),
		ToOff:   toOff,
		Size:    size,
	})
}

func copyTexture(cb driver.CmdBuffer, from *Texture, fromLayer, fromLevel int, to *Texture, toLayer, toLevel int) {
	cb.CopyImage(&driver.ImageCopy{
		From:      from.image(),
		FromLayer: fromLayer,
		FromLevel: fromLevel,
		To:        to.image(),
		ToLayer:   toLayer,
		ToLevel:   toLevel,
		Size:      from.levelSize(fromLevel),
	})
}

func checkTextureCopy(from *Texture, fromLayer, fromLevel int, to *Texture, toLayer, toLevel int) {
	from.Subresource(fromLayer, fromLevel)
	to.Subresource(toLayer, toLevel)
	if from.levelSize(fromLevel) != to.levelSize(toLevel) {
		panic(texPrefix + "copy size mismatch")
	}
	if from.Format() != to.Format() {
		panic(texPrefix + "copy format mismatch")
	}
}

func checkFill(buf *Buffer, off, size int64) {
	switch {
	case off&3 != 0, size&3 != 0:
		panic(bufPrefix + "misaligned fill")
	case off < 0, size < 1, off+size > buf.Cap():
		panic(bufPrefix + "fill out of bounds")
	}
}
