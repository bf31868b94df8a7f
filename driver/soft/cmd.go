// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"

	"github.com/gviegas/rendersync/driver"
)

// opKind identifies a recorded command.
type opKind int

const (
	opBarrier opKind = iota
	opDraw
	opDrawIndexed
	opDispatch
	opCopyBuffer
	opCopyImage
	opFill
)

// op is a recorded command.
// Which fields are meaningful depends on kind.
type op struct {
	kind    opKind
	barrier []driver.Barrier
	bcopy   driver.BufferCopy
	icopy   driver.ImageCopy
	fill    struct {
		buf   driver.Buffer
		off   int64
		value byte
		size  int64
	}
}

// cmdBuffer implements driver.CmdBuffer.
type cmdBuffer struct {
	d     *Driver
	ops   []op
	begun bool
	ended bool
	// Submission that last used the command buffer.
	q     *queue
	value uint64
}

// NewCmdBuffer creates a new command buffer.
func (d *Driver) NewCmdBuffer() (driver.CmdBuffer, error) {
	return &cmdBuffer{d: d}, nil
}

// Destroy destroys the command buffer.
func (cb *cmdBuffer) Destroy() { cb.ops = nil }

// Begin prepares the command buffer for recording.
func (cb *cmdBuffer) Begin() error {
	if cb.begun {
		return errors.New("soft: command buffer already recording")
	}
	if cb.q != nil && cb.q.CompletedValue() < cb.value {
		return errors.New("soft: command buffer pending execution")
	}
	cb.ops = cb.ops[:0]
	cb.begun = true
	cb.ended = false
	return nil
}

// IsRecording returns whether cb is recording.
func (cb *cmdBuffer) IsRecording() bool { return cb.begun }

func (cb *cmdBuffer) record(o op) {
	if !cb.begun {
		panic("soft: command buffer not recording")
	}
	cb.ops = append(cb.ops, o)
}

// Draw draws primitives.
func (cb *cmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int) {
	cb.record(op{kind: opDraw})
}

// DrawIndexed draws indexed primitives.
func (cb *cmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	cb.record(op{kind: opDrawIndexed})
}

// Dispatch dispatches compute thread groups.
func (cb *cmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	lim := cb.d.lim.MaxDispatch
	if grpCountX > lim[0] || grpCountY > lim[1] || grpCountZ > lim[2] {
		panic("soft: dispatch count exceeds limits")
	}
	cb.record(op{kind: opDispatch})
}

// CopyBuffer copies data between buffers.
func (cb *cmdBuffer) CopyBuffer(param *driver.BufferCopy) {
	if param.FromOff+param.Size > param.From.Cap() || param.ToOff+param.Size > param.To.Cap() {
		panic("soft: buffer copy out of bounds")
	}
	cb.record(op{kind: opCopyBuffer, bcopy: *param})
}

// CopyImage copies data between images.
func (cb *cmdBuffer) CopyImage(param *driver.ImageCopy) {
	cb.record(op{kind: opCopyImage, icopy: *param})
}

// Fill fills a buffer range.
func (cb *cmdBuffer) Fill(buf driver.Buffer, off int64, value byte, size int64) {
	if off&3 != 0 || size&3 != 0 {
		panic("soft: misaligned fill")
	}
	if off+size > buf.Cap() {
		panic("soft: fill out of bounds")
	}
	o := op{kind: opFill}
	o.fill.buf = buf
	o.fill.off = off
	o.fill.value = value
	o.fill.size = size
	cb.record(o)
}

// Barrier inserts access transitions.
func (cb *cmdBuffer) Barrier(b []driver.Barrier) {
	if len(b) > cb.d.lim.MaxBarriers {
		panic("soft: too many barriers")
	}
	for i := range b {
		if !b[i].Before.Valid() || !b[i].After.Valid() {
			panic("soft: invalid access state in barrier")
		}
		n := b[i].Res.Subresources()
		if b[i].Sub != driver.SubAll && (b[i].Sub < 0 || b[i].Sub >= n) {
			panic("soft: barrier subresource out of range")
		}
	}
	cb.record(op{kind: opBarrier, barrier: append([]driver.Barrier(nil), b...)})
}

// End ends command recording.
func (cb *cmdBuffer) End() error {
	if !cb.begun {
		return errors.New("soft: command buffer not recording")
	}
	cb.begun = false
	cb.ended = true
	return nil
}

// Reset discards all recorded commands.
func (cb *cmdBuffer) Reset() error {
	if cb.q != nil && cb.q.CompletedValue() < cb.value {
		return errors.New("soft: command buffer pending execution")
	}
	cb.ops = cb.ops[:0]
	cb.begun = false
	cb.ended = false
	return nil
}

// exec executes ops.
// d.mu must be held.
func (d *Driver) exec(ops []op) {
	for i := range ops {
		o := &ops[i]
		switch o.kind {
		case opBarrier:
			d.stats.Barriers += len(o.barrier)
			for _, b := range o.barrier {
				d.transition(b)
			}
		case opDraw, opDrawIndexed:
			d.stats.Draws++
		case opDispatch:
			d.stats.Dispatches++
		case opCopyBuffer:
			d.stats.Copies++
			p := &o.bcopy
			okFrom := d.expect("CopyBuffer", p.From, 0, driver.ACopyRead)
			okTo := d.expect("CopyBuffer", p.To, 0, driver.ACopyWrite)
			if okFrom && okTo {
				from := p.From.(*buffer).data[p.FromOff : p.FromOff+p.Size]
				copy(p.To.(*buffer).data[p.ToOff:], from)
			}
		case opCopyImage:
			d.stats.Copies++
			p := &o.icopy
			from := driver.Subresource(p.FromLayer, p.FromLevel, p.From.Levels())
			to := driver.Subresource(p.ToLayer, p.ToLevel, p.To.Levels())
			d.expect("CopyImage", p.From, from, driver.ACopyRead)
			d.expect("CopyImage", p.To, to, driver.ACopyWrite)
		case opFill:
			d.stats.Copies++
			f := &o.fill
			if d.expect("Fill", f.buf, 0, driver.ACopyWrite) {
				data := f.buf.(*buffer).data[f.off : f.off+f.size]
				for k := range data {
					data[k] = f.value
				}
			}
		}
	}
}

// expect checks that subresource sub of res is alive
// and in a state that includes want.
// d.mu must be held.
func (d *Driver) expect(cmd string, res driver.Resource, sub int, want driver.Access) bool {
	s := stateOf(res)
	if !s.alive {
		d.violate(Violation{cmd + " (destroyed)", res, sub, s.acc[sub], want})
		return false
	}
	if have := s.acc[sub]; have&want != want {
		d.violate(Violation{cmd, res, sub, have, want})
		return false
	}
	return true
}

// transition executes a barrier.
// d.mu must be held.
func (d *Driver) transition(b driver.Barrier) {
	s := stateOf(b.Res)
	lo, hi := b.Sub, b.Sub+1
	if b.Sub == driver.SubAll {
		lo, hi = 0, len(s.acc)
	}
	for i := lo; i < hi; i++ {
		switch {
		case !s.alive:
			d.violate(Violation{"Barrier (destroyed)", b.Res, i, s.acc[i], b.Before})
		case s.acc[i] != b.Before:
			d.violate(Violation{"Barrier", b.Res, i, s.acc[i], b.Before})
		}
		s.acc[i] = b.After
	}
}
