// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/driver/soft"
)

func newTarget(t *testing.T, s *Session, layers, levels int) *Texture {
	t.Helper()
	tex, err := s.NewTexture(&TexParam{
		Label:  "target",
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  256,
		Height: 256,
		Layers: layers,
		Levels: levels,
		Usage: gputypes.TextureUsageRenderAttachment |
			gputypes.TextureUsageTextureBinding |
			gputypes.TextureUsageCopySrc |
			gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("Session.NewTexture:\nhave %v\nwant nil", err)
	}
	return tex
}

func newCopyBuffer(t *testing.T, s *Session, size int64) *Buffer {
	t.Helper()
	buf, err := s.NewBuffer(&BufParam{
		Size:    size,
		Visible: true,
		Usage:   gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("Session.NewBuffer:\nhave %v\nwant nil", err)
	}
	return buf
}

func execute(t *testing.T, cs *CmdStream, kind driver.QueueKind) {
	t.Helper()
	if err := cs.ExecuteImmediately(kind); err != nil {
		t.Fatalf("CmdStream.ExecuteImmediately:\nhave %v\nwant nil", err)
	}
}

// checkCommitted checks that the committed state of every
// subresource of res matches the state that the soft
// driver observed.
func checkCommitted(t *testing.T, s *Session, d *soft.Driver, res Resource) {
	t.Helper()
	for i := 0; i < res.Subresources(); i++ {
		if have, want := s.Access(res, i), d.State(res.resource(), i); have != want {
			t.Fatalf("Session.Access(%v, %d):\nhave %v\nwant %v", res, i, have, want)
		}
	}
}

func countBarriers(b [][]Barrier) (n int) {
	for i := range b {
		n += len(b[i])
	}
	return
}

func TestStreamBarriers(t *testing.T) {
	s, d := newSession(t, nil)
	tex := newTarget(t, s, 1, 1)

	cs := s.NewCmdStream()
	cs.SetAccess(tex, driver.SubAll, driver.APixelRead)
	cs.Draw(3, 1, 0, 0)
	cs.SetAccess(tex, driver.SubAll, driver.AColorWrite)
	cs.Draw(3, 1, 0, 0)
	cs.Close()

	want := [][]Barrier{
		{{Res: tex, Sub: driver.SubAll, Before: driver.AColorWrite, After: driver.APixelRead, Batch: 0}},
		{{Res: tex, Sub: driver.SubAll, Before: driver.APixelRead, After: driver.AColorWrite, Batch: 1}},
	}
	have := cs.Barriers()
	if len(have) != len(want) {
		t.Fatalf("CmdStream.Barriers:\nhave %v\nwant %v", have, want)
	}
	for i := range want {
		if len(have[i]) != 1 || have[i][0] != want[i][0] {
			t.Fatalf("CmdStream.Barriers()[%d]:\nhave %v\nwant %v", i, have[i], want[i])
		}
	}

	execute(t, cs, driver.QGraphics)
	checkViolations(t, d)
	checkCommitted(t, s, d, tex)
	if st := d.Stats(); st.Barriers != 2 || st.Draws != 2 {
		t.Fatalf("soft.Driver.Stats:\nhave %+v\nwant 2 barriers, 2 draws", st)
	}
}

func TestStreamNoop(t *testing.T) {
	s, d := newSession(t, nil)
	tex := newTarget(t, s, 2, 2)

	cs := s.NewCmdStream()
	cs.SetAccess(tex, driver.SubAll, driver.AColorWrite)
	cs.Draw(3, 1, 0, 0)
	cs.SetAccess(tex, driver.SubAll, driver.AColorWrite)
	cs.Draw(3, 1, 0, 0)
	cs.Close()
	if n := countBarriers(cs.Barriers()); n != 0 {
		t.Fatalf("CmdStream.Barriers:\nhave %d barriers\nwant 0", n)
	}
	execute(t, cs, driver.QGraphics)
	checkViolations(t, d)
	if n := s.reg.Len(); n != 1 {
		t.Fatalf("Session: tracked resources:\nhave %d\nwant 1", n)
	}
}

func TestStreamSplit(t *testing.T) {
	s, d := newSession(t, nil)
	tex := newTarget(t, s, 2, 3)
	mip := tex.Subresource(1, 2)

	// Sample a single subresource.
	cs := s.NewCmdStream()
	cs.SetAccess(tex, mip, driver.APixelRead)
	cs.Draw(3, 1, 0, 0)
	execute(t, cs, driver.QGraphics)
	checkViolations(t, d)
	checkCommitted(t, s, d, tex)
	if a := s.Access(tex, mip); a != driver.APixelRead {
		t.Fatalf("Session.Access(%d):\nhave %v\nwant %v", mip, a, driver.APixelRead)
	}
	if a := s.Access(tex, 0); a != driver.AColorWrite {
		t.Fatalf("Session.Access(0):\nhave %v\nwant %v", a, driver.AColorWrite)
	}

	// Then copy between layers.
	cs = s.NewCmdStream()
	cs.SetAccess(tex, driver.SubAll, driver.ACopyRead)
	cs.SetAccess(tex, tex.Subresource(1, 0), driver.ACopyWrite)
	cs.CopyTexture(tex, 0, 0, tex, 1, 0)
	cs.SetAccess(tex, tex.Subresource(1, 0), driver.ACopyRead)
	cs.SetAccess(tex, tex.Subresource(0, 0), driver.ACopyWrite)
	cs.CopyTexture(tex, 1, 0, tex, 0, 0)
	execute(t, cs, driver.QCopy)
	checkViolations(t, d)
	checkCommitted(t, s, d, tex)

	// And merge it back.
	cs = s.NewCmdStream()
	cs.SetAccess(tex, driver.SubAll, driver.AColorWrite)
	cs.Draw(3, 1, 0, 0)
	execute(t, cs, driver.QGraphics)
	checkViolations(t, d)
	checkCommitted(t, s, d, tex)
	if seed := s.reg.Seed(tex); seed.IsSplit() || seed.Access != driver.AColorWrite {
		t.Fatalf("Session: committed state:\nhave %+v\nwant whole %v", seed, driver.AColorWrite)
	}
}

func TestStreamTrailing(t *testing.T) {
	s, d := newSession(t, nil)
	buf := newCopyBuffer(t, s, 64)

	// Accesses after the last command still apply.
	cs := s.NewCmdStream()
	cs.SetAccess(buf, driver.SubAll, driver.ACopyWrite)
	cs.Fill(buf, 0, 0xff, 64)
	cs.SetAccess(buf, driver.SubAll, driver.ACopyRead)
	cs.Close()
	if n := len(cs.Barriers()); n != 2 {
		t.Fatalf("CmdStream.Barriers:\nhave %d batches\nwant 2", n)
	}
	execute(t, cs, driver.QCopy)
	checkViolations(t, d)
	if a := s.Access(buf, 0); a != driver.ACopyRead {
		t.Fatalf("Session.Access:\nhave %v\nwant %v", a, driver.ACopyRead)
	}
	checkCommitted(t, s, d, buf)
	for i, x := range buf.Bytes() {
		if x != 0xff {
			t.Fatalf("CmdStream.Fill: Bytes()[%d]:\nhave %#x\nwant 0xff", i, x)
		}
	}
}

func TestStreamRecompute(t *testing.T) {
	s, d := newSession(t, nil)
	src := newCopyBuffer(t, s, 256)
	dst := newCopyBuffer(t, s, 256)

	a := s.NewCmdStream()
	a.SetAccess(src, driver.SubAll, driver.ACopyWrite)
	a.Fill(src, 0, 0x2a, 256)
	a.Close()

	b := s.NewCmdStream()
	b.SetAccess(src, driver.SubAll, driver.ACopyRead)
	b.SetAccess(dst, driver.SubAll, driver.ACopyWrite)
	b.CopyBuffer(src, 0, dst, 0, 256)
	b.Close()
	if x := b.Barriers()[0][0]; x.Res != src || x.Before != driver.AUnspecified {
		t.Fatalf("CmdStream.Barriers: before recompute:\nhave %v\nwant %v -> %v", x, driver.AUnspecified, driver.ACopyRead)
	}

	execute(t, a, driver.QCopy)
	execute(t, b, driver.QCopy)
	checkViolations(t, d)
	if x := b.Barriers()[0][0]; x.Res != src || x.Before != driver.ACopyWrite {
		t.Fatalf("CmdStream.Barriers: after recompute:\nhave %v\nwant %v -> %v", x, driver.ACopyWrite, driver.ACopyRead)
	}
	if p := dst.Bytes(); p[0] != 0x2a || p[255] != 0x2a {
		t.Fatalf("CmdStream.CopyBuffer:\nhave %#x ... %#x\nwant 0x2a ... 0x2a", p[0], p[255])
	}
}

func TestStreamManual(t *testing.T) {
	s, d := newSession(t, nil)
	buf, err := s.NewBuffer(&BufParam{
		Size:   64,
		Usage:  gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		Manual: true,
	})
	if err != nil {
		t.Fatalf("Session.NewBuffer:\nhave %v\nwant nil", err)
	}
	tracked := newCopyBuffer(t, s, 64)

	cs := s.NewCmdStream()
	// Ignored.
	cs.SetAccess(buf, driver.SubAll, driver.ACopyRead)
	cs.Barrier(buf, driver.SubAll, driver.AShaderWrite, driver.ACopyWrite)
	cs.Fill(buf, 0, 1, 64)
	cs.Barrier(buf, driver.SubAll, driver.ACopyWrite, driver.AShaderWrite)
	checkPanic(t, "CmdStream.Barrier (tracked)", func() {
		cs.Barrier(tracked, driver.SubAll, driver.AUnspecified, driver.ACopyWrite)
	})
	cs.Close()
	if n := countBarriers(cs.Barriers()); n != 0 {
		t.Fatalf("CmdStream.Barriers:\nhave %d\nwant 0", n)
	}
	execute(t, cs, driver.QCompute)
	checkViolations(t, d)
	if st := d.Stats(); st.Barriers != 2 || st.Copies != 1 {
		t.Fatalf("soft.Driver.Stats:\nhave %+v\nwant 2 barriers, 1 copy", st)
	}
	if n := s.reg.Len(); n != 0 {
		t.Fatalf("Session: tracked resources:\nhave %d\nwant 0", n)
	}
}

func TestStreamMaxBarriers(t *testing.T) {
	s, d := newSession(t, nil)
	n := s.lim.MaxBarriers + 6
	tex := newTarget(t, s, n, 1)

	// A single batch needs more barriers than one
	// driver call can take.
	cs := s.NewCmdStream()
	for i := 0; i < n; i++ {
		cs.SetAccess(tex, i, driver.APixelRead)
	}
	cs.Draw(3, 1, 0, 0)
	cs.Close()
	nb := countBarriers(cs.Barriers())
	if nb != n {
		t.Fatalf("CmdStream.Barriers:\nhave %d\nwant %d", nb, n)
	}
	execute(t, cs, driver.QGraphics)
	checkViolations(t, d)
	checkCommitted(t, s, d, tex)
	if st := d.Stats(); st.Barriers != nb {
		t.Fatalf("soft.Driver.Stats:\nhave %d barriers\nwant %d", st.Barriers, nb)
	}
}

func TestStreamPanic(t *testing.T) {
	s, _ := newSession(t, nil)
	tex := newTarget(t, s, 1, 2)
	buf := newCopyBuffer(t, s, 64)

	cs := s.NewCmdStream()
	checkPanic(t, "CmdStream.SetAccess (invalid access)", func() {
		cs.SetAccess(tex, 0, driver.AColorWrite|driver.ACopyWrite)
	})
	checkPanic(t, "CmdStream.SetAccess (sub)", func() { cs.SetAccess(tex, 2, driver.APixelRead) })
	checkPanic(t, "CmdStream.CopyBuffer (bounds)", func() { cs.CopyBuffer(buf, 32, buf, 0, 33) })
	checkPanic(t, "CmdStream.Fill (misaligned)", func() { cs.Fill(buf, 2, 0, 4) })
	checkPanic(t, "CmdStream.CopyTexture (size)", func() { cs.CopyTexture(tex, 0, 0, tex, 0, 1) })
	checkPanic(t, "CmdStream.Barriers (open)", func() { cs.Barriers() })
	cs.Close()
	checkPanic(t, "CmdStream.Draw (closed)", func() { cs.Draw(3, 1, 0, 0) })
	checkPanic(t, "CmdStream.Close (closed)", func() { cs.Close() })
	execute(t, cs, driver.QGraphics)
	checkPanic(t, "CmdStream.Execute (executed)", func() { cs.Execute(driver.QGraphics) })

	buf.Release(Ticket{})
	cs = s.NewCmdStream()
	checkPanic(t, "CmdStream.SetAccess (released)", func() { cs.SetAccess(buf, driver.SubAll, driver.ACopyWrite) })
	checkPanic(t, "CmdStream.Fill (released)", func() { cs.Fill(buf, 0, 0, 64) })
	checkPanic(t, "Buffer.Release (twice)", func() { buf.Release(Ticket{}) })
}

func TestStreamReleasePending(t *testing.T) {
	s, d := newSession(t, nil)
	tex := newTarget(t, s, 1, 1)
	src := newCopyBuffer(t, s, 64)
	dst := newCopyBuffer(t, s, 64)

	cs := s.NewCmdStream()
	cs.SetAccess(tex, driver.SubAll, driver.APixelRead)
	cs.Draw(3, 1, 0, 0)
	cs.SetAccess(src, driver.SubAll, driver.ACopyRead)
	cs.SetAccess(dst, driver.SubAll, driver.ACopyWrite)
	cs.CopyBuffer(src, 0, dst, 0, 64)
	cs.Close()
	checkPanic(t, "Texture.Release (pending CmdStream)", func() { tex.Release(Ticket{}) })
	checkPanic(t, "Buffer.Release (pending CmdStream)", func() { src.Release(Ticket{}) })
	checkPanic(t, "Buffer.Release (pending CmdStream)", func() { dst.Release(Ticket{}) })

	// Another stream referring to the same texture keeps
	// it referenced after cs executes.
	other := s.NewCmdStream()
	other.SetAccess(tex, driver.SubAll, driver.AColorWrite)
	execute(t, cs, driver.QGraphics)
	src.Release(Ticket{})
	checkPanic(t, "Texture.Release (pending CmdStream)", func() { tex.Release(Ticket{}) })
	other.Discard()
	checkPanic(t, "CmdStream.Execute (discarded)", func() { other.Execute(driver.QGraphics) })
	checkPanic(t, "CmdStream.Draw (discarded)", func() { other.Draw(3, 1, 0, 0) })
	other.Discard()

	f := s.NewFrame()
	f.AddPass("copy", []Use{{dst, driver.SubAll, driver.ACopyRead}}, nil)
	checkPanic(t, "Buffer.Release (pending Frame)", func() { dst.Release(Ticket{}) })
	f.Discard()
	checkPanic(t, "Frame.Execute (discarded)", func() { f.Execute(driver.QGraphics) })

	checkViolations(t, d)
	tex.Release(Ticket{})
	dst.Release(Ticket{})
	if n := s.bufs.Len() + s.texs.Len(); n != 0 {
		t.Fatalf("Session: live resources:\nhave %d\nwant 0", n)
	}
}
