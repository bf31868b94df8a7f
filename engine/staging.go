// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"github.com/gogpu/gputypes"

	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/internal/bitvec"
)

const (
	stagingBlock = 8192
	stagingNBit  = 64
	stagingSize  = stagingBlock * stagingNBit
)

// stagingRange is a range of staging blocks that is in
// use until tk completes.
type stagingRange struct {
	tk     Ticket
	idx, n int
}

// stagingBuffer is a host-visible buffer through which
// data is uploaded to buffers that may not be visible.
// It is divided in stagingNBit blocks.
type stagingBuffer struct {
	buf  *Buffer
	bv   bitvec.V
	pend []stagingRange
}

// staging returns the staging buffer of s, creating it
// if needed.
func (s *Session) staging() (*stagingBuffer, error) {
	if s.stg != nil {
		return s.stg, nil
	}
	buf, err := s.NewBuffer(&BufParam{
		Label:   "staging",
		Size:    stagingSize,
		Visible: true,
		Usage:   gputypes.BufferUsageCopySrc | gputypes.BufferUsageMapWrite,
	})
	if err != nil {
		return nil, err
	}
	s.stg = &stagingBuffer{buf: buf}
	s.stg.bv.Grow(stagingNBit / 64)
	return s.stg, nil
}

// reclaim frees the blocks of completed uploads.
// Uploads complete in order, so it stops at the first
// one that has not completed.
func (sb *stagingBuffer) reclaim() (n int) {
	for _, r := range sb.pend {
		if !r.tk.Completed() {
			break
		}
		sb.bv.UnsetRange(r.idx, r.n)
		n++
	}
	sb.pend = sb.pend[:copy(sb.pend, sb.pend[n:])]
	return
}

// reserve reserves n contiguous blocks.
// It waits for pending uploads to complete if there is
// not enough room.
func (sb *stagingBuffer) reserve(n int) (int, error) {
	for {
		sb.reclaim()
		if idx, ok := sb.bv.SearchRange(n); ok {
			sb.bv.SetRange(idx, n)
			return idx, nil
		}
		// Cannot be empty since n <= stagingNBit.
		if err := sb.pend[0].tk.Wait(); err != nil {
			return 0, err
		}
	}
}

// Upload copies data into dst, starting at byte off.
// It records and executes the copies on the driver.QCopy
// queue, through a staging buffer, so dst need not be
// host visible. dst is left in the driver.ACopyWrite
// state.
// It returns the ticket of the last copy.
// dst must be a tracked buffer.
func (s *Session) Upload(dst *Buffer, off int64, data []byte) (tk Ticket, err error) {
	switch {
	case dst.Manual():
		panic(bufPrefix + "upload to manual buffer")
	case off < 0 || off+int64(len(data)) > dst.Cap():
		panic(bufPrefix + "upload out of bounds")
	}
	sb, err := s.staging()
	if err != nil {
		return
	}
	for len(data) > 0 {
		n := min(len(data), stagingSize)
		nblk := (n + stagingBlock - 1) / stagingBlock
		var idx int
		if idx, err = sb.reserve(nblk); err != nil {
			return Ticket{}, err
		}
		copy(sb.buf.Bytes()[idx*stagingBlock:], data[:n])

		cs := s.NewCmdStream()
		cs.SetAccess(sb.buf, driver.SubAll, driver.ACopyRead)
		cs.SetAccess(dst, driver.SubAll, driver.ACopyWrite)
		cs.CopyBuffer(sb.buf, int64(idx*stagingBlock), dst, off, int64(n))
		if tk, err = cs.Execute(driver.QCopy); err != nil {
			cs.Discard()
			sb.bv.UnsetRange(idx, nblk)
			return Ticket{}, err
		}
		sb.pend = append(sb.pend, stagingRange{tk, idx, nblk})
		data = data[n:]
		off += int64(n)
	}
	return
}
