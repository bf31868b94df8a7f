// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"
	"sync"

	"github.com/gviegas/rendersync/driver"
)

// job is a submission waiting for execution.
type job struct {
	ops   [][]op
	value uint64
}

// queue implements driver.Queue.
// Submissions execute in order on a dedicated
// goroutine.
type queue struct {
	d    *Driver
	kind driver.QueueKind

	mu     sync.Mutex
	cond   *sync.Cond
	pend   []job
	next   uint64
	done   uint64
	paused bool
	closed bool
	wg     sync.WaitGroup
}

func newQueue(d *Driver, kind driver.QueueKind) *queue {
	q := &queue{d: d, kind: kind, next: 1}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q
}

// run executes submissions until q is closed.
func (q *queue) run() {
	defer q.wg.Done()
	q.mu.Lock()
	for {
		for !q.closed && (q.paused || len(q.pend) == 0) {
			q.cond.Wait()
		}
		if len(q.pend) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.pend[0]
		q.pend[0] = job{}
		q.pend = q.pend[1:]
		q.mu.Unlock()

		q.d.mu.Lock()
		q.d.stats.Submissions++
		for _, ops := range j.ops {
			q.d.exec(ops)
		}
		q.d.mu.Unlock()

		q.mu.Lock()
		q.done = j.value
		q.cond.Broadcast()
	}
}

// close executes every pending submission and stops
// the worker.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *queue) setPaused(paused bool) {
	q.mu.Lock()
	q.paused = paused
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Submit submits command buffers for execution.
func (q *queue) Submit(cb []driver.CmdBuffer) (value uint64, err error) {
	j := job{ops: make([][]op, 0, len(cb))}
	for _, x := range cb {
		c, ok := x.(*cmdBuffer)
		switch {
		case !ok:
			return 0, errors.New("soft: foreign command buffer")
		case !c.ended:
			return 0, errors.New("soft: command buffer not ended")
		}
		j.ops = append(j.ops, c.ops)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, driver.ErrFatal
	}
	value = q.next
	q.next++
	j.value = value
	q.pend = append(q.pend, j)
	q.cond.Broadcast()

	for _, x := range cb {
		c := x.(*cmdBuffer)
		// The job owns the recorded ops now.
		c.ops = nil
		c.ended = false
		c.q = q
		c.value = value
	}
	return
}

// NextValue returns the value of the next submission.
func (q *queue) NextValue() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

// CompletedValue returns the last signaled value.
func (q *queue) CompletedValue() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

// WaitValue blocks until value is signaled.
func (q *queue) WaitValue(value uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if value >= q.next {
		return errors.New("soft: wait on a value that was never submitted")
	}
	for q.done < value {
		q.cond.Wait()
	}
	return nil
}
