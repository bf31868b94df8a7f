// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package soft implements driver interfaces in software.
// Commands execute asynchronously on one goroutine per
// queue. Nothing is rendered: the driver tracks the
// access state of every subresource and records a
// Violation whenever a command finds a resource in the
// wrong state, which makes it suitable for testing
// synchronization code without a GPU.
package soft

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gviegas/rendersync/driver"
)

const driverName = "soft"

// Driver implements driver.Driver and driver.GPU.
type Driver struct {
	ques []*queue
	lim  driver.Limits

	// Guards resource state, viol and stats.
	// Workers execute commands while the client
	// creates and destroys resources.
	mu    sync.Mutex
	viol  []Violation
	stats Stats
}

func init() {
	driver.Register(&Driver{})
}

// Open initializes the driver.
func (d *Driver) Open() (gpu driver.GPU, err error) {
	if d.ques != nil {
		return d, nil
	}
	d.lim = driver.Limits{
		MaxImage2D:  16384,
		MaxLayers:   2048,
		MaxBuffer:   1 << 31,
		MaxBarriers: 64,
		MaxDispatch: [3]int{65535, 65535, 65535},
	}
	for _, k := range [...]driver.QueueKind{driver.QGraphics, driver.QCompute, driver.QCopy} {
		d.ques = append(d.ques, newQueue(d, k))
	}
	slog.Debug("soft: driver opened", "queues", len(d.ques))
	return d, nil
}

// Name returns the driver name.
func (d *Driver) Name() string { return driverName }

// Close deinitializes the driver.
// It waits for every queue to finish executing.
func (d *Driver) Close() {
	if d == nil || d.ques == nil {
		return
	}
	for _, q := range d.ques {
		q.close()
	}
	d.ques = nil
	d.mu.Lock()
	d.viol = nil
	d.stats = Stats{}
	d.mu.Unlock()
}

// Driver returns d.
func (d *Driver) Driver() driver.Driver { return d }

// Queue returns the queue of the given kind.
func (d *Driver) Queue(kind driver.QueueKind) driver.Queue {
	if int(kind) < 0 || int(kind) >= len(d.ques) {
		panic("soft: invalid queue kind")
	}
	return d.ques[kind]
}

// Limits returns the implementation limits.
func (d *Driver) Limits() driver.Limits { return d.lim }

// Pause stops command execution in every queue.
// Submissions are accepted, but their values will not
// be signaled until Resume is called.
func (d *Driver) Pause() {
	for _, q := range d.ques {
		q.setPaused(true)
	}
}

// Resume resumes command execution.
func (d *Driver) Resume() {
	for _, q := range d.ques {
		q.setPaused(false)
	}
}

// Violation describes a command that found a resource
// in an unexpected access state.
type Violation struct {
	Cmd  string
	Res  driver.Resource
	Sub  int
	Have driver.Access
	Want driver.Access
}

// Error implements error.
func (v Violation) Error() string {
	return fmt.Sprintf("soft: %s: subresource %d: have %v, want %v", v.Cmd, v.Sub, v.Have, v.Want)
}

// Violations returns every violation recorded so far.
func (d *Driver) Violations() []Violation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Violation(nil), d.viol...)
}

// Stats counts executed commands.
type Stats struct {
	Submissions int
	Barriers    int
	Draws       int
	Dispatches  int
	Copies      int
}

// Stats returns the command counts.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// State returns the access state that subresource sub
// of res is in, as seen by commands that have already
// executed.
func (d *Driver) State(res driver.Resource, sub int) driver.Access {
	d.mu.Lock()
	defer d.mu.Unlock()
	return stateOf(res).sub(sub)
}

// violate records a violation.
// d.mu must be held.
func (d *Driver) violate(v Violation) {
	slog.Warn("soft: access violation", "cmd", v.Cmd, "sub", v.Sub, "have", v.Have, "want", v.Want)
	d.viol = append(d.viol, v)
}
