// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/engine/internal/arena"
	"github.com/gviegas/rendersync/engine/internal/ctxt"
	"github.com/gviegas/rendersync/engine/internal/fence"
	"github.com/gviegas/rendersync/engine/internal/track"
)

// Ticket identifies a submission.
// It reports whether the GPU has finished executing the
// submitted commands. The zero value is a ticket that is
// always completed.
type Ticket = fence.Ticket

// Barrier is an access transition computed by the
// engine. Res is the engine Resource (*Buffer or
// *Texture) that transitions.
type Barrier = track.Barrier

// Session holds the GPU state shared by everything that
// records commands: the driver, the sync ticket pool,
// the committed access state of every resource and the
// allocators of buffers, textures and descriptors.
// A Session must only be used from a single goroutine.
type Session struct {
	id     uuid.UUID
	cfg    Config
	drv    driver.Driver
	gpu    driver.GPU
	lim    driver.Limits
	pool   *fence.Pool
	pacer  *fence.Pacer
	reg    *track.Registry
	bufs   *arena.Arena[driver.Buffer]
	texs   *arena.Arena[driver.Image]
	descs  *arena.Arena[int]
	budget int64
	used   int64
	stg    *stagingBuffer
	// Command buffers and the tickets of their last
	// submissions.
	cbs []pooledCmd
	// Incremented whenever the registry changes.
	epoch  int
	frame  int64
	closed bool
}

type pooledCmd struct {
	cb driver.CmdBuffer
	tk Ticket
}

// NewSession creates a new Session.
// If config is nil, DefaultConfig is used.
func NewSession(config *Config) (*Session, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	budget, err := cfg.budget()
	if err != nil {
		return nil, err
	}
	drv, gpu, err := ctxt.Load(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	s := &Session{
		id:     uuid.New(),
		cfg:    cfg,
		drv:    drv,
		gpu:    gpu,
		lim:    gpu.Limits(),
		pool:   fence.NewPool(cfg.TicketPoolSize),
		pacer:  fence.NewPacer(cfg.FramesInFlight),
		reg:    track.NewRegistry(),
		bufs:   arena.New[driver.Buffer](cfg.MaxBuffer),
		texs:   arena.New[driver.Image](cfg.MaxTexture),
		descs:  arena.New[int](cfg.MaxDescriptor),
		budget: budget,
	}
	s.bufs.OnFree = func(b driver.Buffer) {
		if b != nil {
			s.used -= b.Cap()
			b.Destroy()
		}
	}
	s.texs.OnFree = func(m driver.Image) {
		if m != nil {
			m.Destroy()
		}
	}
	Logger().Info("engine: session created",
		"session", s.id,
		"driver", drv.Name(),
		"frames", cfg.FramesInFlight,
		"budget", units.BytesSize(float64(budget)))
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// GPU returns the driver.GPU that s uses.
func (s *Session) GPU() driver.GPU { return s.gpu }

// Frame returns the number of frames ended so far.
func (s *Session) Frame() int64 { return s.frame }

// MemoryUsed returns the number of bytes of buffer
// memory in use, including memory waiting to be
// reclaimed.
func (s *Session) MemoryUsed() int64 { return s.used }

// Access returns the committed access state of
// subresource sub of res.
// It reflects every CmdStream and Frame executed so
// far, not the commands still recorded in open ones.
func (s *Session) Access(res Resource, sub int) driver.Access {
	return s.reg.Access(res, sub)
}

// cmdBuffer returns a command buffer that is not in use.
func (s *Session) cmdBuffer() (driver.CmdBuffer, error) {
	for i := range s.cbs {
		if !s.cbs[i].tk.Completed() {
			continue
		}
		cb := s.cbs[i].cb
		last := len(s.cbs) - 1
		s.cbs[i] = s.cbs[last]
		s.cbs[last] = pooledCmd{}
		s.cbs = s.cbs[:last]
		return cb, nil
	}
	cb, err := s.gpu.NewCmdBuffer()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return cb, nil
}

// putCmdBuffer makes cb available again once tk
// completes.
func (s *Session) putCmdBuffer(cb driver.CmdBuffer, tk Ticket) {
	s.cbs = append(s.cbs, pooledCmd{cb, tk})
}

// submit submits cb to the queue of the given kind.
// It returns a ticket that completes when execution
// finishes. cb is returned to the pool either way.
func (s *Session) submit(kind driver.QueueKind, cb driver.CmdBuffer) (Ticket, error) {
	q := s.gpu.Queue(kind)
	v, err := q.Submit([]driver.CmdBuffer{cb})
	if err != nil {
		cb.Reset()
		s.putCmdBuffer(cb, Ticket{})
		return Ticket{}, fmt.Errorf("engine: %w", err)
	}
	tk := s.pool.New()
	tk.ArmValue(q, v)
	s.putCmdBuffer(cb, tk)
	return tk, nil
}

// record records commands into a command buffer taken
// from the pool and submits it.
func (s *Session) record(kind driver.QueueKind, rec func(driver.CmdBuffer)) (Ticket, error) {
	cb, err := s.cmdBuffer()
	if err != nil {
		return Ticket{}, err
	}
	if err = cb.Begin(); err != nil {
		s.putCmdBuffer(cb, Ticket{})
		return Ticket{}, fmt.Errorf("engine: %w", err)
	}
	rec(cb)
	if err = cb.End(); err != nil {
		s.putCmdBuffer(cb, Ticket{})
		return Ticket{}, fmt.Errorf("engine: %w", err)
	}
	return s.submit(kind, cb)
}

// emit records the barriers in b, in order, splitting
// them into as many calls as the driver limits require.
func (s *Session) emit(cb driver.CmdBuffer, b []Barrier) {
	if len(b) == 0 {
		return
	}
	n := s.lim.MaxBarriers
	if n <= 0 {
		n = len(b)
	}
	db := make([]driver.Barrier, 0, min(n, len(b)))
	for _, x := range b {
		db = append(db, driver.Barrier{
			Res:    x.Res.(Resource).resource(),
			Sub:    x.Sub,
			Before: x.Before,
			After:  x.After,
		})
		if len(db) == n {
			cb.Barrier(db)
			db = db[:0]
		}
	}
	if len(db) > 0 {
		cb.Barrier(db)
	}
}

// EndFrame ends the current frame.
// tk is the ticket of the frame's last submission.
// If more than Config.FramesInFlight frames are
// outstanding, EndFrame blocks until the oldest one
// completes. It then calls Tick.
func (s *Session) EndFrame(tk Ticket) error {
	waited, err := s.pacer.Push(tk)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if waited {
		Logger().Debug("engine: frame pacing wait", "session", s.id, "frame", s.frame)
	}
	s.Tick()
	s.frame++
	return nil
}

// Tick reclaims resources whose release tickets have
// completed. It never blocks.
// EndFrame calls it once per frame.
func (s *Session) Tick() {
	if s.stg != nil {
		s.stg.reclaim()
	}
	n := s.bufs.Tick() + s.texs.Tick() + s.descs.Tick()
	r := s.reg.Tick()
	if n > 0 || r > 0 {
		Logger().Debug("engine: reclaimed",
			"session", s.id,
			"slots", n,
			"states", r,
			"memory", units.BytesSize(float64(s.used)))
	}
}

// Close waits for every queue to finish executing,
// reclaims all released resources and closes the
// driver. The Session must not be used afterwards.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var g errgroup.Group
	for _, k := range [...]driver.QueueKind{driver.QGraphics, driver.QCompute, driver.QCopy} {
		q := s.gpu.Queue(k)
		g.Go(func() error {
			return q.WaitValue(q.NextValue() - 1)
		})
	}
	err := g.Wait()
	if s.stg != nil {
		s.stg.buf.Release(Ticket{})
		s.stg = nil
	}
	s.Tick()
	if n := s.bufs.Len() + s.texs.Len(); n > 0 {
		Logger().Warn("engine: session closed with live resources", "session", s.id, "count", n)
	}
	for _, c := range s.cbs {
		c.cb.Destroy()
	}
	s.cbs = nil
	s.drv.Close()
	Logger().Info("engine: session closed", "session", s.id, "frames", s.frame)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}
