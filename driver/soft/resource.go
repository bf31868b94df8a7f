// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"
	"log/slog"

	"github.com/docker/go-units"
	"github.com/gogpu/gputypes"

	"github.com/gviegas/rendersync/driver"
)

// state is the access state of a resource's
// subresources.
type state struct {
	d     *Driver
	acc   []driver.Access
	alive bool
}

func (s *state) sub(sub int) driver.Access {
	if sub == driver.SubAll {
		return s.acc[0]
	}
	return s.acc[sub]
}

// stater is implemented by every resource that this
// package creates.
type stater interface {
	state() *state
}

// stateOf returns the state of res.
// It panics if res was not created by this package.
func stateOf(res driver.Resource) *state {
	s, ok := res.(stater)
	if !ok {
		panic("soft: foreign resource")
	}
	return s.state()
}

// buffer implements driver.Buffer.
type buffer struct {
	st   state
	vis  bool
	usg  gputypes.BufferUsage
	data []byte
}

// NewBuffer creates a new buffer.
func (d *Driver) NewBuffer(size int64, visible bool, usg gputypes.BufferUsage, initial driver.Access) (driver.Buffer, error) {
	if size <= 0 {
		return nil, errors.New("soft: invalid buffer size")
	}
	if size > d.lim.MaxBuffer {
		return nil, driver.ErrNoDeviceMemory
	}
	if !initial.Valid() {
		return nil, errors.New("soft: invalid initial access state")
	}
	slog.Debug("soft: buffer created", "size", units.BytesSize(float64(size)), "visible", visible)
	return &buffer{
		st:   state{d: d, acc: []driver.Access{initial}, alive: true},
		vis:  visible,
		usg:  usg,
		data: make([]byte, size),
	}, nil
}

func (b *buffer) state() *state { return &b.st }

// Destroy destroys the buffer.
func (b *buffer) Destroy() {
	b.st.d.mu.Lock()
	b.st.alive = false
	b.st.d.mu.Unlock()
}

// Subresources returns 1.
func (b *buffer) Subresources() int { return 1 }

// Visible returns whether the buffer is host visible.
func (b *buffer) Visible() bool { return b.vis }

// Bytes returns the buffer's memory if it is visible.
func (b *buffer) Bytes() []byte {
	if !b.vis {
		return nil
	}
	return b.data
}

// Cap returns the buffer's size.
func (b *buffer) Cap() int64 { return int64(len(b.data)) }

// image implements driver.Image.
type image struct {
	st     state
	pf     gputypes.TextureFormat
	size   gputypes.Extent3D
	levels int
	usg    gputypes.TextureUsage
}

// NewImage creates a new image.
func (d *Driver) NewImage(pf gputypes.TextureFormat, size gputypes.Extent3D, levels int, usg gputypes.TextureUsage, initial driver.Access) (driver.Image, error) {
	layers := int(size.DepthOrArrayLayers)
	switch {
	case size.Width == 0 || size.Height == 0 || layers == 0 || levels <= 0:
		return nil, errors.New("soft: invalid image size")
	case int(size.Width) > d.lim.MaxImage2D || int(size.Height) > d.lim.MaxImage2D:
		return nil, errors.New("soft: image too large")
	case layers > d.lim.MaxLayers:
		return nil, errors.New("soft: too many image layers")
	case !initial.Valid():
		return nil, errors.New("soft: invalid initial access state")
	}
	acc := make([]driver.Access, layers*levels)
	for i := range acc {
		acc[i] = initial
	}
	slog.Debug("soft: image created", "width", size.Width, "height", size.Height, "subresources", len(acc))
	return &image{
		st:     state{d: d, acc: acc, alive: true},
		pf:     pf,
		size:   size,
		levels: levels,
		usg:    usg,
	}, nil
}

func (m *image) state() *state { return &m.st }

// Destroy destroys the image.
func (m *image) Destroy() {
	m.st.d.mu.Lock()
	m.st.alive = false
	m.st.d.mu.Unlock()
}

// Subresources returns layers*levels.
func (m *image) Subresources() int { return len(m.st.acc) }

// Format returns the pixel format.
func (m *image) Format() gputypes.TextureFormat { return m.pf }

// Size returns the size of the first level.
func (m *image) Size() gputypes.Extent3D { return m.size }

// Levels returns the number of levels.
func (m *image) Levels() int { return m.levels }
