// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/engine/internal/arena"
)

const texPrefix = "texture: "

// Texture wraps a driver.Image.
// Its subresources are tracked individually, one per
// layer/level pair.
type Texture struct {
	s      *Session
	slot   arena.Slot
	param  TexParam
	access driver.Access
	rc     resRef
}

// TexParam describes parameters of a texture.
type TexParam struct {
	Label  string
	Format gputypes.TextureFormat
	Width  int
	Height int
	Layers int
	Levels int
	Usage  gputypes.TextureUsage
	// Manual textures are not tracked. Barriers for
	// them must be recorded explicitly with
	// CmdStream.Barrier.
	Manual bool
}

// ComputeLevels returns the maximum number of mip levels
// for a width x height texture.
func ComputeLevels(width, height int) int {
	return bits.Len(uint(max(width, height)))
}

// textureAccess returns the access state in which a
// texture with the given format/usage rests between
// uses.
func textureAccess(pf gputypes.TextureFormat, usg gputypes.TextureUsage) driver.Access {
	switch {
	case usg.Contains(gputypes.TextureUsageRenderAttachment) && pf.HasDepth():
		return driver.ADepthWrite
	case usg.Contains(gputypes.TextureUsageRenderAttachment):
		return driver.AColorWrite
	case usg.Contains(gputypes.TextureUsageStorageBinding):
		return driver.AShaderWrite
	}
	return driver.AUnspecified
}

// NewTexture creates a new texture.
func (s *Session) NewTexture(param *TexParam) (t *Texture, err error) {
	var reason string
	switch {
	case param == nil:
		reason = "nil param"
	case param.Format == gputypes.TextureFormatUndefined:
		reason = "undefined format"
	case param.Width < 1, param.Height < 1:
		reason = "invalid size"
	case param.Width > s.lim.MaxImage2D, param.Height > s.lim.MaxImage2D:
		reason = "size too big"
	case param.Layers < 1:
		reason = "invalid layer count"
	case param.Layers > s.lim.MaxLayers:
		reason = "too many layers"
	case param.Levels < 1, param.Levels > ComputeLevels(param.Width, param.Height):
		reason = "invalid level count"
	case param.Usage == 0:
		reason = "no usage"
	case s.texs.Len() == s.texs.Cap():
		reason = "too many textures"
	default:
		goto validParam
	}
	err = errors.New(texPrefix + reason)
	return
validParam:
	acc := textureAccess(param.Format, param.Usage)
	size := gputypes.Extent3D{
		Width:              uint32(param.Width),
		Height:             uint32(param.Height),
		DepthOrArrayLayers: uint32(param.Layers),
	}
	img, err := s.gpu.NewImage(param.Format, size, param.Levels, param.Usage, acc)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	t = &Texture{
		s:      s,
		slot:   s.texs.Alloc(img),
		param:  *param,
		access: acc,
	}
	Logger().Debug("engine: texture created",
		"label", param.Label,
		"width", param.Width,
		"height", param.Height,
		"subresources", t.Subresources(),
		"access", acc)
	return
}

// String returns the texture's label.
func (t *Texture) String() string { return t.param.Label }

// Format returns the texture's format.
func (t *Texture) Format() gputypes.TextureFormat { return t.param.Format }

// Width returns the texture's width.
func (t *Texture) Width() int { return t.param.Width }

// Height returns the texture's height.
func (t *Texture) Height() int { return t.param.Height }

// Layers returns the number of layers in the texture.
func (t *Texture) Layers() int { return t.param.Layers }

// Levels returns the number of mip levels in the texture.
func (t *Texture) Levels() int { return t.param.Levels }

// Subresources returns Layers() * Levels().
func (t *Texture) Subresources() int { return t.param.Layers * t.param.Levels }

// Subresource returns the subresource index of the given
// layer/level pair.
func (t *Texture) Subresource(layer, level int) int {
	if layer < 0 || layer >= t.param.Layers || level < 0 || level >= t.param.Levels {
		panic(texPrefix + "subresource out of range")
	}
	return driver.Subresource(layer, level, t.param.Levels)
}

// DefaultAccess returns the access state in which the
// texture is created and to which every Frame returns it.
func (t *Texture) DefaultAccess() driver.Access { return t.access }

// Manual returns whether t is untracked.
func (t *Texture) Manual() bool { return t.param.Manual }

func (t *Texture) resource() driver.Resource { return t.image() }

func (t *Texture) refs() *resRef { return &t.rc }

// image returns the driver.Image.
// It panics if t was released.
func (t *Texture) image() driver.Image {
	if t.rc.released {
		panic(texPrefix + "use of released texture " + t.param.Label)
	}
	return *t.s.texs.Get(t.slot)
}

// levelSize returns the size of the given mip level.
func (t *Texture) levelSize(level int) gputypes.Extent3D {
	return gputypes.Extent3D{
		Width:              uint32(max(t.param.Width>>level, 1)),
		Height:             uint32(max(t.param.Height>>level, 1)),
		DepthOrArrayLayers: 1,
	}
}

// Release releases the texture.
// tk is the ticket of the last submission that uses t.
// The driver.Image is destroyed when tk completes.
// t must not be used afterwards, and no CmdStream or
// Frame that refers to t may be pending.
func (t *Texture) Release(tk Ticket) {
	t.rc.free(texPrefix)
	if !t.param.Manual {
		t.s.reg.Forget(t, tk)
	}
	t.s.texs.Release(t.slot, tk)
}
