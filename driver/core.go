// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"github.com/gogpu/gputypes"
)

// GPU is an opened backend.
// It creates resources and command buffers, and owns the
// queues that execute them.
// Driver.Open returns the GPU of a driver.
type GPU interface {
	// Driver returns the driver that opened the GPU.
	Driver() Driver

	// Queue returns the queue of the given kind.
	// Every GPU must provide a QGraphics queue. Other
	// kinds may alias it.
	Queue(kind QueueKind) Queue

	// NewCmdBuffer creates a command buffer that can be
	// submitted to any queue.
	NewCmdBuffer() (CmdBuffer, error)

	// NewBuffer creates a buffer of size bytes.
	// initial is the access state in which the buffer is
	// created.
	NewBuffer(size int64, visible bool, usg gputypes.BufferUsage, initial Access) (Buffer, error)

	// NewImage creates an image.
	// size.DepthOrArrayLayers is the number of layers.
	// The image has layers*levels subresources, indexed
	// as level + layer*levels. Every subresource starts
	// in the initial access state.
	NewImage(pf gputypes.TextureFormat, size gputypes.Extent3D, levels int, usg gputypes.TextureUsage, initial Access) (Image, error)

	// Limits returns the limits of the backend.
	// They do not change while the GPU is open.
	Limits() Limits
}

// QueueKind identifies a hardware queue.
type QueueKind int

// Queue kinds.
const (
	QGraphics QueueKind = iota
	QCompute
	QCopy
)

// Queue is the interface that defines a GPU queue.
// Every queue owns a monotonic counter. Each submission
// reserves the next counter value and the queue signals
// that value once all of the submitted commands have
// completed execution.
type Queue interface {
	// Submit submits a batch of command buffers for
	// execution.
	// It returns the counter value that will be
	// signaled when execution completes. Command
	// buffers in cb cannot be used for recording until
	// then.
	// A non-nil error means that nothing was submitted
	// and the counter was not advanced.
	Submit(cb []CmdBuffer) (value uint64, err error)

	// NextValue returns the value that the next call to
	// Submit will return.
	NextValue() uint64

	// CompletedValue returns the last value signaled by
	// the queue. It never decreases.
	CompletedValue() uint64

	// WaitValue blocks until the queue signals value.
	WaitValue(value uint64) error
}

// Destroyer wraps the Destroy method.
// Backend objects hold memory outside of the Go heap and
// must be destroyed explicitly.
type Destroyer interface {
	Destroy()
}

// CmdBuffer records commands for submission to a Queue.
// Recording goes as follows:
//
//  1. call Begin
//  2. call Barrier to transition resources
//  3. call Draw*, Dispatch, Copy* and Fill commands
//  4. repeat 2-3 as needed
//  5. call End and, if it succeeds, Queue.Submit
//
// Resources must be in the access state required by a
// command when the command executes. Nothing is
// transitioned implicitly.
type CmdBuffer interface {
	Destroyer

	// Begin starts recording.
	// It needs to be called again if the command buffer
	// is executed or reset.
	Begin() error

	// IsRecording returns whether Begin was called and
	// End/Reset was not called since then.
	IsRecording() bool

	// Draw records a non-indexed draw.
	Draw(vertCount, instCount, baseVert, baseInst int)

	// DrawIndexed records an indexed draw.
	DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int)

	// Dispatch records a compute dispatch.
	Dispatch(grpCountX, grpCountY, grpCountZ int)

	// CopyBuffer records a buffer to buffer copy.
	CopyBuffer(param *BufferCopy)

	// CopyImage records a copy between two image
	// subresources.
	CopyImage(param *ImageCopy)

	// Fill fills a buffer range with copies of a byte
	// value.
	// Both off and size must be multiples of 4.
	Fill(buf Buffer, off int64, value byte, size int64)

	// Barrier inserts a number of access transitions in
	// the command buffer.
	Barrier(b []Barrier)

	// End finishes recording.
	// If it fails, the recorded commands are discarded.
	End() error

	// Reset discards the recorded commands.
	Reset() error
}

// BufferCopy is the parameter of CmdBuffer.CopyBuffer.
type BufferCopy struct {
	From    Buffer
	FromOff int64
	To      Buffer
	ToOff   int64
	Size    int64
}

// ImageCopy is the parameter of CmdBuffer.CopyImage.
type ImageCopy struct {
	From      Image
	FromLayer int
	FromLevel int
	To        Image
	ToLayer   int
	ToLevel   int
	Size      gputypes.Extent3D
}

// Resource is the interface that every GPU allocation
// implements.
type Resource interface {
	Destroyer

	// Subresources returns the number of individually
	// addressable subresources.
	// It is always 1 for buffers.
	Subresources() int
}

// Buffer is a linear GPU allocation with a single
// subresource.
type Buffer interface {
	Resource

	// Visible reports whether the host can access the
	// buffer's memory.
	Visible() bool

	// Bytes returns the buffer's memory, or nil if the
	// buffer is not visible.
	Bytes() []byte

	// Cap returns the capacity of the buffer in bytes.
	Cap() int64
}

// Image is a GPU allocation made of layers*levels
// subresources.
type Image interface {
	Resource

	// Format returns the pixel format of the image.
	Format() gputypes.TextureFormat

	// Size returns the size of the first mip level.
	// DepthOrArrayLayers holds the layer count.
	Size() gputypes.Extent3D

	// Levels returns the number of mip levels.
	Levels() int
}

// Subresource computes the subresource index of the given
// layer/level pair of an image with the given number of
// levels.
func Subresource(layer, level, levels int) int { return level + layer*levels }

// SubAll is the subresource scope that refers to every
// subresource of a resource.
const SubAll = -1

// Barrier represents an access transition of a resource.
// If Sub is SubAll, every subresource transitions from
// Before to After; otherwise only subresource Sub does.
type Barrier struct {
	Res    Resource
	Sub    int
	Before Access
	After  Access
}

// Limits are the limits of a GPU.
type Limits struct {
	// Largest width or height of an image.
	MaxImage2D int
	// Largest layer count of an image.
	MaxLayers int
	// Maximum size of a buffer in bytes.
	MaxBuffer int64
	// Maximum number of barriers in a single call to
	// CmdBuffer.Barrier.
	MaxBarriers int
	// Maximum dispatch count.
	MaxDispatch [3]int
}
