// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package engine implements GPU resource synchronization
// for real-time rendering.
// Rendering code declares how it intends to access
// resources, and the engine inserts the barriers that
// the driver requires and reclaims resources once the
// GPU is done with them.
package engine

import (
	"errors"

	"github.com/docker/go-units"

	"github.com/gviegas/rendersync/engine/internal/fence"
)

const (
	// The maximum number of frames in flight.
	MaxFrame = fence.DefaultMaxFrame

	dflTicketPool     = fence.DefaultPoolSize
	dflMaxBuffer      = 4096
	dflMaxTexture     = 1024
	dflMaxDescriptor  = 65536
	dflBufferBudget   = "256MiB"
	dflDriver         = ""
	cfgPrefix         = "config: "
	minTicketPoolSize = 4 * MaxFrame
)

// Config is used to configure a Session.
type Config struct {
	// Name (or part of the name) of the driver to use.
	// The empty string selects any driver.
	//
	// Default is "".
	Driver string

	// The maximum number of frames in flight.
	// EndFrame blocks while more frames than this
	// are outstanding.
	//
	// Default is MaxFrame.
	FramesInFlight int

	// The number of sync tickets that can exist at
	// once. Every submission consumes one ticket.
	//
	// Default is 1024.
	TicketPoolSize int

	// The maximum number of live buffers.
	//
	// Default is 4096.
	MaxBuffer int

	// The maximum number of live textures.
	//
	// Default is 1024.
	MaxTexture int

	// The number of descriptors that can be
	// allocated in ranges.
	//
	// Default is 65536.
	MaxDescriptor int

	// The maximum amount of buffer memory, in a form
	// such as "64MiB" or "1GiB".
	//
	// Default is "256MiB".
	BufferBudget string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver:         dflDriver,
		FramesInFlight: MaxFrame,
		TicketPoolSize: dflTicketPool,
		MaxBuffer:      dflMaxBuffer,
		MaxTexture:     dflMaxTexture,
		MaxDescriptor:  dflMaxDescriptor,
		BufferBudget:   dflBufferBudget,
	}
}

// budget validates c and returns the buffer budget in
// bytes.
func (c *Config) budget() (int64, error) {
	switch {
	case c.FramesInFlight < 1:
		return 0, errors.New(cfgPrefix + "FramesInFlight must be at least 1")
	case c.TicketPoolSize < minTicketPoolSize || c.TicketPoolSize < 4*c.FramesInFlight:
		return 0, errors.New(cfgPrefix + "TicketPoolSize too small")
	case c.MaxBuffer < 1:
		return 0, errors.New(cfgPrefix + "MaxBuffer must be at least 1")
	case c.MaxTexture < 1:
		return 0, errors.New(cfgPrefix + "MaxTexture must be at least 1")
	case c.MaxDescriptor < 1:
		return 0, errors.New(cfgPrefix + "MaxDescriptor must be at least 1")
	}
	n, err := units.RAMInBytes(c.BufferBudget)
	if err != nil {
		return 0, errors.New(cfgPrefix + "invalid BufferBudget: " + err.Error())
	}
	if n <= 0 {
		return 0, errors.New(cfgPrefix + "BufferBudget must be positive")
	}
	return n, nil
}
