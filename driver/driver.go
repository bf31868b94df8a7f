// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package driver defines the GPU functionality that the
// engine's synchronization layer relies upon: queues with
// monotonic completion counters, command buffers that
// record explicit barriers, and resources made of
// individually tracked subresources.
package driver

import (
	"errors"
	"log/slog"
	"sync"
)

// Driver loads and unloads a backend.
type Driver interface {
	// Open initializes the backend and returns its GPU.
	// Calling Open on a driver that is already open
	// returns the same GPU.
	// Open is not safe for parallel execution.
	Open() (GPU, error)

	// Name returns the name of the driver.
	// Calling Name does not open the driver.
	Name() string

	// Close deinitializes the backend.
	// It has no effect on a driver that is not open.
	Close()
}

// ErrNoDeviceMemory means that a resource could not be
// created because device memory is exhausted.
var ErrNoDeviceMemory = errors.New("driver: out of device memory")

// ErrFatal means that a queue can no longer execute
// work. Every object created from the GPU must be
// destroyed and the driver closed.
var ErrFatal = errors.New("driver: fatal error")

var registry struct {
	sync.Mutex
	drivers []Driver
}

// Drivers returns the registered drivers in registration
// order.
// Only driver packages that were imported (and thus
// registered themselves on init) are listed.
func Drivers() []Driver {
	registry.Lock()
	defer registry.Unlock()
	return append([]Driver(nil), registry.drivers...)
}

// Register makes drv available for selection.
// It is meant to be called from a driver package's init
// function. A previously registered driver with the same
// name is replaced.
func Register(drv Driver) {
	registry.Lock()
	defer registry.Unlock()
	name := drv.Name()
	for i, x := range registry.drivers {
		if x.Name() == name {
			registry.drivers[i] = drv
			slog.Warn("driver replaced", "name", name)
			return
		}
	}
	registry.drivers = append(registry.drivers, drv)
	slog.Debug("driver registered", "name", name)
}
