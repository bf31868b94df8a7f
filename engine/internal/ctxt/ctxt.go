// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package ctxt selects the GPU driver used in the engine.
package ctxt

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gviegas/rendersync/driver"
)

// ErrNoDriver means that no registered driver matched
// the requested name or could be opened.
var ErrNoDriver = errors.New("ctxt: driver not found")

// Load attempts to open any driver whose name contains
// the name string. It is case insensitive.
// If name is the empty string, then all registered
// drivers are considered.
// Drivers are tried in registration order; the first
// one that opens successfully is returned.
func Load(name string) (drv driver.Driver, gpu driver.GPU, err error) {
	drivers := driver.Drivers()
	err = ErrNoDriver
	name = strings.ToLower(name)
	for i := range drivers {
		if !strings.Contains(strings.ToLower(drivers[i].Name()), name) {
			continue
		}
		var u driver.GPU
		if u, err = drivers[i].Open(); err != nil {
			slog.Debug("ctxt: driver failed to open", "driver", drivers[i].Name(), "err", err)
			continue
		}
		slog.Debug("ctxt: driver loaded", "driver", drivers[i].Name())
		return drivers[i], u, nil
	}
	return nil, nil, err
}
