// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/driver/soft"
	"github.com/gviegas/rendersync/engine/internal/ctxt"
)

// newSession creates a Session that uses the soft driver.
// The Session is closed when the test finishes.
func newSession(t *testing.T, cfg *Config) (*Session, *soft.Driver) {
	t.Helper()
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	cfg.Driver = "soft"
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession:\nhave %v\nwant nil", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Session.Close:\nhave %v\nwant nil", err)
		}
	})
	return s, s.drv.(*soft.Driver)
}

// checkViolations fails the test if the soft driver
// executed any command with a resource in the wrong
// access state.
func checkViolations(t *testing.T, d *soft.Driver) {
	t.Helper()
	if vs := d.Violations(); len(vs) != 0 {
		t.Fatalf("soft.Driver.Violations:\nhave %v\nwant []", vs)
	}
}

func checkPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected a panic", name)
		}
	}()
	f()
}

func TestConfig(t *testing.T) {
	c := DefaultConfig()
	n, err := c.budget()
	if err != nil {
		t.Fatalf("Config.budget:\nhave %v\nwant nil", err)
	}
	if n != 256<<20 {
		t.Fatalf("Config.budget:\nhave %d\nwant %d", n, 256<<20)
	}
	c.BufferBudget = "1.5GiB"
	if n, _ = c.budget(); n != 3<<29 {
		t.Fatalf("Config.budget:\nhave %d\nwant %d", n, 3<<29)
	}

	for _, x := range [...]struct {
		name string
		f    func(*Config)
	}{
		{"FramesInFlight", func(c *Config) { c.FramesInFlight = 0 }},
		{"TicketPoolSize", func(c *Config) { c.TicketPoolSize = 4 }},
		{"TicketPoolSize/FramesInFlight", func(c *Config) { c.FramesInFlight = 1000 }},
		{"MaxBuffer", func(c *Config) { c.MaxBuffer = 0 }},
		{"MaxTexture", func(c *Config) { c.MaxTexture = -1 }},
		{"MaxDescriptor", func(c *Config) { c.MaxDescriptor = 0 }},
		{"BufferBudget", func(c *Config) { c.BufferBudget = "lots" }},
		{"BufferBudget/zero", func(c *Config) { c.BufferBudget = "0" }},
	} {
		c := DefaultConfig()
		x.f(&c)
		if _, err := c.budget(); err == nil {
			t.Fatalf("Config.budget: %s:\nhave nil\nwant error", x.name)
		} else if !strings.HasPrefix(err.Error(), cfgPrefix) {
			t.Fatalf("Config.budget: %s:\nhave %q\nwant %q prefix", x.name, err, cfgPrefix)
		}
		if _, err := NewSession(&c); err == nil {
			t.Fatalf("NewSession: %s:\nhave nil\nwant error", x.name)
		}
	}
}

func TestNewSession(t *testing.T) {
	s, _ := newSession(t, nil)
	if s.ID() == uuid.Nil {
		t.Fatal("Session.ID:\nhave uuid.Nil\nwant random UUID")
	}
	if s.GPU() == nil {
		t.Fatal("Session.GPU:\nhave nil\nwant non-nil")
	}
	if n := s.Frame(); n != 0 {
		t.Fatalf("Session.Frame:\nhave %d\nwant 0", n)
	}

	c := DefaultConfig()
	c.Driver = "no such driver"
	if _, err := NewSession(&c); !errors.Is(err, ctxt.ErrNoDriver) {
		t.Fatalf("NewSession: bad driver:\nhave %v\nwant %v", err, ctxt.ErrNoDriver)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)

	s, _ := newSession(t, nil)
	if !strings.Contains(buf.String(), "session created") {
		t.Fatalf("Logger: NewSession:\nhave %q\nwant \"session created\"", buf.String())
	}
	if !strings.Contains(buf.String(), s.ID().String()) {
		t.Fatalf("Logger: NewSession:\nhave %q\nwant session ID", buf.String())
	}

	SetLogger(nil)
	if Logger() == nil {
		t.Fatal("Logger: after SetLogger(nil):\nhave nil\nwant non-nil")
	}
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("Logger: default logger is enabled")
	}
}

func TestEndFrame(t *testing.T) {
	c := DefaultConfig()
	c.FramesInFlight = 1
	s, d := newSession(t, &c)

	d.Pause()
	cs := s.NewCmdStream()
	cs.Draw(3, 1, 0, 0)
	tk, err := cs.Execute(driver.QGraphics)
	if err != nil {
		t.Fatalf("CmdStream.Execute:\nhave %v\nwant nil", err)
	}
	if tk.Completed() {
		t.Fatal("Ticket.Completed: paused:\nhave true\nwant false")
	}
	// One frame in flight is allowed.
	if err := s.EndFrame(tk); err != nil {
		t.Fatalf("Session.EndFrame:\nhave %v\nwant nil", err)
	}
	d.Resume()

	cs = s.NewCmdStream()
	cs.Draw(3, 1, 0, 0)
	tk2, err := cs.Execute(driver.QGraphics)
	if err != nil {
		t.Fatalf("CmdStream.Execute:\nhave %v\nwant nil", err)
	}
	if err := s.EndFrame(tk2); err != nil {
		t.Fatalf("Session.EndFrame:\nhave %v\nwant nil", err)
	}
	// The second EndFrame must have waited for the first
	// frame.
	if !tk.Completed() {
		t.Fatal("Ticket.Completed: after EndFrame:\nhave false\nwant true")
	}
	if n := s.Frame(); n != 2 {
		t.Fatalf("Session.Frame:\nhave %d\nwant 2", n)
	}
	tk2.Wait()
	checkViolations(t, d)
}

func TestCmdBufferReuse(t *testing.T) {
	s, d := newSession(t, nil)
	for i := 0; i < 8; i++ {
		cs := s.NewCmdStream()
		cs.Dispatch(1, 1, 1)
		if err := cs.ExecuteImmediately(driver.QCompute); err != nil {
			t.Fatalf("CmdStream.ExecuteImmediately:\nhave %v\nwant nil", err)
		}
	}
	if n := len(s.cbs); n != 1 {
		t.Fatalf("Session: command buffers:\nhave %d\nwant 1", n)
	}
	if st := d.Stats(); st.Submissions != 8 || st.Dispatches != 8 {
		t.Fatalf("soft.Driver.Stats:\nhave %+v\nwant 8 submissions, 8 dispatches", st)
	}
}
