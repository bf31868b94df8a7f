// Command syncdemo records a few frames of a small
// deferred renderer with the software driver and prints
// the barriers that the engine inserts.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/gputypes"

	"github.com/gviegas/rendersync/driver"
	"github.com/gviegas/rendersync/driver/soft"
	"github.com/gviegas/rendersync/engine"
)

func main() {
	var (
		frames   = flag.Int("frames", 3, "number of frames to render")
		inFlight = flag.Int("inflight", engine.MaxFrame, "maximum frames in flight")
		budget   = flag.String("budget", "64MiB", "buffer memory budget")
		size     = flag.Int("size", 512, "render target size")
		verbose  = flag.Bool("v", false, "log engine activity")
	)
	flag.Parse()

	if *verbose {
		engine.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := engine.DefaultConfig()
	cfg.Driver = "soft"
	cfg.FramesInFlight = *inFlight
	cfg.BufferBudget = *budget
	s, err := engine.NewSession(&cfg)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	r, err := newRenderer(s, *size)
	if err != nil {
		log.Fatalf("Failed to create resources: %v", err)
	}

	for i := 0; i < *frames; i++ {
		tk, err := r.frame(i == 0)
		if err != nil {
			log.Fatalf("Frame %d failed: %v", i, err)
		}
		if err := s.EndFrame(tk); err != nil {
			log.Fatalf("Frame %d failed: %v", i, err)
		}
	}
	tk, err := r.readBack()
	if err != nil {
		log.Fatalf("Read back failed: %v", err)
	}
	if err := tk.Wait(); err != nil {
		log.Fatalf("Read back failed: %v", err)
	}
	r.release(tk)

	d := s.GPU().Driver().(*soft.Driver)
	vs := d.Violations()
	st := d.Stats()
	if err := s.Close(); err != nil {
		log.Fatalf("Failed to close session: %v", err)
	}
	for _, v := range vs {
		log.Print(v)
	}
	log.Printf("%d frames: %d submissions, %d barriers, %d draws, %d dispatches, %d copies, %d violations\n",
		*frames, st.Submissions, st.Barriers, st.Draws, st.Dispatches, st.Copies, len(vs))
	if len(vs) > 0 {
		os.Exit(1)
	}
}

type renderer struct {
	s       *engine.Session
	gbuf    *engine.Texture
	depth   *engine.Texture
	hdr     *engine.Texture
	lights  *engine.Buffer
	staging *engine.Buffer
}

func newRenderer(s *engine.Session, size int) (r *renderer, err error) {
	r = &renderer{s: s}
	target := func(label string, pf gputypes.TextureFormat, layers int) (*engine.Texture, error) {
		return s.NewTexture(&engine.TexParam{
			Label:  label,
			Format: pf,
			Width:  size,
			Height: size,
			Layers: layers,
			Levels: 1,
			Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		})
	}
	if r.gbuf, err = target("gbuffer", gputypes.TextureFormatRGBA8Unorm, 3); err != nil {
		return
	}
	if r.depth, err = target("depth", gputypes.TextureFormatDepth32Float, 1); err != nil {
		return
	}
	if r.hdr, err = s.NewTexture(&engine.TexParam{
		Label:  "hdr",
		Format: gputypes.TextureFormatRGBA16Float,
		Width:  size,
		Height: size,
		Layers: 1,
		Levels: engine.ComputeLevels(size, size),
		Usage:  gputypes.TextureUsageStorageBinding | gputypes.TextureUsageTextureBinding,
	}); err != nil {
		return
	}
	if r.lights, err = s.NewBuffer(&engine.BufParam{
		Label: "lights",
		Size:  64 << 10,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	}); err != nil {
		return
	}
	r.staging, err = s.NewBuffer(&engine.BufParam{
		Label:   "readback",
		Size:    64 << 10,
		Visible: true,
		Usage:   gputypes.BufferUsageCopyDst | gputypes.BufferUsageMapRead,
	})
	return
}

// frame renders a single frame.
// If show is true, it prints the barriers of each pass.
func (r *renderer) frame(show bool) (engine.Ticket, error) {
	all := driver.SubAll
	f := r.s.NewFrame()
	var names []string
	pass := func(name string, uses []engine.Use, rec func(*engine.PassEncoder)) {
		f.AddPass(name, uses, rec)
		names = append(names, name)
	}

	var gbufUses []engine.Use
	for i := 0; i < r.gbuf.Layers(); i++ {
		gbufUses = append(gbufUses, engine.Use{Res: r.gbuf, Sub: r.gbuf.Subresource(i, 0), Access: driver.AColorWrite})
	}
	pass("geometry", append(gbufUses, engine.Use{Res: r.depth, Sub: all, Access: driver.ADepthWrite}),
		func(pe *engine.PassEncoder) { pe.DrawIndexed(36, 64, 0, 0, 0) })
	pass("light culling", []engine.Use{
		{Res: r.depth, Sub: all, Access: driver.ADepthRead | driver.ANonPixelRead},
		{Res: r.lights, Sub: all, Access: driver.AShaderWrite},
	}, func(pe *engine.PassEncoder) { pe.Dispatch(16, 16, 1) })
	pass("shading", []engine.Use{
		{Res: r.gbuf, Sub: all, Access: driver.ANonPixelRead},
		{Res: r.depth, Sub: all, Access: driver.ADepthRead | driver.ANonPixelRead},
		{Res: r.lights, Sub: all, Access: driver.ANonPixelRead},
		{Res: r.hdr, Sub: r.hdr.Subresource(0, 0), Access: driver.AShaderWrite},
	}, func(pe *engine.PassEncoder) { pe.Dispatch(32, 32, 1) })
	for i := 1; i < r.hdr.Levels(); i++ {
		pass(fmt.Sprintf("downsample %d", i), []engine.Use{
			{Res: r.hdr, Sub: r.hdr.Subresource(0, i-1), Access: driver.ANonPixelRead},
			{Res: r.hdr, Sub: r.hdr.Subresource(0, i), Access: driver.AShaderWrite},
		}, func(pe *engine.PassEncoder) { pe.Dispatch(1, 1, 1) })
	}
	pass("tonemap", []engine.Use{
		{Res: r.hdr, Sub: all, Access: driver.APixelRead},
	}, func(pe *engine.PassEncoder) { pe.Draw(3, 1, 0, 0) })

	if show {
		names = append(names, "(finalize)")
		for i, b := range f.Barriers() {
			fmt.Printf("%s:\n", names[i])
			for _, x := range b {
				sub := "all"
				if x.Sub != driver.SubAll {
					sub = fmt.Sprint(x.Sub)
				}
				fmt.Printf("\t%v[%s]: %v -> %v\n", x.Res, sub, x.Before, x.After)
			}
		}
	}
	return f.Execute(driver.QGraphics)
}

// readBack copies the light buffer into host memory.
func (r *renderer) readBack() (engine.Ticket, error) {
	cs := r.s.NewCmdStream()
	cs.SetAccess(r.lights, driver.SubAll, driver.ACopyRead)
	cs.SetAccess(r.staging, driver.SubAll, driver.ACopyWrite)
	cs.CopyBuffer(r.lights, 0, r.staging, 0, r.lights.Cap())
	cs.SetAccess(r.lights, driver.SubAll, r.lights.DefaultAccess())
	return cs.Execute(driver.QCopy)
}

func (r *renderer) release(tk engine.Ticket) {
	r.gbuf.Release(tk)
	r.depth.Release(tk)
	r.hdr.Release(tk)
	r.lights.Release(tk)
	r.staging.Release(tk)
}
