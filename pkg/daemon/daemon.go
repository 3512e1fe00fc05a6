// Package daemon assembles the store, LED strip, runner and HTTP control
// plane described by a config.Config.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"ledvm/pkg/config"
	"ledvm/pkg/pixels"
	"ledvm/pkg/runner"
	"ledvm/pkg/server"
	"ledvm/pkg/store"
	"ledvm/pkg/vm"
)

var log = commonlog.GetLogger("ledvm.daemon")

type Daemon struct {
	Config  *config.Config
	Store   *store.Store
	Backend store.Backend
	Strip   *pixels.Strip
	Frames  *server.Hub
	Runner  *runner.Runner
	Server  *server.Server
}

// ConfigureLogging applies the [log] section. Verbosity 0 keeps warnings and
// errors only; each step adds one level.
func ConfigureLogging(l config.Log) {
	var path *string
	if l.File != "" {
		path = &l.File
	}
	commonlog.Configure(l.Verbosity, path)
}

// RunnerOptions converts the [runner] section.
func RunnerOptions(c config.Runner) runner.Options {
	return runner.Options{
		StepBudget: c.StepBudget,
		MaxSteps:   c.MaxSteps,
		StackLimit: c.StackLimit,
		Tick:       c.Tick,
		Debug:      c.Debug,
	}
}

func New(cfg *config.Config) (*Daemon, error) {
	backend, err := store.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	st := store.New(int(cfg.Storage.Quota))
	if err := st.Load(backend); err != nil {
		backend.Close()
		return nil, fmt.Errorf("loading programs: %w", err)
	}

	idle := ""
	if cfg.Runner.IdleProgram != "" {
		data, err := os.ReadFile(cfg.Runner.IdleProgram)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("cannot read idle program: %w", err)
		}
		idle = string(data)
	}
	if err := runner.InstallIdle(st, idle); err != nil {
		backend.Close()
		return nil, err
	}

	strip := pixels.New(cfg.Display.Pixels)
	frames := server.NewHub()
	strip.OnShow(func(frame []vm.Color) {
		frames.Publish(frame)
		if log.AllowLevel(commonlog.Debug) {
			log.Debugf("show %s", server.FrameString(frame))
		}
	})

	r := runner.New(st, runner.NewBridge(strip, cfg.Runner.Seed), RunnerOptions(cfg.Runner))

	return &Daemon{
		Config:  cfg,
		Store:   st,
		Backend: backend,
		Strip:   strip,
		Frames:  frames,
		Runner:  r,
		Server:  server.New(st, r, server.WithFrames(frames)),
	}, nil
}

// Layout is the panel layout of the strip.
func (d *Daemon) Layout() pixels.Layout {
	return pixels.Layout{Cols: d.Config.Display.Cols, Serpentine: d.Config.Display.Serpentine}
}

// Run serves until ctx is cancelled or a component fails, then flushes the
// store and closes the backend.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Store.StartSyncer(ctx, d.Backend, d.Config.Storage.SyncInterval)
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(d.Runner.Run(ctx))
	})
	if addr := d.Config.Server.Listen; addr != "" {
		g.Go(func() error {
			return d.Server.ListenAndServe(ctx, addr)
		})
	}

	err := g.Wait()
	if closeErr := d.Backend.Close(); err == nil {
		err = closeErr
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
