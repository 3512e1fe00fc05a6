// Command desktop runs the LED daemon with a window that simulates the strip.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/image/font/basicfont"

	"ledvm/pkg/config"
	"ledvm/pkg/daemon"
	"ledvm/pkg/grid"
	"ledvm/pkg/pixels"
	"ledvm/pkg/runner"
	"ledvm/pkg/store"
)

const overlayHeight = 18

type Game struct {
	d      *daemon.Daemon
	ctx    context.Context
	layout pixels.Layout
	scale  int
	w, h   int

	leds *ebiten.Image // one texel per LED, scaled up when drawn
	face text.Face
	errs <-chan error

	stopped   bool
	daemonErr error
}

func (g *Game) Update() error {
	select {
	case err := <-g.errs:
		g.stopped, g.daemonErr = true, err
		if err != nil {
			return err
		}
		return ebiten.Termination
	default:
	}

	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyN):
		names := programNames(g.d.Store.List())
		g.switchTo(nextProgram(names, g.d.Runner.Current()))
	case inpututil.IsKeyJustPressed(ebiten.KeyI):
		g.switchTo(store.IdleProgram)
	case inpututil.IsKeyJustPressed(ebiten.KeyS):
		name := fmt.Sprintf("ledvm_%s.png", time.Now().Format("20060102_150405"))
		if err := g.d.Strip.SaveScreenshot(name, g.layout, g.scale); err != nil {
			fmt.Fprintf(os.Stderr, "screenshot: %v\n", err)
		} else {
			fmt.Printf("saved %s\n", name)
		}
	}
	return nil
}

// switchTo runs the switch off the render loop; it waits for the runner to
// reach a slice boundary.
func (g *Game) switchTo(name string) {
	if name == "" {
		return
	}
	go func() {
		if err := g.d.Runner.Switch(g.ctx, name); err != nil {
			fmt.Fprintf(os.Stderr, "switch to %q: %v\n", name, err)
		}
	}()
}

func (g *Game) Draw(screen *ebiten.Image) {
	if g.leds == nil {
		g.leds = ebiten.NewImage(g.w, g.h)
	}
	img := pixels.FrameImage(g.d.Strip.Frame(), g.layout)
	g.leds.WritePixels(img.Pix)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(g.scale), float64(g.scale))
	screen.DrawImage(g.leds, op)

	top := &text.DrawOptions{}
	top.GeoM.Translate(4, float64(g.h*g.scale)+2)
	top.ColorScale.ScaleWithColor(color.White)
	text.Draw(screen, statusLine(g.d.Runner.Status()), g.face, top)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.w * g.scale, g.h*g.scale + overlayHeight
}

func programNames(infos []store.Info) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// nextProgram returns the program after current in names, wrapping around.
func nextProgram(names []string, current string) string {
	if len(names) == 0 {
		return ""
	}
	for i, name := range names {
		if name == current {
			return names[(i+1)%len(names)]
		}
	}
	return names[0]
}

func statusLine(st runner.Status) string {
	s := fmt.Sprintf("%s [%s] pc=0x%04X steps=%d", st.Program, st.State, st.PC, st.Steps)
	if st.LastFault != "" {
		s += "  last: " + st.LastFault
	}
	return s
}

func main() {
	configPath := flag.String("config", config.FileName, "configuration file (defaults are used if it does not exist)")
	listen := flag.String("listen", "", "override server.listen")
	flag.Parse()

	cfg, err := config.LoadIfExists(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	daemon.ConfigureLogging(cfg.Log)

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- d.Run(ctx) }()

	layout := d.Layout()
	w, h := grid.Size(cfg.Display.Pixels, layout.Cols)
	game := &Game{
		d:      d,
		ctx:    ctx,
		layout: layout,
		scale:  cfg.Display.Scale,
		w:      w,
		h:      h,
		face:   text.NewGoXFace(basicfont.Face7x13),
		errs:   errs,
	}

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(game.Layout(0, 0))
	ebiten.SetWindowTitle("ledvm")

	runErr := ebiten.RunGame(game)

	// Graceful shutdown: stop the daemon and let it flush the store.
	cancel()
	daemonErr := game.daemonErr
	if !game.stopped {
		daemonErr = <-errs
	}
	if daemonErr != nil && !errors.Is(daemonErr, context.Canceled) {
		fmt.Fprintf(os.Stderr, "daemon failed: %v\n", daemonErr)
	}
	if runErr != nil && !errors.Is(runErr, daemonErr) {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}
