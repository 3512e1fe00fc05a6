package pixels

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"ledvm/pkg/grid"
	"ledvm/pkg/vm"
)

// Layout describes how the strip is folded into a panel.
type Layout struct {
	Cols       int
	Serpentine bool
}

// Coords returns the panel position of pixel i.
func (l Layout) Coords(i int) (x, y int) {
	if l.Serpentine {
		return grid.GetSerpentineCoords(i, l.Cols)
	}
	return grid.GetGridCoords(i, l.Cols)
}

// FrameImage renders a frame as one image pixel per LED. Cells past the end
// of the strip stay transparent.
func FrameImage(frame []vm.Color, l Layout) *image.RGBA {
	w, h := grid.Size(len(frame), l.Cols)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, c := range frame {
		x, y := l.Coords(i)
		img.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xFF})
	}
	return img
}

// Image renders the front buffer.
func (s *Strip) Image(l Layout) *image.RGBA {
	return FrameImage(s.Frame(), l)
}

// SaveScreenshot writes the front buffer to filename as a PNG, each LED
// scaled up to a scale x scale block.
func (s *Strip) SaveScreenshot(filename string, l Layout, scale int) error {
	return SaveFrame(filename, s.Frame(), l, scale)
}

// SaveFrame writes frame to filename as a PNG.
func SaveFrame(filename string, frame []vm.Color, l Layout, scale int) error {
	src := FrameImage(frame, l)
	if scale < 1 {
		scale = 1
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
