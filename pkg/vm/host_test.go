package vm

import (
	"errors"
	"fmt"
	"time"
)

// fakeHost records every call the VM makes into it.
type fakeHost struct {
	pixels    []Color
	shown     int
	shutdowns int
	now       time.Time
	random    int32
	slept     []time.Duration
	calls     []string

	pixelErr    error
	shutdownErr error
}

func newFakeHost(n int) *fakeHost {
	return &fakeHost{
		pixels: make([]Color, n),
		now:    time.Unix(1700000000, 123*int64(time.Millisecond)),
		random: 42,
	}
}

var errFakeRange = errors.New("index out of range")

func (h *fakeHost) Length() int {
	h.calls = append(h.calls, "length")
	return len(h.pixels)
}

func (h *fakeHost) SetPixel(i int, c Color) error {
	h.calls = append(h.calls, fmt.Sprintf("set_pixel %d %v", i, c))
	if h.pixelErr != nil {
		return h.pixelErr
	}
	if i < 0 || i >= len(h.pixels) {
		return errFakeRange
	}
	h.pixels[i] = c
	return nil
}

func (h *fakeHost) GetPixel(i int) (Color, error) {
	h.calls = append(h.calls, fmt.Sprintf("get_pixel %d", i))
	if i < 0 || i >= len(h.pixels) {
		return Color{}, errFakeRange
	}
	return h.pixels[i], nil
}

func (h *fakeHost) SetAllPixels(c Color) error {
	h.calls = append(h.calls, fmt.Sprintf("set_all_pixels %v", c))
	for i := range h.pixels {
		h.pixels[i] = c
	}
	return nil
}

func (h *fakeHost) Show() error {
	h.calls = append(h.calls, "show")
	h.shown++
	return nil
}

func (h *fakeHost) Shutdown() error {
	h.calls = append(h.calls, "shutdown")
	h.shutdowns++
	return h.shutdownErr
}

func (h *fakeHost) Now() time.Time { return h.now }

func (h *fakeHost) RandomInt() int32 { return h.random }

func (h *fakeHost) Sleep(d time.Duration) {
	h.calls = append(h.calls, "sleep")
	h.slept = append(h.slept, d)
}
