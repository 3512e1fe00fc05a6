// Package pixels is an in-memory addressable LED strip.
//
// Writes go to a back buffer and become visible in the front buffer on
// Show, the way a physical strip only latches new colours when the frame
// is pushed out. Renderers read the front buffer from other goroutines.
package pixels

import (
	"errors"
	"fmt"
	"sync"

	"ledvm/pkg/vm"
)

// DefaultLength is the pixel count of the reference hardware.
const DefaultLength = 150

var (
	Black   = vm.Color{}
	Red     = vm.Color{R: 255}
	Green   = vm.Color{G: 255}
	Blue    = vm.Color{B: 255}
	Yellow  = vm.Color{R: 255, G: 255}
	Magenta = vm.Color{R: 255, B: 255}
	Cyan    = vm.Color{G: 255, B: 255}
	White   = vm.Color{R: 255, G: 255, B: 255}
)

var (
	ErrIndexRange = errors.New("pixel index out of range")
	ErrClosed     = errors.New("strip is shut down")
)

type Strip struct {
	mu     sync.RWMutex
	back   []vm.Color
	front  []vm.Color
	closed bool
	frames uint64
	onShow func(frame []vm.Color)
}

func New(n int) *Strip {
	if n <= 0 {
		n = DefaultLength
	}
	return &Strip{
		back:  make([]vm.Color, n),
		front: make([]vm.Color, n),
	}
}

func (s *Strip) Length() int {
	return len(s.back)
}

func (s *Strip) check(i int) error {
	if s.closed {
		return ErrClosed
	}
	if i < 0 || i >= len(s.back) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexRange, i, len(s.back))
	}
	return nil
}

func (s *Strip) SetPixel(i int, c vm.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(i); err != nil {
		return err
	}
	s.back[i] = c
	return nil
}

// GetPixel returns the pending colour of pixel i, including writes not yet
// shown.
func (s *Strip) GetPixel(i int) (vm.Color, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(i); err != nil {
		return vm.Color{}, err
	}
	return s.back[i], nil
}

func (s *Strip) SetAllPixels(c vm.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for i := range s.back {
		s.back[i] = c
	}
	return nil
}

// Show latches the back buffer into the front buffer.
func (s *Strip) Show() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	copy(s.front, s.back)
	s.frames++
	fn := s.onShow
	var frame []vm.Color
	if fn != nil {
		frame = append([]vm.Color(nil), s.front...)
	}
	s.mu.Unlock()

	if fn != nil {
		fn(frame)
	}
	return nil
}

// Shutdown blanks the strip and refuses further writes until Reopen.
// Calling it on a closed strip is a no-op.
func (s *Strip) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for i := range s.back {
		s.back[i] = Black
		s.front[i] = Black
	}
	s.closed = true
	return nil
}

// Reopen makes a shut down strip writable again.
func (s *Strip) Reopen() {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
}

func (s *Strip) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Frame returns a copy of the front buffer.
func (s *Strip) Frame() []vm.Color {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]vm.Color(nil), s.front...)
}

// Frames returns how many times Show has latched a frame.
func (s *Strip) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// OnShow registers fn to receive a copy of every latched frame. fn runs on
// the goroutine calling Show.
func (s *Strip) OnShow(fn func(frame []vm.Color)) {
	s.mu.Lock()
	s.onShow = fn
	s.mu.Unlock()
}
