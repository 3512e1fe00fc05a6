package runner

import (
	"math/rand"
	"time"

	"ledvm/pkg/vm"
)

// Display is the pixel half of vm.Host, typically a *pixels.Strip.
type Display interface {
	Length() int
	SetPixel(index int, c vm.Color) error
	GetPixel(index int) (vm.Color, error)
	SetAllPixels(c vm.Color) error
	Show() error
	Shutdown() error
}

type reopener interface {
	Reopen()
}

// Bridge completes a Display with a clock, a random source and an
// interruptible sleep to form a vm.Host.
type Bridge struct {
	Display

	// Clock defaults to time.Now.
	Clock func() time.Time

	rng  *rand.Rand
	wake chan struct{}
}

func NewBridge(d Display, seed int64) *Bridge {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Bridge{
		Display: d,
		Clock:   time.Now,
		rng:     rand.New(rand.NewSource(seed)),
		wake:    make(chan struct{}, 1),
	}
}

func (b *Bridge) Now() time.Time {
	return b.Clock()
}

// RandomInt returns a non-negative pseudo-random int32.
func (b *Bridge) RandomInt() int32 {
	return b.rng.Int31()
}

// Sleep blocks for d or until Interrupt is called.
func (b *Bridge) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-b.wake:
	}
}

// Interrupt cuts the current or next Sleep short.
func (b *Bridge) Interrupt() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) clearInterrupt() {
	select {
	case <-b.wake:
	default:
	}
}

// reopen makes the display writable again after an exit shut it down.
func (b *Bridge) reopen() {
	if r, ok := b.Display.(reopener); ok {
		r.Reopen()
	}
}
