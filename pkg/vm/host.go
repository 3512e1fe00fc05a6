package vm

import "time"

// Host is the set of device, clock and randomness primitives the VM calls
// into. Implementations need not be safe for concurrent use; the VM calls
// them from the goroutine driving Step.
type Host interface {
	Length() int
	SetPixel(index int, c Color) error
	GetPixel(index int) (Color, error)
	SetAllPixels(c Color) error
	Show() error
	// Shutdown releases device resources. It is called by the exit
	// instruction and by VM.Terminate.
	Shutdown() error

	Now() time.Time
	RandomInt() int32
	Sleep(d time.Duration)
}

// Color is a 24-bit RGB colour.
type Color struct {
	R, G, B uint8
}

// Unpack decodes a packed colour: r in bits 0-7, g in 8-15, b in 16-23.
func Unpack(c int32) Color {
	return Color{
		R: uint8(c & 0xff),
		G: uint8((c >> 8) & 0xff),
		B: uint8((c >> 16) & 0xff),
	}
}

// Pack is the inverse of Unpack.
func (c Color) Pack() int32 {
	return int32(c.R) | int32(c.G)<<8 | int32(c.B)<<16
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	return r, g, b, 0xffff
}
