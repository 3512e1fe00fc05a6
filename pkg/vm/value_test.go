package vm

import (
	"math"
	"testing"
)

func TestColorPacking(t *testing.T) {
	c := Unpack(0x030201)
	if c != (Color{R: 1, G: 2, B: 3}) {
		t.Fatalf("Unpack(0x030201) = %+v", c)
	}
	if got := c.Pack(); got != 0x030201 {
		t.Errorf("Pack() = 0x%06X; want 0x030201", got)
	}
	// Bits above the blue byte are ignored.
	if got := Unpack(-1); got != (Color{255, 255, 255}) {
		t.Errorf("Unpack(-1) = %+v", got)
	}
	r, g, b, a := Color{R: 0xFF}.RGBA()
	if r != 0xFFFF || g != 0 || b != 0 || a != 0xFFFF {
		t.Errorf("RGBA() = %d %d %d %d", r, g, b, a)
	}
}

func TestValueConversions(t *testing.T) {
	tests := []struct {
		v     Value
		int   int32
		str   string
		float bool
	}{
		{Int(-3), -3, "-3", false},
		{Float(2.75), 2, "2.75", true},
		{Float(-2.75), -2, "-2.75", true},
		{Float(1e20), math.MaxInt32, "1e+20", true},
		{Float(math.NaN()), 0, "NaN", true},
	}
	for _, tc := range tests {
		if got := tc.v.Int(); got != tc.int {
			t.Errorf("%v.Int() = %d; want %d", tc.v, got, tc.int)
		}
		if got := tc.v.String(); got != tc.str {
			t.Errorf("String() = %q; want %q", got, tc.str)
		}
		if got := tc.v.IsFloat(); got != tc.float {
			t.Errorf("%v.IsFloat() = %v", tc.v, got)
		}
	}
	if !Float(0).IsZero() || !Int(0).IsZero() || Int(1).IsZero() {
		t.Error("IsZero mismatch")
	}
}
