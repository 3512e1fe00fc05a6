package vm

import (
	"encoding/json"
	"math"
	"strconv"
)

type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
)

func (k Kind) String() string {
	if k == KindFloat {
		return "float"
	}
	return "int"
}

// Value is a single stack cell: either a signed 32-bit integer or a double.
// The zero Value is Int(0).
type Value struct {
	kind Kind
	i    int32
	f    float64
}

func Int(i int32) Value { return Value{kind: KindInt, i: i} }

func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns Int(1) for true and Int(0) for false.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsFloat() bool { return v.kind == KindFloat }
func (v Value) IsZero() bool  { return v.Float() == 0 }

// Int returns the integer payload. Floats are truncated toward zero and
// saturate at the int32 limits.
func (v Value) Int() int32 {
	if v.kind == KindInt {
		return v.i
	}
	return toInt32(math.Trunc(v.f))
}

// Float returns the value as a double.
func (v Value) Float() float64 {
	if v.kind == KindFloat {
		return v.f
	}
	return float64(v.i)
}

func (v Value) String() string {
	if v.kind == KindFloat {
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(v.i), 10)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat {
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.f)
	}
	return json.Marshal(v.i)
}

// toInt32 converts a float to int32, saturating out of range values. NaN
// converts to 0.
func toInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}
