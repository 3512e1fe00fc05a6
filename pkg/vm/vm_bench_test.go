package vm

import (
	"bytes"
	"testing"

	"ledvm/pkg/isa"
)

func repeat(op byte, n int) []byte {
	return bytes.Repeat([]byte{op}, n)
}

func BenchmarkVM_Push(b *testing.B) {
	const pushCount = 1000
	code := repeat(isa.ClassPush<<4|1, pushCount)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := New(newFakeHost(1))
		m.Load(&Program{Code: code})
		if err := m.Run(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVM_ADD(b *testing.B) {
	const addCount = 1000
	code := append([]byte{isa.ClassPush<<4 | 1}, bytes.Repeat([]byte{isa.ClassPeek << 4, isa.ClassBinary<<4 | isa.FnAdd}, addCount)...)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := New(newFakeHost(1))
		m.Load(&Program{Code: code})
		if err := m.Run(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVM_FillStrip(b *testing.B) {
	m, _ := load(b, `
		PUSHB 0
	fill:
		PEEK 0
		PUSHB 16
		SHL
		set_pixel
		INC
		PEEK 0
		get_length
		LT
		JZ done
		POP 0
		JMP fill
	done:
		POP 0
		POP 0
		show
	`)
	prog := m.Program()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Load(prog)
		if err := m.Run(); err != nil {
			b.Fatal(err)
		}
	}
}
