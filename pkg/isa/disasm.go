package isa

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrTruncated is returned when an instruction's operands run past the end of
// the code.
var ErrTruncated = errors.New("truncated instruction")

// Decoded is a single decoded instruction.
type Decoded struct {
	Offset int
	Size   int
	Op     byte
	// In is nil for bytes that do not decode to an instruction.
	In *Instruction
	// Args holds the slot/inline nibble for FormSlot and FormInline
	// instructions, and the trailing operand values otherwise.
	Args []uint32
}

// String renders the instruction in assembler syntax.
func (d Decoded) String() string {
	if d.In == nil {
		return fmt.Sprintf("db 0x%02X", d.Op)
	}
	if len(d.Args) == 0 {
		return d.In.Mnemonic
	}
	args := make([]string, len(d.Args))
	for i, a := range d.Args {
		switch {
		case d.In.Form != FormPlain:
			args[i] = fmt.Sprintf("%d", a)
		case d.In.Operands[i] == AddressWidth:
			args[i] = fmt.Sprintf("0x%04X", a)
		default:
			args[i] = fmt.Sprintf("%d", a)
		}
	}
	return d.In.Mnemonic + " " + strings.Join(args, ", ")
}

// Decode decodes the instruction that starts at offset pc.
func Decode(code []byte, pc int) (Decoded, error) {
	if pc < 0 || pc >= len(code) {
		return Decoded{}, fmt.Errorf("offset %d: %w", pc, ErrTruncated)
	}
	op := code[pc]
	d := Decoded{Offset: pc, Size: 1, Op: op, In: ByOpcode(op)}
	if d.In == nil {
		return d, nil
	}

	if d.In.Form != FormPlain {
		d.Args = []uint32{uint32(op & 0x0F)}
		return d, nil
	}

	pos := pc + 1
	for _, w := range d.In.Operands {
		if pos+w > len(code) {
			return d, fmt.Errorf("%s at offset %d: %w", d.In.Mnemonic, pc, ErrTruncated)
		}
		d.Args = append(d.Args, readLE(code[pos:pos+w]))
		pos += w
	}
	d.Size = pos - pc
	return d, nil
}

// Disassemble decodes a whole program. Decoding stops at the first truncated
// instruction, which is reported together with everything decoded before it.
func Disassemble(code []byte) ([]Decoded, error) {
	var out []Decoded
	for pc := 0; pc < len(code); {
		d, err := Decode(code, pc)
		if err != nil {
			return out, err
		}
		out = append(out, d)
		pc += d.Size
	}
	return out, nil
}

func readLE(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	case 4:
		return binary.LittleEndian.Uint32(b)
	}
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}
