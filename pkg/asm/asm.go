// Package asm assembles ledvm assembly source into bytecode.
//
// Assembly is a single left-to-right pass over the token stream. Forward
// label references are emitted as zero placeholders and recorded in a patch
// list, which is applied once the pass has resolved every label.
package asm

import (
	"encoding/binary"
	"math"

	"ledvm/pkg/isa"
)

// SourceMap maps the byte offset of each instruction to its source line.
type SourceMap map[uint16]int

const unresolved = -1

type patch struct {
	offset int
	label  string
	line   int
}

type Assembler struct {
	labels    map[string]int
	patches   []patch
	code      []byte
	sourceMap SourceMap
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

func Assemble(source string) ([]byte, SourceMap, error) {
	return NewAssembler().Assemble(source)
}

// Assemble tokenizes and encodes source. On failure no code is returned.
// The assembler keeps no state between calls.
func (a *Assembler) Assemble(source string) ([]byte, SourceMap, error) {
	tokens, err := Tokenize(source)
	if err != nil {
		return nil, nil, err
	}
	return a.Encode(tokens)
}

// Encode assembles an already tokenized program.
func (a *Assembler) Encode(tokens []Token) ([]byte, SourceMap, error) {
	a.reset()

	if err := a.declare(tokens); err != nil {
		return nil, nil, err
	}
	if err := a.encode(tokens); err != nil {
		return nil, nil, err
	}
	if err := a.applyPatches(); err != nil {
		return nil, nil, err
	}

	code, sourceMap := a.code, a.sourceMap
	a.reset()
	return code, sourceMap, nil
}

func (a *Assembler) reset() {
	a.labels = make(map[string]int)
	a.patches = nil
	a.code = make([]byte, 0, 64)
	a.sourceMap = make(SourceMap)
}

// declare pre-populates the symbol table with every label declaration so that
// forward references can be told apart from references to labels that do not
// exist at all.
func (a *Assembler) declare(tokens []Token) error {
	for _, tok := range tokens {
		if tok.Kind != TokLabel {
			continue
		}
		if _, exists := a.labels[tok.Text]; exists {
			return errorf(tok.Line, ErrDuplicateLabel, "%q", tok.Text)
		}
		a.labels[tok.Text] = unresolved
	}
	return nil
}

func (a *Assembler) encode(tokens []Token) error {
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		switch tok.Kind {
		case TokLabel:
			a.labels[tok.Text] = len(a.code)

		case TokMnemonic:
			in, ok := isa.Lookup(tok.Text)
			if !ok {
				return errorf(tok.Line, ErrUnknownMnemonic, "%s", tok.Text)
			}
			if len(a.code)+in.Size() > isa.MaxProgramSize {
				return errorf(tok.Line, ErrProgramTooLarge, "code exceeds %d bytes", isa.MaxProgramSize)
			}
			a.sourceMap[uint16(len(a.code))] = tok.Line

			opcode := in.Opcode
			if in.Form != isa.FormPlain {
				i++
				nibble, err := a.nibbleOperand(in, tok, tokens, i)
				if err != nil {
					return err
				}
				opcode |= nibble
			}
			a.code = append(a.code, opcode)

			for _, width := range in.Operands {
				i++
				if i >= len(tokens) {
					return errorf(tok.Line, ErrMissingOperand, "%s expects %d operand(s)", in.Mnemonic, len(in.Operands))
				}
				if err := a.operand(in, tokens[i], width); err != nil {
					return err
				}
			}

		default:
			return errorf(tok.Line, ErrUnexpectedToken, "%s %q", tok.Kind, tok.Text)
		}
	}
	return nil
}

// nibbleOperand reads the integer that is packed into the low nibble of a
// FormSlot or FormInline instruction.
func (a *Assembler) nibbleOperand(in *isa.Instruction, mnemonic Token, tokens []Token, i int) (byte, error) {
	if i >= len(tokens) {
		return 0, errorf(mnemonic.Line, ErrMissingOperand, "%s expects an integer argument", in.Mnemonic)
	}
	arg := tokens[i]
	if arg.Kind != TokInteger {
		return 0, errorf(arg.Line, ErrOperandKind, "%s expects an integer argument, found %s %q", in.Mnemonic, arg.Kind, arg.Text)
	}

	if in.Form == isa.FormInline {
		if arg.Value < 1 || arg.Value > 15 {
			return 0, errorf(arg.Line, ErrOperandRange, "%s literal %s must be between 1 and 15", in.Mnemonic, arg.Text)
		}
		return byte(arg.Value), nil
	}
	return byte(arg.Value) & 0x0F, nil
}

func (a *Assembler) operand(in *isa.Instruction, arg Token, width int) error {
	switch arg.Kind {
	case TokInteger:
		return a.emit(arg, arg.Value, width)

	case TokReference:
		addr, declared := a.labels[arg.Text]
		if !declared {
			return errorf(arg.Line, ErrUndefinedLabel, "%q", arg.Text)
		}
		if addr != unresolved {
			return a.emit(arg, int64(addr), width)
		}
		if width < isa.AddressWidth {
			return errorf(arg.Line, ErrOperandRange, "forward reference to %q does not fit in %d byte(s)", arg.Text, width)
		}
		a.patches = append(a.patches, patch{offset: len(a.code), label: arg.Text, line: arg.Line})
		a.code = append(a.code, make([]byte, width)...)
		return nil
	}

	return errorf(arg.Line, ErrOperandKind, "%s expects an integer or label, found %s %q", in.Mnemonic, arg.Kind, arg.Text)
}

// emit appends v little-endian in width bytes. One and two byte operands are
// unsigned. Four byte operands accept the full int32 and uint32 ranges.
func (a *Assembler) emit(arg Token, v int64, width int) error {
	var lo, hi int64
	switch width {
	case 1:
		lo, hi = 0, math.MaxUint8
	case 2:
		lo, hi = 0, math.MaxUint16
	case 4:
		lo, hi = math.MinInt32, math.MaxUint32
	}
	if v < lo || v > hi {
		return errorf(arg.Line, ErrOperandRange, "argument %s is too large, expected %d byte(s)", arg.Text, width)
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	a.code = append(a.code, buf[:width]...)
	return nil
}

func (a *Assembler) applyPatches() error {
	for _, p := range a.patches {
		addr := a.labels[p.label]
		if addr == unresolved {
			return errorf(p.line, ErrUndefinedLabel, "%q", p.label)
		}
		if addr > math.MaxUint16 {
			return errorf(p.line, ErrOperandRange, "label %q at offset %d is beyond the addressable range", p.label, addr)
		}
		binary.LittleEndian.PutUint16(a.code[p.offset:], uint16(addr))
	}
	return nil
}
