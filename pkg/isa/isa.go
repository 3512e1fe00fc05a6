// Package isa is the instruction set shared by the assembler, the virtual
// machine and the disassembler.
//
// Every instruction is at least one byte. The high nibble selects the opcode
// class, the low nibble is either a funct selector within the class or a
// small inline immediate. Multi-byte operands follow the opcode byte and are
// little-endian.
package isa

import "strings"

// Opcode classes (high nibble of the instruction byte).
const (
	ClassPop     byte = 0x0
	ClassPush    byte = 0x1
	ClassPeek    byte = 0x2
	ClassPushI   byte = 0x3
	ClassJmp     byte = 0x4
	ClassJz      byte = 0x5
	ClassJnz     byte = 0x6
	ClassUnary   byte = 0x7
	ClassBinary  byte = 0x8
	ClassFloat   byte = 0x9
	ClassUser    byte = 0xE
	ClassSpecial byte = 0xF
)

// Unary functs.
const (
	FnInc  byte = 0x0
	FnDec  byte = 0x1
	FnNot  byte = 0x2
	FnNeg  byte = 0x3
	FnShl8 byte = 0x4
	FnShr8 byte = 0x5
)

// Binary functs.
const (
	FnAdd byte = 0x0
	FnSub byte = 0x1
	FnDiv byte = 0x2
	FnMul byte = 0x3
	FnMod byte = 0x4
	FnAnd byte = 0x5
	FnOr  byte = 0x6
	FnXor byte = 0x7
	FnGt  byte = 0x8
	FnGte byte = 0x9
	FnLt  byte = 0xA
	FnLte byte = 0xB
	FnEq  byte = 0xC
	FnNeq byte = 0xD
	FnShl byte = 0xE
	FnShr byte = 0xF
)

// Float functs.
const (
	FnFloor byte = 0x0
	FnCeil  byte = 0x1
	FnSin   byte = 0x2
	FnCos   byte = 0x3
	FnFDiv  byte = 0xF
)

// User (host bridge) functs.
const (
	FnGetLength      byte = 0x0
	FnGetWallTime    byte = 0x1
	FnGetPreciseTime byte = 0x2
	FnSetPixel       byte = 0x3
	FnShow           byte = 0x4
	FnRandomInt      byte = 0x5
	FnGetPixel       byte = 0x6
	FnSetAllPixels   byte = 0x7
)

// Special functs. 0x0-0x8 are unassigned.
const (
	FnSleep   byte = 0x9
	FnExit    byte = 0xA
	FnError   byte = 0xB
	FnSwap    byte = 0xC
	FnDump    byte = 0xD
	FnYield   byte = 0xE
	FnTwoByte byte = 0xF
)

// Form describes how an instruction's low nibble is filled in by the assembler.
type Form uint8

const (
	// FormPlain instructions carry a fixed funct in the opcode byte.
	FormPlain Form = iota
	// FormSlot instructions OR the low nibble of an integer operand into the
	// opcode byte (POP n, PEEK n).
	FormSlot
	// FormInline instructions carry a 1..15 literal in the low nibble
	// (PUSH n, PUSHI n). A zero nibble selects the trailing-operand encoding.
	FormInline
)

// Instruction is one row of the mnemonic table.
type Instruction struct {
	Mnemonic string
	Opcode   byte
	Form     Form
	// Operands lists the byte width of each trailing operand.
	Operands []int
}

// Size returns the encoded length of the instruction in bytes.
func (in *Instruction) Size() int {
	n := 1
	for _, w := range in.Operands {
		n += w
	}
	return n
}

// AddressWidth is the width of a jump target. It caps the addressable program
// at 65536 bytes.
const AddressWidth = 2

// MaxProgramSize is the largest program whose every byte is addressable by a
// jump.
const MaxProgramSize = 1 << (8 * AddressWidth)

var table = []Instruction{
	{Mnemonic: "POP", Opcode: ClassPop << 4, Form: FormSlot},
	{Mnemonic: "PUSH", Opcode: ClassPush << 4, Form: FormInline},
	{Mnemonic: "PUSHB", Opcode: ClassPush << 4, Operands: []int{1}},
	{Mnemonic: "PEEK", Opcode: ClassPeek << 4, Form: FormSlot},
	{Mnemonic: "PUSHI", Opcode: ClassPushI << 4, Form: FormInline},
	{Mnemonic: "PUSHW", Opcode: ClassPushI << 4, Operands: []int{4}},
	{Mnemonic: "JMP", Opcode: ClassJmp << 4, Operands: []int{AddressWidth}},
	{Mnemonic: "JZ", Opcode: ClassJz << 4, Operands: []int{AddressWidth}},
	{Mnemonic: "JNZ", Opcode: ClassJnz << 4, Operands: []int{AddressWidth}},

	{Mnemonic: "INC", Opcode: ClassUnary<<4 | FnInc},
	{Mnemonic: "DEC", Opcode: ClassUnary<<4 | FnDec},
	{Mnemonic: "NOT", Opcode: ClassUnary<<4 | FnNot},
	{Mnemonic: "NEG", Opcode: ClassUnary<<4 | FnNeg},
	{Mnemonic: "SHL8", Opcode: ClassUnary<<4 | FnShl8},
	{Mnemonic: "SHR8", Opcode: ClassUnary<<4 | FnShr8},

	{Mnemonic: "ADD", Opcode: ClassBinary<<4 | FnAdd},
	{Mnemonic: "SUB", Opcode: ClassBinary<<4 | FnSub},
	{Mnemonic: "DIV", Opcode: ClassBinary<<4 | FnDiv},
	{Mnemonic: "MUL", Opcode: ClassBinary<<4 | FnMul},
	{Mnemonic: "MOD", Opcode: ClassBinary<<4 | FnMod},
	{Mnemonic: "AND", Opcode: ClassBinary<<4 | FnAnd},
	{Mnemonic: "OR", Opcode: ClassBinary<<4 | FnOr},
	{Mnemonic: "XOR", Opcode: ClassBinary<<4 | FnXor},
	{Mnemonic: "GT", Opcode: ClassBinary<<4 | FnGt},
	{Mnemonic: "GTE", Opcode: ClassBinary<<4 | FnGte},
	{Mnemonic: "LT", Opcode: ClassBinary<<4 | FnLt},
	{Mnemonic: "LTE", Opcode: ClassBinary<<4 | FnLte},
	{Mnemonic: "EQ", Opcode: ClassBinary<<4 | FnEq},
	{Mnemonic: "NEQ", Opcode: ClassBinary<<4 | FnNeq},
	{Mnemonic: "SHL", Opcode: ClassBinary<<4 | FnShl},
	{Mnemonic: "SHR", Opcode: ClassBinary<<4 | FnShr},

	{Mnemonic: "FLOOR", Opcode: ClassFloat<<4 | FnFloor},
	{Mnemonic: "CEIL", Opcode: ClassFloat<<4 | FnCeil},
	{Mnemonic: "SIN", Opcode: ClassFloat<<4 | FnSin},
	{Mnemonic: "COS", Opcode: ClassFloat<<4 | FnCos},
	{Mnemonic: "FDIV", Opcode: ClassFloat<<4 | FnFDiv},

	{Mnemonic: "get_length", Opcode: ClassUser<<4 | FnGetLength},
	{Mnemonic: "get_wall_time", Opcode: ClassUser<<4 | FnGetWallTime},
	{Mnemonic: "get_precise_time", Opcode: ClassUser<<4 | FnGetPreciseTime},
	{Mnemonic: "set_pixel", Opcode: ClassUser<<4 | FnSetPixel},
	{Mnemonic: "show", Opcode: ClassUser<<4 | FnShow},
	{Mnemonic: "random_int", Opcode: ClassUser<<4 | FnRandomInt},
	{Mnemonic: "get_pixel", Opcode: ClassUser<<4 | FnGetPixel},
	{Mnemonic: "set_all_pixels", Opcode: ClassUser<<4 | FnSetAllPixels},

	{Mnemonic: "sleep", Opcode: ClassSpecial<<4 | FnSleep},
	{Mnemonic: "exit", Opcode: ClassSpecial<<4 | FnExit},
	{Mnemonic: "error", Opcode: ClassSpecial<<4 | FnError},
	{Mnemonic: "swap", Opcode: ClassSpecial<<4 | FnSwap},
	{Mnemonic: "dump", Opcode: ClassSpecial<<4 | FnDump},
	{Mnemonic: "yield", Opcode: ClassSpecial<<4 | FnYield},
	{Mnemonic: "two_byte", Opcode: ClassSpecial<<4 | FnTwoByte},
}

var (
	byMnemonic = make(map[string]*Instruction, len(table))
	byOpcode   [256]*Instruction
)

func init() {
	for i := range table {
		in := &table[i]
		byMnemonic[strings.ToUpper(in.Mnemonic)] = in

		switch in.Form {
		case FormSlot:
			for n := byte(0); n < 16; n++ {
				byOpcode[in.Opcode|n] = in
			}
		case FormInline:
			for n := byte(1); n < 16; n++ {
				byOpcode[in.Opcode|n] = in
			}
		default:
			byOpcode[in.Opcode] = in
		}
	}
}

// Lookup returns the instruction for a mnemonic. Mnemonics are matched
// case-insensitively.
func Lookup(mnemonic string) (*Instruction, bool) {
	in, ok := byMnemonic[strings.ToUpper(mnemonic)]
	return in, ok
}

// ByOpcode returns the instruction that an encoded opcode byte decodes to, or
// nil if the byte is not a valid instruction.
func ByOpcode(b byte) *Instruction {
	return byOpcode[b]
}

// Instructions returns a copy of the mnemonic table in opcode order.
func Instructions() []Instruction {
	out := make([]Instruction, len(table))
	copy(out, table)
	return out
}

// Split returns the opcode class and funct of an instruction byte.
func Split(b byte) (class, funct byte) {
	return b >> 4, b & 0x0F
}
