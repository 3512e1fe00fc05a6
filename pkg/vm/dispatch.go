package vm

import (
	"errors"
	"math"
	"time"

	"ledvm/pkg/isa"
)

type handler func(vm *VM, funct byte) error

type unaryOp func(v Value) (Value, error)

type binaryOp func(l, r Value) (Value, error)

// Dispatch tables, indexed by the high nibble (classTable) or the low
// nibble (everything else). A nil entry is an invalid opcode or funct.
var (
	classTable   [16]handler
	unaryTable   [16]unaryOp
	binaryTable  [16]binaryOp
	floatTable   [16]handler
	userTable    [16]handler
	specialTable [16]handler
)

var errNoHost = errors.New("no host attached")

func init() {
	classTable[isa.ClassPop] = opPop
	classTable[isa.ClassPush] = opPush
	classTable[isa.ClassPeek] = opPeek
	classTable[isa.ClassPushI] = opPushI
	classTable[isa.ClassJmp] = opJmp
	classTable[isa.ClassJz] = opJz
	classTable[isa.ClassJnz] = opJnz
	classTable[isa.ClassUnary] = opUnary
	classTable[isa.ClassBinary] = opBinary
	classTable[isa.ClassFloat] = opFloat
	classTable[isa.ClassUser] = opUser
	classTable[isa.ClassSpecial] = opSpecial

	unaryTable[isa.FnInc] = func(v Value) (Value, error) {
		if v.IsFloat() {
			return Float(v.f + 1), nil
		}
		return Int(v.i + 1), nil
	}
	unaryTable[isa.FnDec] = func(v Value) (Value, error) {
		if v.IsFloat() {
			return Float(v.f - 1), nil
		}
		return Int(v.i - 1), nil
	}
	unaryTable[isa.FnNot] = intUnary(func(a int32) int32 { return ^a })
	unaryTable[isa.FnNeg] = func(v Value) (Value, error) { return Bool(v.IsZero()), nil }
	unaryTable[isa.FnShl8] = intUnary(func(a int32) int32 { return a << 8 })
	unaryTable[isa.FnShr8] = intUnary(func(a int32) int32 { return a >> 8 })

	binaryTable[isa.FnAdd] = arith(
		func(a, b int32) int32 { return a + b },
		func(a, b float64) float64 { return a + b })
	binaryTable[isa.FnSub] = arith(
		func(a, b int32) int32 { return a - b },
		func(a, b float64) float64 { return a - b })
	binaryTable[isa.FnMul] = arith(
		func(a, b int32) int32 { return a * b },
		func(a, b float64) float64 { return a * b })
	binaryTable[isa.FnDiv] = nonZero(integral(floorDiv, func(a, b float64) float64 { return math.Floor(a / b) }))
	binaryTable[isa.FnMod] = nonZero(integral(floorMod, floorModFloat))
	binaryTable[isa.FnAnd] = bitwise(func(a, b int32) int32 { return a & b })
	binaryTable[isa.FnOr] = bitwise(func(a, b int32) int32 { return a | b })
	binaryTable[isa.FnXor] = bitwise(func(a, b int32) int32 { return a ^ b })
	binaryTable[isa.FnGt] = compare(func(a, b float64) bool { return a > b })
	binaryTable[isa.FnGte] = compare(func(a, b float64) bool { return a >= b })
	binaryTable[isa.FnLt] = compare(func(a, b float64) bool { return a < b })
	binaryTable[isa.FnLte] = compare(func(a, b float64) bool { return a <= b })
	binaryTable[isa.FnEq] = compare(func(a, b float64) bool { return a == b })
	binaryTable[isa.FnNeq] = compare(func(a, b float64) bool { return a != b })
	binaryTable[isa.FnShl] = shift(func(a int32, n uint32) int32 { return a << n })
	binaryTable[isa.FnShr] = shift(func(a int32, n uint32) int32 { return a >> n })

	floatTable[isa.FnFloor] = floatUnary(func(v Value) Value {
		if !v.IsFloat() {
			return v
		}
		return Int(toInt32(math.Floor(v.f)))
	})
	floatTable[isa.FnCeil] = floatUnary(func(v Value) Value {
		if !v.IsFloat() {
			return v
		}
		return Int(toInt32(math.Ceil(v.f)))
	})
	floatTable[isa.FnSin] = floatUnary(func(v Value) Value { return Float(math.Sin(v.Float())) })
	floatTable[isa.FnCos] = floatUnary(func(v Value) Value { return Float(math.Cos(v.Float())) })
	floatTable[isa.FnFDiv] = opFDiv

	userTable[isa.FnGetLength] = opGetLength
	userTable[isa.FnGetWallTime] = opGetWallTime
	userTable[isa.FnGetPreciseTime] = opGetPreciseTime
	userTable[isa.FnSetPixel] = opSetPixel
	userTable[isa.FnShow] = opShow
	userTable[isa.FnRandomInt] = opRandomInt
	userTable[isa.FnGetPixel] = opGetPixel
	userTable[isa.FnSetAllPixels] = opSetAllPixels

	specialTable[isa.FnSleep] = opSleep
	specialTable[isa.FnExit] = opExit
	specialTable[isa.FnError] = opError
	specialTable[isa.FnSwap] = opReserved
	specialTable[isa.FnDump] = opDump
	specialTable[isa.FnYield] = opReserved
	specialTable[isa.FnTwoByte] = opReserved
}

func opPop(vm *VM, funct byte) error {
	return vm.remove(int(funct))
}

func opPeek(vm *VM, funct byte) error {
	return vm.pick(int(funct))
}

func opPush(vm *VM, funct byte) error {
	if funct != 0 {
		return vm.push(Int(int32(funct)))
	}
	b, err := vm.readByte()
	if err != nil {
		return err
	}
	return vm.push(Int(int32(b)))
}

func opPushI(vm *VM, funct byte) error {
	if funct != 0 {
		return vm.push(Int(int32(funct)))
	}
	w, err := vm.readWord()
	if err != nil {
		return err
	}
	return vm.push(Int(int32(w)))
}

// jump reads the address operand and, if taken, leaves pc one byte before
// the target so the increment in Step lands on it. A target equal to the
// program length halts.
func (vm *VM) jump(taken bool) error {
	target, err := vm.readShort()
	if err != nil {
		return err
	}
	if !taken {
		return nil
	}
	if int(target) > len(vm.code) {
		f := vm.newFault(PCOutOfBounds, nil)
		f.Addr = int(target)
		return f
	}
	vm.pc = int(target) - 1
	return nil
}

func opJmp(vm *VM, _ byte) error {
	return vm.jump(true)
}

func opJz(vm *VM, _ byte) error {
	v, err := vm.peek(0)
	if err != nil {
		return err
	}
	return vm.jump(v.IsZero())
}

func opJnz(vm *VM, _ byte) error {
	v, err := vm.peek(0)
	if err != nil {
		return err
	}
	return vm.jump(!v.IsZero())
}

func opUnary(vm *VM, funct byte) error {
	op := unaryTable[funct]
	if op == nil {
		return vm.newFault(InvalidFunct, nil)
	}
	v, err := vm.pop()
	if err != nil {
		return err
	}
	res, err := op(v)
	if err != nil {
		return err
	}
	return vm.push(res)
}

func opBinary(vm *VM, funct byte) error {
	op := binaryTable[funct]
	if op == nil {
		return vm.newFault(InvalidFunct, nil)
	}
	l, r, err := vm.pop2()
	if err != nil {
		return err
	}
	res, err := op(l, r)
	if err != nil {
		return err
	}
	return vm.push(res)
}

func opFloat(vm *VM, funct byte) error {
	h := floatTable[funct]
	if h == nil {
		return vm.newFault(InvalidFunct, nil)
	}
	return h(vm, funct)
}

func opUser(vm *VM, funct byte) error {
	h := userTable[funct]
	if h == nil {
		return vm.newFault(InvalidFunct, nil)
	}
	if vm.host == nil {
		return vm.hostFault(errNoHost)
	}
	return h(vm, funct)
}

func opSpecial(vm *VM, funct byte) error {
	h := specialTable[funct]
	if h == nil {
		return vm.newFault(InvalidFunct, nil)
	}
	return h(vm, funct)
}

func intUnary(fn func(a int32) int32) unaryOp {
	return func(v Value) (Value, error) {
		if v.IsFloat() {
			return Value{}, TypeMismatch
		}
		return Int(fn(v.i)), nil
	}
}

// arith applies fi to two integers and ff when either side is a float.
func arith(fi func(a, b int32) int32, ff func(a, b float64) float64) binaryOp {
	return func(l, r Value) (Value, error) {
		if l.IsFloat() || r.IsFloat() {
			return Float(ff(l.Float(), r.Float())), nil
		}
		return Int(fi(l.i, r.i)), nil
	}
}

// integral is arith for DIV and MOD: float operands are accepted but the
// result is always an integer.
func integral(fi func(a, b int32) int32, ff func(a, b float64) float64) binaryOp {
	return func(l, r Value) (Value, error) {
		if l.IsFloat() || r.IsFloat() {
			return Int(toInt32(ff(l.Float(), r.Float()))), nil
		}
		return Int(fi(l.i, r.i)), nil
	}
}

func nonZero(op binaryOp) binaryOp {
	return func(l, r Value) (Value, error) {
		if r.IsZero() {
			return Value{}, DivideByZero
		}
		return op(l, r)
	}
}

func bitwise(fn func(a, b int32) int32) binaryOp {
	return func(l, r Value) (Value, error) {
		if l.IsFloat() || r.IsFloat() {
			return Value{}, TypeMismatch
		}
		return Int(fn(l.i, r.i)), nil
	}
}

func shift(fn func(a int32, n uint32) int32) binaryOp {
	return func(l, r Value) (Value, error) {
		if l.IsFloat() || r.IsFloat() {
			return Value{}, TypeMismatch
		}
		if r.i < 0 {
			return Value{}, NegativeShift
		}
		return Int(fn(l.i, uint32(r.i))), nil
	}
}

// compare orders both sides as doubles. Every int32 is exact as a double.
func compare(fn func(a, b float64) bool) binaryOp {
	return func(l, r Value) (Value, error) {
		return Bool(fn(l.Float(), r.Float())), nil
	}
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int32) int32 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func floorModFloat(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func floatUnary(fn func(v Value) Value) handler {
	return func(vm *VM, _ byte) error {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		return vm.push(fn(v))
	}
}

func opFDiv(vm *VM, _ byte) error {
	l, r, err := vm.pop2()
	if err != nil {
		return err
	}
	if r.IsZero() {
		return DivideByZero
	}
	return vm.push(Float(l.Float() / r.Float()))
}

// intArg rejects floats where the host expects an index or a colour.
func intArg(v Value) (int32, error) {
	if v.IsFloat() {
		return 0, TypeMismatch
	}
	return v.i, nil
}

func opGetLength(vm *VM, _ byte) error {
	return vm.push(Int(int32(vm.host.Length())))
}

func opGetWallTime(vm *VM, _ byte) error {
	return vm.push(Int(int32(vm.host.Now().Unix())))
}

// opGetPreciseTime pushes the low 32 bits of the millisecond clock.
func opGetPreciseTime(vm *VM, _ byte) error {
	return vm.push(Int(int32(vm.host.Now().UnixMilli())))
}

func opSetPixel(vm *VM, _ byte) error {
	if err := vm.need(2, 0); err != nil {
		return err
	}
	c, _ := vm.pop()
	idx, _ := vm.peek(0)
	color, err := intArg(c)
	if err != nil {
		return err
	}
	index, err := intArg(idx)
	if err != nil {
		return err
	}
	if err := vm.host.SetPixel(int(index), Unpack(color)); err != nil {
		return vm.hostFault(err)
	}
	return nil
}

func opShow(vm *VM, _ byte) error {
	if err := vm.host.Show(); err != nil {
		return vm.hostFault(err)
	}
	return nil
}

func opRandomInt(vm *VM, _ byte) error {
	return vm.push(Int(vm.host.RandomInt()))
}

func opGetPixel(vm *VM, _ byte) error {
	idx, err := vm.peek(0)
	if err != nil {
		return err
	}
	index, err := intArg(idx)
	if err != nil {
		return err
	}
	c, err := vm.host.GetPixel(int(index))
	if err != nil {
		return vm.hostFault(err)
	}
	return vm.push(Int(c.Pack()))
}

func opSetAllPixels(vm *VM, _ byte) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	color, err := intArg(v)
	if err != nil {
		return err
	}
	if err := vm.host.SetAllPixels(Unpack(color)); err != nil {
		return vm.hostFault(err)
	}
	return nil
}

func opSleep(vm *VM, _ byte) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	if vm.host == nil {
		return vm.hostFault(errNoHost)
	}
	ms := v.Float()
	if ms <= 0 {
		return nil
	}
	vm.host.Sleep(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

func opExit(vm *VM, _ byte) error {
	vm.state = Halted
	if vm.onExit != nil {
		vm.onExit(vm)
	}
	if err := vm.Terminate(); err != nil {
		return vm.hostFault(err)
	}
	return nil
}

func opError(vm *VM, _ byte) error {
	return vm.newFault(ExplicitError, nil)
}

func opDump(vm *VM, _ byte) error {
	if err := vm.dump(); err != nil {
		return vm.hostFault(err)
	}
	return nil
}

func opReserved(vm *VM, _ byte) error {
	log.Debugf("reserved instruction 0x%02X at 0x%04X has no effect", vm.op, vm.lastpc)
	return nil
}
