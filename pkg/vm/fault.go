package vm

import "fmt"

// Execution faults, reported in Fault.Errno.
const (
	InvalidOpcode = Errno(iota + 1)
	InvalidFunct
	StackUnderflow
	StackOverflow
	UnexpectedEOF
	ExplicitError
	PCOutOfBounds
	DivideByZero
	TypeMismatch
	NegativeShift
	HostError
)

var strError = []string{
	"no fault",
	"invalid opcode",
	"invalid funct",
	"stack underflow",
	"stack overflow",
	"unexpected end of program",
	"error instruction",
	"pc out of bounds",
	"division by zero",
	"type mismatch",
	"negative shift count",
	"host error",
}

// Errno describes the reason for a fault. Errno values are errors, so
// errors.Is(err, vm.StackUnderflow) matches any fault of that kind.
type Errno int

func (e Errno) Error() string {
	if e < 0 || int(e) >= len(strError) {
		return fmt.Sprintf("errno %d", int(e))
	}
	return strError[e]
}

// Fault describes the cause and the context of an execution fault.
type Fault struct {
	Errno Errno
	Err   error // underlying host error when Errno is HostError
	PC    int   // offset of the faulting instruction
	Instr byte
	Addr  int // target when Errno is PCOutOfBounds
	Need  int // stack depth required, for stack faults
	Have  int // stack depth available, for stack faults
	Stack Stack
}

func (f *Fault) Error() string {
	msg := "ledvm: "
	switch {
	case f.Err != nil:
		msg += f.Errno.Error() + ": " + f.Err.Error()
	case f.Errno == StackUnderflow || f.Errno == StackOverflow:
		msg += fmt.Sprintf("%v (need %d, have %d)", f.Errno, f.Need, f.Have)
	case f.Errno == InvalidOpcode || f.Errno == InvalidFunct:
		msg += fmt.Sprintf("%v 0x%02X", f.Errno, f.Instr)
	case f.Errno == PCOutOfBounds:
		msg += fmt.Sprintf("%v 0x%04X", f.Errno, f.Addr)
	default:
		msg += f.Errno.Error()
	}
	return msg + fmt.Sprintf(" at 0x%04X", f.PC)
}

func (f *Fault) Unwrap() []error {
	if f.Err != nil {
		return []error{f.Errno, f.Err}
	}
	return []error{f.Errno}
}

func (vm *VM) newFault(errno Errno, err error) *Fault {
	return &Fault{
		Errno: errno,
		Err:   err,
		PC:    vm.lastpc,
		Instr: vm.op,
		Stack: vm.Stack(),
	}
}

func (vm *VM) stackFault(errno Errno, need, have int) *Fault {
	f := vm.newFault(errno, nil)
	f.Need, f.Have = need, have
	return f
}

func (vm *VM) hostFault(err error) *Fault {
	return vm.newFault(HostError, err)
}
