// Package vm executes ledvm bytecode on a stack machine.
//
// A VM owns its operand stack and program counter. It is not safe for
// concurrent use: one goroutine drives Step or Run, and a Program is swapped
// with Load between steps.
package vm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tliron/commonlog"

	"ledvm/pkg/isa"
)

var log = commonlog.GetLogger("ledvm.vm")

type State uint8

const (
	Ready State = iota
	Running
	Halted
	Faulted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", s)
}

// Program is an assembled binary. The VM never modifies Code.
type Program struct {
	Name string
	Code []byte
}

type Option func(*VM)

// WithDebug logs every executed instruction at debug level.
func WithDebug(debug bool) Option {
	return func(vm *VM) { vm.debug = debug }
}

// WithStackLimit bounds the operand stack. Zero means unlimited.
func WithStackLimit(n int) Option {
	return func(vm *VM) { vm.limit = n }
}

// WithExitHook registers a function called by the exit instruction after the
// VM has halted and before host resources are released.
func WithExitHook(fn func(*VM)) Option {
	return func(vm *VM) { vm.onExit = fn }
}

// WithOutput sets where the dump instruction writes its snapshot.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

type VM struct {
	host Host
	prog *Program
	code []byte

	pc     int
	lastpc int
	op     byte
	stack  Stack
	state  State
	fault  *Fault
	steps  uint64

	limit  int
	debug  bool
	onExit func(*VM)
	out    io.Writer
}

func New(host Host, opts ...Option) *VM {
	vm := &VM{
		host:  host,
		stack: make(Stack, 0, stackDepth),
		state: Halted,
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Load replaces the program and resets the execution state in one step.
// Loading nil or an empty program leaves the VM Halted.
func (vm *VM) Load(p *Program) {
	vm.prog = p
	vm.code = nil
	if p != nil {
		vm.code = p.Code
	}
	vm.Reset()
}

// Program returns the loaded program, or nil.
func (vm *VM) Program() *Program {
	return vm.prog
}

// Reset rewinds the loaded program to pc 0 with an empty stack.
func (vm *VM) Reset() {
	vm.pc = 0
	vm.lastpc = 0
	vm.op = 0
	vm.stack = vm.stack[:0]
	vm.fault = nil
	vm.steps = 0
	vm.state = Ready
	if len(vm.code) == 0 {
		vm.state = Halted
	}
}

// Step executes one instruction. It returns nil once the VM has halted and
// the same *Fault on every call after a fault.
func (vm *VM) Step() error {
	switch vm.state {
	case Halted:
		return nil
	case Faulted:
		return vm.fault
	}
	vm.state = Running

	vm.lastpc = vm.pc
	if vm.pc < 0 || vm.pc >= len(vm.code) {
		f := vm.newFault(PCOutOfBounds, nil)
		f.Addr = vm.pc
		return vm.trap(f)
	}
	vm.op = vm.code[vm.pc]

	if vm.debug && log.AllowLevel(commonlog.Debug) {
		d, _ := isa.Decode(vm.code, vm.pc)
		log.Debugf("%04X  %-20s %v", vm.pc, d, vm.stack)
	}

	class, funct := isa.Split(vm.op)
	h := classTable[class]
	if h == nil {
		return vm.trap(vm.newFault(InvalidOpcode, nil))
	}
	if err := h(vm, funct); err != nil {
		return vm.trap(err)
	}
	vm.steps++

	if vm.state != Running {
		return nil
	}
	vm.pc++
	if vm.pc >= len(vm.code) {
		vm.state = Halted
	}
	return nil
}

// Run steps until the VM halts or faults. It does not bound the number of
// steps; a program that loops forever keeps Run busy forever.
func (vm *VM) Run() error {
	for {
		if err := vm.Step(); err != nil {
			return err
		}
		if vm.state != Running {
			return nil
		}
	}
}

// Terminate releases host resources and rewinds the execution state. The VM
// stays Halted until Reset or Load.
func (vm *VM) Terminate() error {
	vm.state = Halted
	vm.pc = 0
	vm.stack = vm.stack[:0]
	if vm.host == nil {
		return nil
	}
	return vm.host.Shutdown()
}

func (vm *VM) trap(err error) error {
	f, ok := err.(*Fault)
	if !ok {
		if errno, isErrno := err.(Errno); isErrno {
			f = vm.newFault(errno, nil)
		} else {
			f = vm.hostFault(err)
		}
	}
	vm.fault = f
	vm.state = Faulted
	log.Debugf("fault: %v", f)
	return f
}

func (vm *VM) State() State  { return vm.state }
func (vm *VM) PC() int       { return vm.pc }
func (vm *VM) Steps() uint64 { return vm.steps }
func (vm *VM) Fault() *Fault { return vm.fault }
func (vm *VM) Depth() int    { return len(vm.stack) }

// Stack returns a copy of the operand stack, bottom first.
func (vm *VM) Stack() Stack {
	return append(Stack(nil), vm.stack...)
}

// Top returns the top of the stack, if any.
func (vm *VM) Top() (Value, bool) {
	if len(vm.stack) == 0 {
		return Value{}, false
	}
	return vm.stack[len(vm.stack)-1], true
}

// Snapshot is a human readable view of the execution state.
type Snapshot struct {
	Program string `json:"program"`
	State   string `json:"state"`
	PC      string `json:"pc"`
	Steps   uint64 `json:"steps"`
	Stack   Stack  `json:"stack"`
	Fault   string `json:"fault,omitempty"`
}

func (vm *VM) Snapshot() Snapshot {
	s := Snapshot{
		State: vm.state.String(),
		PC:    fmt.Sprintf("0x%04X", vm.pc),
		Steps: vm.steps,
		Stack: vm.Stack(),
	}
	if vm.prog != nil {
		s.Program = vm.prog.Name
	}
	if vm.fault != nil {
		s.Fault = vm.fault.Error()
	}
	return s
}

func (vm *VM) dump() error {
	data, err := json.Marshal(vm.Snapshot())
	if err != nil {
		return err
	}
	log.Debugf("dump: %s", data)
	if vm.out != nil {
		if _, err := fmt.Fprintf(vm.out, "%s\n", data); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) readByte() (byte, error) {
	if vm.pc+1 >= len(vm.code) {
		return 0, vm.newFault(UnexpectedEOF, nil)
	}
	vm.pc++
	return vm.code[vm.pc], nil
}

func (vm *VM) readShort() (uint16, error) {
	if vm.pc+2 >= len(vm.code) {
		return 0, vm.newFault(UnexpectedEOF, nil)
	}
	v := binary.LittleEndian.Uint16(vm.code[vm.pc+1:])
	vm.pc += 2
	return v, nil
}

func (vm *VM) readWord() (uint32, error) {
	if vm.pc+4 >= len(vm.code) {
		return 0, vm.newFault(UnexpectedEOF, nil)
	}
	v := binary.LittleEndian.Uint32(vm.code[vm.pc+1:])
	vm.pc += 4
	return v, nil
}
