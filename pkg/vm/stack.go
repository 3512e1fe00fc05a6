package vm

import "strings"

// Stack is a snapshot of the operand stack, bottom first.
type Stack []Value

func (s Stack) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

const stackDepth = 64

// need checks that down cells can be read and up cells can be pushed.
func (vm *VM) need(down, up int) error {
	have := len(vm.stack)
	if have < down {
		return vm.stackFault(StackUnderflow, down, have)
	}
	if vm.limit > 0 && have+up > vm.limit {
		return vm.stackFault(StackOverflow, have+up, vm.limit)
	}
	return nil
}

func (vm *VM) push(v Value) error {
	if err := vm.need(0, 1); err != nil {
		return err
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) pop() (Value, error) {
	if err := vm.need(1, 0); err != nil {
		return Value{}, err
	}
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v, nil
}

// pop2 pops right, then left.
func (vm *VM) pop2() (left, right Value, err error) {
	if err = vm.need(2, 0); err != nil {
		return
	}
	n := len(vm.stack)
	left, right = vm.stack[n-2], vm.stack[n-1]
	vm.stack = vm.stack[:n-2]
	return
}

// peek returns the cell n slots below the top without removing it.
func (vm *VM) peek(n int) (Value, error) {
	if err := vm.need(n+1, 0); err != nil {
		return Value{}, err
	}
	return vm.stack[len(vm.stack)-1-n], nil
}

// remove deletes the cell n slots below the top.
func (vm *VM) remove(n int) error {
	if err := vm.need(n+1, 0); err != nil {
		return err
	}
	i := len(vm.stack) - 1 - n
	vm.stack = append(vm.stack[:i], vm.stack[i+1:]...)
	return nil
}

// pick pushes a copy of the cell n slots below the top.
func (vm *VM) pick(n int) error {
	if err := vm.need(n+1, 1); err != nil {
		return err
	}
	vm.stack = append(vm.stack, vm.stack[len(vm.stack)-1-n])
	return nil
}
