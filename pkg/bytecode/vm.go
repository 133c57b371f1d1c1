package bytecode

import (
	"fmt"
	"io"
	"os"
)

// FieldSource resolves field paths against one event.
type FieldSource interface {
	LookupField(path string) (Value, bool)
}

// Fields is a FieldSource backed by a map keyed by field path.
type Fields map[string]Value

// LookupField implements FieldSource.
func (f Fields) LookupField(path string) (Value, bool) {
	v, ok := f[path]
	return v, ok
}

// Stats counts work done by the last Execute call.
type Stats struct {
	Instructions int
	FieldLookups int
	Lookups      map[string]int // per-path lookup counts
}

// DefaultMaxStack bounds the value stack of the reference interpreter.
const DefaultMaxStack = 1024

// VM is a reference interpreter for filter programs. Probes embed their own
// interpreter; this one exists to check compiler output and to evaluate
// filters from tooling. A VM is not safe for concurrent use.
type VM struct {
	Trace    bool
	TraceOut io.Writer
	MaxStack int

	Stats Stats

	stack []Value
}

// NewVM creates an interpreter with default settings.
func NewVM() *VM {
	return &VM{MaxStack: DefaultMaxStack, TraceOut: os.Stderr}
}

// Execute runs p against fields and returns whether the event matches.
// Runtime failures return false along with the error.
func (vm *VM) Execute(p *Program, fields FieldSource) (bool, error) {
	vm.stack = vm.stack[:0]
	vm.Stats = Stats{Lookups: make(map[string]int)}
	if vm.MaxStack <= 0 {
		vm.MaxStack = DefaultMaxStack
	}

	res, err := vm.run(p, fields)
	if err != nil {
		return false, err
	}
	return res.Truthy()
}

func (vm *VM) run(p *Program, fields FieldSource) (Value, error) {
	pc := 0
	for pc < len(p.Code) {
		in := p.Code[pc]
		vm.Stats.Instructions++
		if vm.Trace && vm.TraceOut != nil {
			fmt.Fprintf(vm.TraceOut, "[%04d] %-24s sp=%d\n", pc, p.DisassembleInstruction(pc), len(vm.stack))
		}
		pc++

		switch in.Op {
		case OpReturn:
			return vm.pop()

		case OpPushLiteral:
			if in.Operand < 0 || int(in.Operand) >= len(p.Literals) {
				return Value{}, fmt.Errorf("pc %d: literal index %d out of range", pc-1, in.Operand)
			}
			if err := vm.push(FromLiteral(p.Literals[in.Operand])); err != nil {
				return Value{}, err
			}

		case OpLoadField:
			if in.Operand < 0 || int(in.Operand) >= len(p.Fields) {
				return Value{}, fmt.Errorf("pc %d: field index %d out of range", pc-1, in.Operand)
			}
			path := p.Fields[in.Operand].Path
			vm.Stats.FieldLookups++
			vm.Stats.Lookups[path]++
			v, ok := fields.LookupField(path)
			if !ok {
				return Value{}, fmt.Errorf("%w: %s", ErrFieldNotFound, path)
			}
			if err := vm.push(v); err != nil {
				return Value{}, err
			}

		case OpUnaryPlus, OpUnaryMinus, OpNot, OpBitNot, OpToBool:
			v, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			r, err := Unary(in.Op, v)
			if err != nil {
				return Value{}, err
			}
			vm.stack = append(vm.stack, r)

		case OpJump:
			pc += int(in.Operand)

		case OpJumpIfFalse, OpJumpIfTrue:
			v, err := vm.peek()
			if err != nil {
				return Value{}, err
			}
			t, err := v.Truthy()
			if err != nil {
				return Value{}, err
			}
			if t == (in.Op == OpJumpIfTrue) {
				vm.stack[len(vm.stack)-1] = Bool(t)
				pc += int(in.Operand)
			} else {
				vm.stack = vm.stack[:len(vm.stack)-1]
			}

		default:
			if !in.Op.Valid() {
				return Value{}, fmt.Errorf("pc %d: unknown opcode 0x%02X", pc-1, byte(in.Op))
			}
			b, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			a, err := vm.pop()
			if err != nil {
				return Value{}, err
			}
			r, err := Binary(in.Op, a, b)
			if err != nil {
				return Value{}, err
			}
			vm.stack = append(vm.stack, r)
		}

		if pc < 0 || pc > len(p.Code) {
			return Value{}, fmt.Errorf("jump to %d outside program", pc)
		}
	}
	return Value{}, fmt.Errorf("program ran off the end without RETURN")
}

func (vm *VM) push(v Value) error {
	if len(vm.stack) >= vm.MaxStack {
		return ErrStackOverflow
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) pop() (Value, error) {
	if len(vm.stack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

func (vm *VM) peek() (Value, error) {
	if len(vm.stack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	return vm.stack[len(vm.stack)-1], nil
}
