package bytecode

import (
	"errors"
	"fmt"
	"math"
)

// Limit errors returned by the Assembler. They are configuration limits,
// not logic errors, and are surfaced to users as emit-stage failures.
var (
	ErrLiteralPoolFull     = errors.New("literal pool full")
	ErrFieldTableFull      = errors.New("field table full")
	ErrTooManyInstructions = errors.New("instruction count limit exceeded")
)

// Limits bounds the size of an assembled program.
type Limits struct {
	MaxLiterals     int
	MaxFields       int
	MaxInstructions int
}

// DefaultLimits matches what the interchange format can represent.
var DefaultLimits = Limits{
	MaxLiterals:     math.MaxUint16,
	MaxFields:       math.MaxUint16,
	MaxInstructions: math.MaxUint16,
}

// Label is a forward jump destination. Labels are bound once and resolved
// after all code has been emitted.
type Label int

type fixup struct {
	pc    int
	label Label
}

// Assembler builds a Program in two passes: instructions are appended with
// symbolic labels, and Finish resolves every label to a relative offset.
type Assembler struct {
	limits Limits

	code     []Instruction
	literals []Literal
	fields   []FieldRef

	literalMap map[literalKey]int
	fieldMap   map[string]int

	labels []int // label -> bound pc, -1 while unbound
	fixups []fixup
}

// NewAssembler creates an assembler enforcing the given limits. Zero-valued
// limits fall back to DefaultLimits.
func NewAssembler(limits Limits) *Assembler {
	if limits.MaxLiterals <= 0 || limits.MaxLiterals > DefaultLimits.MaxLiterals {
		limits.MaxLiterals = DefaultLimits.MaxLiterals
	}
	if limits.MaxFields <= 0 || limits.MaxFields > DefaultLimits.MaxFields {
		limits.MaxFields = DefaultLimits.MaxFields
	}
	if limits.MaxInstructions <= 0 {
		limits.MaxInstructions = DefaultLimits.MaxInstructions
	}
	return &Assembler{
		limits:     limits,
		code:       make([]Instruction, 0, 16),
		literalMap: make(map[literalKey]int),
		fieldMap:   make(map[string]int),
	}
}

// AddLiteral interns a literal and returns its pool index.
func (a *Assembler) AddLiteral(lit Literal) (int, error) {
	k := lit.key()
	if idx, ok := a.literalMap[k]; ok {
		return idx, nil
	}
	if len(a.literals) >= a.limits.MaxLiterals {
		return 0, fmt.Errorf("%w: limit is %d", ErrLiteralPoolFull, a.limits.MaxLiterals)
	}
	idx := len(a.literals)
	a.literals = append(a.literals, lit)
	a.literalMap[k] = idx
	return idx, nil
}

// AddField interns a field path and returns its table index.
func (a *Assembler) AddField(path string) (int, error) {
	if idx, ok := a.fieldMap[path]; ok {
		return idx, nil
	}
	if len(a.fields) >= a.limits.MaxFields {
		return 0, fmt.Errorf("%w: limit is %d", ErrFieldTableFull, a.limits.MaxFields)
	}
	idx := len(a.fields)
	a.fields = append(a.fields, FieldRef{Path: path, Index: uint16(idx)})
	a.fieldMap[path] = idx
	return idx, nil
}

// Emit appends an instruction and returns its pc.
func (a *Assembler) Emit(op Opcode, operand int32) (int, error) {
	if len(a.code) >= a.limits.MaxInstructions {
		return 0, fmt.Errorf("%w: limit is %d", ErrTooManyInstructions, a.limits.MaxInstructions)
	}
	a.code = append(a.code, Instruction{Op: op, Operand: operand})
	return len(a.code) - 1, nil
}

// EmitLiteral interns lit and emits PUSH_LITERAL for it.
func (a *Assembler) EmitLiteral(lit Literal) error {
	idx, err := a.AddLiteral(lit)
	if err != nil {
		return err
	}
	_, err = a.Emit(OpPushLiteral, int32(idx))
	return err
}

// EmitField interns path and emits LOAD_FIELD for it.
func (a *Assembler) EmitField(path string) error {
	idx, err := a.AddField(path)
	if err != nil {
		return err
	}
	_, err = a.Emit(OpLoadField, int32(idx))
	return err
}

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// EmitJump emits a jump to label and records a pending fix-up.
func (a *Assembler) EmitJump(op Opcode, label Label) error {
	if !op.IsJump() {
		panic(fmt.Sprintf("bytecode: EmitJump with non-jump opcode %s", op))
	}
	pc, err := a.Emit(op, 0)
	if err != nil {
		return err
	}
	a.fixups = append(a.fixups, fixup{pc: pc, label: label})
	return nil
}

// Bind places label at the next instruction to be emitted.
func (a *Assembler) Bind(label Label) {
	if a.labels[label] != -1 {
		panic(fmt.Sprintf("bytecode: label %d bound twice", label))
	}
	a.labels[label] = len(a.code)
}

// Len returns the number of instructions emitted so far.
func (a *Assembler) Len() int {
	return len(a.code)
}

// Last returns the most recently emitted opcode, or false if nothing has
// been emitted.
func (a *Assembler) Last() (Opcode, bool) {
	if len(a.code) == 0 {
		return 0, false
	}
	return a.code[len(a.code)-1].Op, true
}

// Finish resolves label fix-ups and returns the assembled program. A label
// that was never bound, or that resolves outside the program, is a defect in
// the caller and panics.
func (a *Assembler) Finish() *Program {
	code := make([]Instruction, len(a.code))
	copy(code, a.code)

	for _, f := range a.fixups {
		target := a.labels[f.label]
		if target < 0 {
			panic(fmt.Sprintf("bytecode: jump at pc %d to unbound label %d", f.pc, f.label))
		}
		if target <= f.pc || target >= len(code) {
			panic(fmt.Sprintf("bytecode: jump at pc %d to label %d resolves out of range (%d)", f.pc, f.label, target))
		}
		code[f.pc].Operand = int32(target - (f.pc + 1))
	}

	return &Program{
		Version:     BytecodeVersion,
		Code:        code,
		Literals:    append([]Literal(nil), a.literals...),
		Fields:      append([]FieldRef(nil), a.fields...),
		Relocations: BuildRelocations(code),
	}
}
