package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// BytecodeMagic identifies serialized filter programs: "TFBC" (Trace Filter ByteCode).
var BytecodeMagic = []byte{'T', 'F', 'B', 'C'}

// InstructionSize is the encoded size of one instruction: opcode + i32 operand.
const InstructionSize = 5

const headerSize = 4 + 2 + 4 + 2 + 2

// LiteralKind tags a literal pool entry.
type LiteralKind uint8

const (
	LiteralInt    LiteralKind = 1
	LiteralFloat  LiteralKind = 2
	LiteralString LiteralKind = 3
)

func (k LiteralKind) String() string {
	switch k {
	case LiteralInt:
		return "int64"
	case LiteralFloat:
		return "float64"
	case LiteralString:
		return "string"
	default:
		return fmt.Sprintf("LiteralKind(%d)", k)
	}
}

// Literal is a constant pool entry.
type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Str   string
}

// IntLiteral, FloatLiteral and StringLiteral build pool entries.
func IntLiteral(v int64) Literal     { return Literal{Kind: LiteralInt, Int: v} }
func FloatLiteral(v float64) Literal { return Literal{Kind: LiteralFloat, Float: v} }
func StringLiteral(s string) Literal { return Literal{Kind: LiteralString, Str: s} }

// key returns the interning key. Floats intern by bit pattern so that
// 0.0 and -0.0 stay distinct.
func (l Literal) key() literalKey {
	switch l.Kind {
	case LiteralInt:
		return literalKey{kind: l.Kind, bits: uint64(l.Int)}
	case LiteralFloat:
		return literalKey{kind: l.Kind, bits: math.Float64bits(l.Float)}
	default:
		return literalKey{kind: l.Kind, str: l.Str}
	}
}

type literalKey struct {
	kind LiteralKind
	bits uint64
	str  string
}

func (l Literal) String() string {
	switch l.Kind {
	case LiteralInt:
		return fmt.Sprintf("%d", l.Int)
	case LiteralFloat:
		return fmt.Sprintf("%g", l.Float)
	case LiteralString:
		return fmt.Sprintf("%q", l.Str)
	default:
		return "?"
	}
}

// FieldRef maps a symbolic field path to the slot the interpreter resolves
// against an event's payload and context.
type FieldRef struct {
	Path  string
	Index uint16
}

// Relocation records that instruction Instr must be bound to field slot Field
// when the program is attached to an event.
type Relocation struct {
	Instr uint32
	Field uint16
}

// Instruction is a single decoded instruction.
type Instruction struct {
	Op      Opcode
	Operand int32
}

// Program is a compiled filter. It is immutable once returned by the
// compiler and may be shared between goroutines.
type Program struct {
	Version     uint16
	Code        []Instruction
	Literals    []Literal
	Fields      []FieldRef
	Relocations []Relocation
}

// JumpTarget returns the absolute instruction index a jump at pc lands on.
func (p *Program) JumpTarget(pc int) int {
	return pc + 1 + int(p.Code[pc].Operand)
}

// Serialize encodes the program in the binary interchange format:
//
//	[magic:4] [version:2] [instr_count:4] [literal_count:2] [field_count:2]
//	[literals: tag:1 value...]
//	[fields: len:2 path... index:2]
//	[code: opcode:1 operand:4]...
//
// All integers are little-endian.
func (p *Program) Serialize() ([]byte, error) {
	if len(p.Literals) > math.MaxUint16 {
		return nil, fmt.Errorf("too many literals: %d", len(p.Literals))
	}
	if len(p.Fields) > math.MaxUint16 {
		return nil, fmt.Errorf("too many fields: %d", len(p.Fields))
	}

	buf := make([]byte, 0, headerSize+len(p.Literals)*9+len(p.Fields)*16+len(p.Code)*InstructionSize)

	buf = append(buf, BytecodeMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, p.Version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Code)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.Literals)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.Fields)))

	for i, lit := range p.Literals {
		buf = append(buf, byte(lit.Kind))
		switch lit.Kind {
		case LiteralInt:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(lit.Int))
		case LiteralFloat:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(lit.Float))
		case LiteralString:
			if len(lit.Str) > math.MaxUint16 {
				return nil, fmt.Errorf("literal %d: string too long (%d bytes)", i, len(lit.Str))
			}
			buf = binary.LittleEndian.AppendUint16(buf, uint16(len(lit.Str)))
			buf = append(buf, lit.Str...)
		default:
			return nil, fmt.Errorf("literal %d: unknown kind %d", i, lit.Kind)
		}
	}

	for _, f := range p.Fields {
		if len(f.Path) > math.MaxUint16 {
			return nil, fmt.Errorf("field %q: path too long", f.Path)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Path)))
		buf = append(buf, f.Path...)
		buf = binary.LittleEndian.AppendUint16(buf, f.Index)
	}

	for _, in := range p.Code {
		buf = append(buf, byte(in.Op))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(in.Operand))
	}

	return buf, nil
}

// Deserialize decodes and verifies a program.
func Deserialize(data []byte) (*Program, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("bytecode too short: need at least %d bytes, got %d", headerSize, len(data))
	}

	if string(data[0:4]) != string(BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, data[0:4])
	}

	p := &Program{Version: binary.LittleEndian.Uint16(data[4:6])}
	if p.Version != BytecodeVersion {
		return nil, fmt.Errorf("unsupported bytecode version %d (want %d)", p.Version, BytecodeVersion)
	}
	instrCount := binary.LittleEndian.Uint32(data[6:10])
	litCount := binary.LittleEndian.Uint16(data[10:12])
	fieldCount := binary.LittleEndian.Uint16(data[12:14])
	pos := headerSize

	p.Literals = make([]Literal, litCount)
	for i := range p.Literals {
		if pos >= len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading literal %d tag", i)
		}
		kind := LiteralKind(data[pos])
		pos++
		switch kind {
		case LiteralInt, LiteralFloat:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("unexpected end of bytecode reading literal %d", i)
			}
			bits := binary.LittleEndian.Uint64(data[pos:])
			pos += 8
			if kind == LiteralInt {
				p.Literals[i] = IntLiteral(int64(bits))
			} else {
				p.Literals[i] = FloatLiteral(math.Float64frombits(bits))
			}
		case LiteralString:
			if pos+2 > len(data) {
				return nil, fmt.Errorf("unexpected end of bytecode reading literal %d length", i)
			}
			n := int(binary.LittleEndian.Uint16(data[pos:]))
			pos += 2
			if pos+n > len(data) {
				return nil, fmt.Errorf("unexpected end of bytecode reading literal %d", i)
			}
			p.Literals[i] = StringLiteral(string(data[pos : pos+n]))
			pos += n
		default:
			return nil, fmt.Errorf("literal %d: unknown tag 0x%02X", i, byte(kind))
		}
	}

	p.Fields = make([]FieldRef, fieldCount)
	for i := range p.Fields {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading field %d length", i)
		}
		n := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if pos+n+2 > len(data) {
			return nil, fmt.Errorf("unexpected end of bytecode reading field %d", i)
		}
		p.Fields[i].Path = string(data[pos : pos+n])
		pos += n
		p.Fields[i].Index = binary.LittleEndian.Uint16(data[pos:])
		pos += 2
	}

	if uint64(len(data)-pos) != uint64(instrCount)*InstructionSize {
		return nil, fmt.Errorf("code section size mismatch: %d bytes for %d instructions", len(data)-pos, instrCount)
	}
	p.Code = make([]Instruction, instrCount)
	for i := range p.Code {
		p.Code[i] = Instruction{
			Op:      Opcode(data[pos]),
			Operand: int32(binary.LittleEndian.Uint32(data[pos+1:])),
		}
		pos += InstructionSize
	}

	p.Relocations = BuildRelocations(p.Code)
	if err := p.Verify(); err != nil {
		return nil, err
	}
	return p, nil
}

// BuildRelocations derives the relocation table from LOAD_FIELD instructions.
func BuildRelocations(code []Instruction) []Relocation {
	var relocs []Relocation
	for pc, in := range code {
		if in.Op == OpLoadField {
			relocs = append(relocs, Relocation{Instr: uint32(pc), Field: uint16(in.Operand)})
		}
	}
	return relocs
}

// Verify checks the structural invariants the interpreter relies on:
// known opcodes, in-range operands, in-bounds jump targets, a balanced
// stack, and a terminating RETURN.
func (p *Program) Verify() error {
	if len(p.Code) == 0 {
		return fmt.Errorf("empty program")
	}
	if last := p.Code[len(p.Code)-1]; last.Op != OpReturn {
		return fmt.Errorf("program does not end with RETURN (last op %s)", last.Op)
	}
	for i, f := range p.Fields {
		if int(f.Index) != i {
			return fmt.Errorf("field %q: index %d does not match slot %d", f.Path, f.Index, i)
		}
	}

	for pc, in := range p.Code {
		if !in.Op.Valid() {
			return fmt.Errorf("pc %d: unknown opcode 0x%02X", pc, byte(in.Op))
		}
		switch in.Op.OperandKind() {
		case OperandNone:
			if in.Operand != 0 {
				return fmt.Errorf("pc %d: %s takes no operand, got %d", pc, in.Op, in.Operand)
			}
		case OperandLiteral:
			if in.Operand < 0 || int(in.Operand) >= len(p.Literals) {
				return fmt.Errorf("pc %d: literal index %d out of range", pc, in.Operand)
			}
		case OperandField:
			if in.Operand < 0 || int(in.Operand) >= len(p.Fields) {
				return fmt.Errorf("pc %d: field index %d out of range", pc, in.Operand)
			}
		case OperandJump:
			target := p.JumpTarget(pc)
			if target <= pc || target >= len(p.Code) {
				return fmt.Errorf("pc %d: jump target %d out of range", pc, target)
			}
		}
	}

	return p.checkStack()
}

// checkStack simulates stack depth along every path. Jumps only go forward,
// so one pass in program order sees every predecessor before its target.
func (p *Program) checkStack() error {
	depth := make([]int, len(p.Code)+1)
	for i := range depth {
		depth[i] = -1
	}
	depth[0] = 0

	merge := func(pc, d int) error {
		if depth[pc] == -1 {
			depth[pc] = d
			return nil
		}
		if depth[pc] != d {
			return fmt.Errorf("pc %d: inconsistent stack depth %d vs %d", pc, depth[pc], d)
		}
		return nil
	}

	for pc, in := range p.Code {
		d := depth[pc]
		if d == -1 {
			continue
		}
		info := GetOpcodeInfo(in.Op)
		if d < info.StackPop {
			return fmt.Errorf("pc %d: %s needs %d values, stack has %d", pc, in.Op, info.StackPop, d)
		}
		switch {
		case in.Op == OpReturn:
			if d != 1 {
				return fmt.Errorf("pc %d: RETURN with stack depth %d", pc, d)
			}
		case in.Op == OpJump:
			if err := merge(p.JumpTarget(pc), d); err != nil {
				return err
			}
		case in.Op.IsConditionalJump():
			if err := merge(p.JumpTarget(pc), d); err != nil {
				return err
			}
			if err := merge(pc+1, d-1); err != nil {
				return err
			}
		default:
			if err := merge(pc+1, d-info.StackPop+info.StackPush); err != nil {
				return err
			}
		}
	}
	return nil
}
