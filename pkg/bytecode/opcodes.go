package bytecode

import "fmt"

// Opcode represents a filter bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Control (0x00-0x0F)
	// ========================================================================

	OpReturn Opcode = 0x01 // Pop the result and stop

	// ========================================================================
	// Loads (0x10-0x1F)
	// ========================================================================

	OpPushLiteral Opcode = 0x10 // Push literal pool entry: operand = pool index
	OpLoadField   Opcode = 0x11 // Push event field value: operand = field table index

	// ========================================================================
	// Arithmetic (0x20-0x27)
	// ========================================================================

	OpMul Opcode = 0x20 // Pop two, push product
	OpDiv Opcode = 0x21 // Pop two, push quotient (a / b where b is TOS)
	OpMod Opcode = 0x22 // Pop two, push remainder
	OpAdd Opcode = 0x23 // Pop two, push sum
	OpSub Opcode = 0x24 // Pop two, push difference

	// ========================================================================
	// Bitwise (0x28-0x2F)
	// ========================================================================

	OpRshift Opcode = 0x28 // Pop two, push a >> b
	OpLshift Opcode = 0x29 // Pop two, push a << b
	OpBitAnd Opcode = 0x2A // Pop two, push a & b
	OpBitOr  Opcode = 0x2B // Pop two, push a | b
	OpBitXor Opcode = 0x2C // Pop two, push a ^ b

	// ========================================================================
	// Relational (0x30-0x3F)
	// ========================================================================

	OpEq           Opcode = 0x30 // Pop two, push a == b
	OpNe           Opcode = 0x31 // Pop two, push a != b
	OpGt           Opcode = 0x32 // Pop two, push a > b
	OpLt           Opcode = 0x33 // Pop two, push a < b
	OpGe           Opcode = 0x34 // Pop two, push a >= b
	OpLe           Opcode = 0x35 // Pop two, push a <= b
	OpGlobMatch    Opcode = 0x36 // Pop subject and pattern, push match
	OpGlobNotMatch Opcode = 0x37 // Pop subject and pattern, push !match

	// ========================================================================
	// Unary (0x40-0x4F)
	// ========================================================================

	OpUnaryPlus  Opcode = 0x40 // Numeric identity
	OpUnaryMinus Opcode = 0x41 // Negate
	OpNot        Opcode = 0x42 // Logical not, pushes 0 or 1
	OpBitNot     Opcode = 0x43 // Bitwise complement
	OpToBool     Opcode = 0x44 // Replace TOS with 0 or 1

	// ========================================================================
	// Jumps (0x50-0x5F)
	// Offsets are signed, in instructions, relative to the next instruction.
	// ========================================================================

	OpJump        Opcode = 0x50 // Unconditional jump
	OpJumpIfFalse Opcode = 0x51 // Jump if TOS is false (TOS kept as 0), else pop
	OpJumpIfTrue  Opcode = 0x52 // Jump if TOS is true (TOS kept as 1), else pop
)

// OperandKind describes how an instruction's operand is interpreted.
type OperandKind uint8

const (
	OperandNone    OperandKind = iota // operand must be zero
	OperandLiteral                    // literal pool index
	OperandField                      // field table index
	OperandJump                       // signed relative offset
)

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name      string
	StackPop  int
	StackPush int
	Operand   OperandKind
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpReturn: {"RETURN", 1, 0, OperandNone},

	OpPushLiteral: {"PUSH_LITERAL", 0, 1, OperandLiteral},
	OpLoadField:   {"LOAD_FIELD", 0, 1, OperandField},

	OpMul: {"MUL", 2, 1, OperandNone},
	OpDiv: {"DIV", 2, 1, OperandNone},
	OpMod: {"MOD", 2, 1, OperandNone},
	OpAdd: {"ADD", 2, 1, OperandNone},
	OpSub: {"SUB", 2, 1, OperandNone},

	OpRshift: {"RSHIFT", 2, 1, OperandNone},
	OpLshift: {"LSHIFT", 2, 1, OperandNone},
	OpBitAnd: {"BIT_AND", 2, 1, OperandNone},
	OpBitOr:  {"BIT_OR", 2, 1, OperandNone},
	OpBitXor: {"BIT_XOR", 2, 1, OperandNone},

	OpEq:           {"EQ", 2, 1, OperandNone},
	OpNe:           {"NE", 2, 1, OperandNone},
	OpGt:           {"GT", 2, 1, OperandNone},
	OpLt:           {"LT", 2, 1, OperandNone},
	OpGe:           {"GE", 2, 1, OperandNone},
	OpLe:           {"LE", 2, 1, OperandNone},
	OpGlobMatch:    {"GLOB_MATCH", 2, 1, OperandNone},
	OpGlobNotMatch: {"GLOB_NOT_MATCH", 2, 1, OperandNone},

	OpUnaryPlus:  {"UNARY_PLUS", 1, 1, OperandNone},
	OpUnaryMinus: {"UNARY_MINUS", 1, 1, OperandNone},
	OpNot:        {"NOT", 1, 1, OperandNone},
	OpBitNot:     {"BIT_NOT", 1, 1, OperandNone},
	OpToBool:     {"TO_BOOL", 1, 1, OperandNone},

	// Conditional jumps pop on the fall-through path only; the table
	// records the fall-through effect.
	OpJump:        {"JUMP", 0, 0, OperandJump},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, 0, OperandJump},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 1, 0, OperandJump},
}

// GetOpcodeInfo returns metadata for an opcode.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// OperandKind returns how the operand of op is interpreted.
func (op Opcode) OperandKind() OperandKind {
	return GetOpcodeInfo(op).Operand
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfTrue
}

// IsConditionalJump returns true for the short-circuit jumps.
func (op Opcode) IsConditionalJump() bool {
	return op == OpJumpIfFalse || op == OpJumpIfTrue
}

// IsComparison returns true if the opcode always pushes a boolean.
func (op Opcode) IsComparison() bool {
	return op >= OpEq && op <= OpGlobNotMatch
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
