// Package bytecode defines the filter bytecode: a linear stack-machine
// program that tracer probes evaluate once per event to decide whether the
// event is recorded.
//
// The format is designed for:
//   - Fixed-width instructions (1-byte opcode + 4-byte operand)
//   - Bounded, forward-only control flow (every jump lands inside the program)
//   - A byte-stable encoding, since programs cross into kernel and
//     real-time probe code
//
// # Architecture Overview
//
// The package consists of several components:
//
//   - Opcodes: loads, arithmetic, bitwise, relational, glob match, unary
//     operators, short-circuit jumps, and RETURN.
//
//   - Program: instructions plus a deduplicated literal pool, a field
//     reference table, and a relocation table listing every LOAD_FIELD.
//     Programs serialize to the "TFBC" format and are verified on decode.
//
//   - Assembler: builds a Program with interned literals and fields and
//     symbolic labels. Jump offsets are resolved by Finish once all code
//     is known.
//
//   - VM: a reference interpreter used by tests and tooling. It counts field
//     lookups so short-circuit behavior can be observed.
//
// # Binary Layout
//
//	header   magic "TFBC" | version u16 | instr_count u32 | literal_count u16 | field_count u16
//	literals tag u8 (1=int64, 2=float64, 3=string) | value (8 bytes, or u16 len + bytes)
//	fields   u16 len | path bytes | u16 index
//	code     opcode u8 | operand i32
//
// All integers are little-endian. Jump operands are signed offsets in
// instructions, relative to the instruction after the jump.
//
// # Jump Semantics
//
// JUMP_IF_FALSE and JUMP_IF_TRUE inspect the top of the stack. When the
// jump is taken the value stays on the stack, normalized to 0 or 1, and
// becomes the result of the enclosing && or ||. Otherwise it is popped and
// the right operand is evaluated.
package bytecode
