package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Filter Bytecode v%d\n", p.Version))
	sb.WriteString(fmt.Sprintf("; %d instructions, %d literals, %d fields\n\n",
		len(p.Code), len(p.Literals), len(p.Fields)))

	if len(p.Literals) > 0 {
		sb.WriteString("; Literals:\n")
		for i, lit := range p.Literals {
			sb.WriteString(fmt.Sprintf(";   [%3d] %-7s %s\n", i, lit.Kind, truncate(lit.String())))
		}
		sb.WriteString("\n")
	}

	if len(p.Fields) > 0 {
		sb.WriteString("; Fields:\n")
		for _, f := range p.Fields {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", f.Index, f.Path))
		}
		sb.WriteString("\n")
	}

	for _, line := range p.DisassembleToLines() {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

// DisassembleInstruction renders the instruction at pc without a pc prefix.
func (p *Program) DisassembleInstruction(pc int) string {
	if pc < 0 || pc >= len(p.Code) {
		return fmt.Sprintf("<pc %d out of range>", pc)
	}
	in := p.Code[pc]

	switch in.Op.OperandKind() {
	case OperandLiteral:
		if int(in.Operand) < len(p.Literals) && in.Operand >= 0 {
			return fmt.Sprintf("%s %d ; %s", in.Op, in.Operand, truncate(p.Literals[in.Operand].String()))
		}
		return fmt.Sprintf("%s %d ; <invalid>", in.Op, in.Operand)
	case OperandField:
		if int(in.Operand) < len(p.Fields) && in.Operand >= 0 {
			return fmt.Sprintf("%s %d ; %s", in.Op, in.Operand, p.Fields[in.Operand].Path)
		}
		return fmt.Sprintf("%s %d ; <invalid>", in.Op, in.Operand)
	case OperandJump:
		return fmt.Sprintf("%s %+d (-> %04d)", in.Op, in.Operand, p.JumpTarget(pc))
	default:
		return in.Op.String()
	}
}

// DisassembleToLines returns the instruction listing, one line per instruction.
func (p *Program) DisassembleToLines() []string {
	lines := make([]string, 0, len(p.Code))
	for pc := range p.Code {
		lines = append(lines, fmt.Sprintf("%04d  %s", pc, p.DisassembleInstruction(pc)))
	}
	return lines
}

// Opcodes returns the opcode sequence of the program.
func (p *Program) Opcodes() []Opcode {
	ops := make([]Opcode, len(p.Code))
	for i, in := range p.Code {
		ops[i] = in.Op
	}
	return ops
}

// InstructionCount returns the number of instructions in the program.
func (p *Program) InstructionCount() int {
	return len(p.Code)
}

func truncate(s string) string {
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	s = strings.ReplaceAll(s, "\n", "\\n")
	return strings.ReplaceAll(s, "\t", "\\t")
}
