package compiler

import (
	"fmt"

	"github.com/chazu/tracefilter/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Code generation: IR to bytecode
// ---------------------------------------------------------------------------

var unaryOpcodes = map[UnaryOpKind]bytecode.Opcode{
	UnaryPlus:   bytecode.OpUnaryPlus,
	UnaryMinus:  bytecode.OpUnaryMinus,
	UnaryNot:    bytecode.OpNot,
	UnaryBitNot: bytecode.OpBitNot,
}

var binaryOpcodes = map[BinaryOpKind]bytecode.Opcode{
	BinMul:    bytecode.OpMul,
	BinDiv:    bytecode.OpDiv,
	BinMod:    bytecode.OpMod,
	BinPlus:   bytecode.OpAdd,
	BinMinus:  bytecode.OpSub,
	BinRshift: bytecode.OpRshift,
	BinLshift: bytecode.OpLshift,
	BinBitAnd: bytecode.OpBitAnd,
	BinBitOr:  bytecode.OpBitOr,
	BinBitXor: bytecode.OpBitXor,
	BinEq:     bytecode.OpEq,
	BinNe:     bytecode.OpNe,
	BinGt:     bytecode.OpGt,
	BinLt:     bytecode.OpLt,
	BinGe:     bytecode.OpGe,
	BinLe:     bytecode.OpLe,
}

// Generator emits bytecode for an IR tree.
type Generator struct {
	asm *bytecode.Assembler
}

// Generate emits the program for root. The only failures are resource
// limits, reported as emit-stage errors.
func Generate(root *IrRoot, limits Limits) (*bytecode.Program, error) {
	g := &Generator{asm: bytecode.NewAssembler(limits.assemblerLimits())}
	if err := g.emit(root.Child); err != nil {
		return nil, emitError(err)
	}
	if _, err := g.asm.Emit(bytecode.OpReturn, 0); err != nil {
		return nil, emitError(err)
	}
	return g.asm.Finish(), nil
}

func (g *Generator) emit(n IrNode) error {
	switch n := n.(type) {
	case *IrLiteral:
		return g.asm.EmitLiteral(n.Value)

	case *IrField:
		return g.asm.EmitField(n.Path.Key())

	case *IrUnary:
		if err := g.emit(n.Child); err != nil {
			return err
		}
		_, err := g.asm.Emit(unaryOpcodes[n.Op], 0)
		return err

	case *IrBinary:
		if err := g.emit(n.Left); err != nil {
			return err
		}
		if err := g.emit(n.Right); err != nil {
			return err
		}
		op := binaryOpcodes[n.Op]
		if n.IsGlobMatch() {
			op = bytecode.OpGlobMatch
			if n.Op == BinNe {
				op = bytecode.OpGlobNotMatch
			}
		}
		_, err := g.asm.Emit(op, 0)
		return err

	case *IrLogical:
		// left; JUMP_IF_FALSE/TRUE end; right; [TO_BOOL]; end:
		if err := g.emit(n.Left); err != nil {
			return err
		}
		end := g.asm.NewLabel()
		jump := bytecode.OpJumpIfFalse
		if n.Op == BinLogicalOr {
			jump = bytecode.OpJumpIfTrue
		}
		if err := g.asm.EmitJump(jump, end); err != nil {
			return err
		}
		if err := g.emit(n.Right); err != nil {
			return err
		}
		if n.Right.DataType() != DataBoolean {
			if _, err := g.asm.Emit(bytecode.OpToBool, 0); err != nil {
				return err
			}
		}
		g.asm.Bind(end)
		return nil

	case *IrRoot:
		return g.emit(n.Child)
	default:
		panic(fmt.Sprintf("compiler: unknown IR node %T", n))
	}
}
