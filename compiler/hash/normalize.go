package hash

import (
	"bytes"

	"github.com/chazu/tracefilter/compiler"
)

// ---------------------------------------------------------------------------
// IR normalization for fingerprinting
//
// Lowering already canonicalizes literal/field comparisons. Normalization
// additionally orders the operands of commutative operators, so that
// "a == b" and "b == a" share a fingerprint. Logical operators keep their
// order: short-circuiting makes them observably non-commutative.
// ---------------------------------------------------------------------------

var commutative = map[compiler.BinaryOpKind]bool{
	compiler.BinEq:     true,
	compiler.BinNe:     true,
	compiler.BinPlus:   true,
	compiler.BinMul:    true,
	compiler.BinBitAnd: true,
	compiler.BinBitOr:  true,
	compiler.BinBitXor: true,
}

// Normalize returns a copy of node with commutative operands in a fixed
// order. Literal tags sort before field tags, which keeps the lowering's
// literal-first comparisons stable. The input tree is not modified.
func Normalize(node compiler.IrNode) compiler.IrNode {
	switch n := node.(type) {
	case *compiler.IrRoot:
		return &compiler.IrRoot{Child: Normalize(n.Child)}

	case *compiler.IrUnary:
		return &compiler.IrUnary{Op: n.Op, Child: Normalize(n.Child)}

	case *compiler.IrLogical:
		return &compiler.IrLogical{Op: n.Op, Left: Normalize(n.Left), Right: Normalize(n.Right)}

	case *compiler.IrBinary:
		left, right := Normalize(n.Left), Normalize(n.Right)
		// Glob matches keep the pattern on the left.
		if commutative[n.Op] && !n.IsGlobMatch() && bytes.Compare(Serialize(left), Serialize(right)) > 0 {
			left, right = right, left
		}
		return &compiler.IrBinary{Op: n.Op, Class: n.Class, Left: left, Right: right}

	default:
		// Literals and fields are immutable leaves.
		return node
	}
}
