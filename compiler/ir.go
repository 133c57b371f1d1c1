package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/tracefilter/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// IR: lowered operator tree
// ---------------------------------------------------------------------------

// DataType is the result type hint an IR node carries for code generation.
type DataType int

const (
	DataUnknown DataType = iota
	DataNumeric
	DataFloat
	DataString
	DataFieldRef
	DataBoolean
)

func (t DataType) String() string {
	switch t {
	case DataNumeric:
		return "numeric"
	case DataFloat:
		return "float"
	case DataString:
		return "string"
	case DataFieldRef:
		return "field"
	case DataBoolean:
		return "boolean"
	}
	return "unknown"
}

// OpClass groups binary IR operators.
type OpClass int

const (
	ClassArithmetic OpClass = iota
	ClassBitwise
	ClassRelational
)

// IrNode is the closed set of IR node kinds.
type IrNode interface {
	DataType() DataType
	irNode()
}

// IrRoot holds the lowered top-level expression.
type IrRoot struct {
	Child IrNode
}

// IrLiteral loads a constant.
type IrLiteral struct {
	Value bytecode.Literal
	Glob  bool // string is a glob pattern
}

// IrField loads a dynamic field, resolved per event.
type IrField struct {
	Path FieldPath
}

// IrUnary applies a prefix operator.
type IrUnary struct {
	Op    UnaryOpKind
	Child IrNode
}

// IrBinary applies an arithmetic, bitwise or relational operator. A
// relational node whose literal operand is a glob pattern is emitted as a
// pattern match.
type IrBinary struct {
	Op    BinaryOpKind
	Class OpClass
	Left  IrNode
	Right IrNode
}

// IrLogical is && or ||, lowered with short-circuit jumps.
type IrLogical struct {
	Op    BinaryOpKind
	Left  IrNode
	Right IrNode
}

func (n *IrRoot) DataType() DataType { return n.Child.DataType() }

func (n *IrLiteral) DataType() DataType {
	switch n.Value.Kind {
	case bytecode.LiteralString:
		return DataString
	case bytecode.LiteralFloat:
		return DataFloat
	}
	return DataNumeric
}

func (n *IrField) DataType() DataType { return DataFieldRef }

func (n *IrUnary) DataType() DataType {
	if n.Op == UnaryNot {
		return DataBoolean
	}
	if t := n.Child.DataType(); t == DataFloat {
		return DataFloat
	}
	return DataNumeric
}

func (n *IrBinary) DataType() DataType {
	switch {
	case n.Class == ClassRelational:
		return DataBoolean
	case n.Class == ClassBitwise:
		return DataNumeric
	case n.Left.DataType() == DataFloat || n.Right.DataType() == DataFloat:
		return DataFloat
	case n.Left.DataType() == DataNumeric && n.Right.DataType() == DataNumeric:
		return DataNumeric
	}
	return DataUnknown
}

func (n *IrLogical) DataType() DataType { return DataBoolean }

func (*IrRoot) irNode()    {}
func (*IrLiteral) irNode() {}
func (*IrField) irNode()   {}
func (*IrUnary) irNode()   {}
func (*IrBinary) irNode()  {}
func (*IrLogical) irNode() {}

// IsGlobMatch reports whether n compares a field with a glob pattern.
func (n *IrBinary) IsGlobMatch() bool {
	if !n.Op.IsEquality() {
		return false
	}
	lit, ok := n.Left.(*IrLiteral)
	return ok && lit.Glob
}

// ---------------------------------------------------------------------------
// Field paths
// ---------------------------------------------------------------------------

// Scope selects where a field path is resolved.
type Scope int

const (
	ScopeEvent      Scope = iota // event payload
	ScopeContext                 // $ctx: per-event context (procname, vtid, ...)
	ScopeAppContext              // $app: application-defined context
)

func (s Scope) prefix() string {
	switch s {
	case ScopeContext:
		return "$ctx"
	case ScopeAppContext:
		return "$app"
	}
	return ""
}

// PathSegment is one element of a field path: a name or an array index.
type PathSegment struct {
	Name    string
	Index   uint64
	IsIndex bool
}

// FieldPath is a flattened, statically well-formed access chain.
type FieldPath struct {
	Scope    Scope
	Segments []PathSegment
}

// Key renders the canonical resolution key, e.g. "a.b[3]", "$ctx.procname"
// or "$app.provider:ctx".
func (p FieldPath) Key() string {
	var b strings.Builder
	b.WriteString(p.Scope.prefix())
	for _, seg := range p.Segments {
		if seg.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.FormatUint(seg.Index, 10))
			b.WriteByte(']')
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Name)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Lowering
// ---------------------------------------------------------------------------

// Lower converts a validated Ast into an IR tree.
func Lower(a *Ast) (*IrRoot, error) {
	child, err := lowerNode(a, a.Root().Child)
	if err != nil {
		return nil, err
	}
	return &IrRoot{Child: child}, nil
}

func lowerNode(a *Ast, id NodeID) (IrNode, error) {
	switch n := a.Node(id).(type) {
	case *Expression:
		return lowerExpression(a, id, n)

	case *UnaryOp:
		child, err := lowerNode(a, n.Child)
		if err != nil {
			return nil, err
		}
		if lit, ok := child.(*IrLiteral); ok {
			if folded, ok := foldUnary(n.Op, lit); ok {
				return folded, nil
			}
		}
		return &IrUnary{Op: n.Op, Child: child}, nil

	case *BinaryOp:
		left, err := lowerNode(a, n.Left)
		if err != nil {
			return nil, err
		}
		right, err := lowerNode(a, n.Right)
		if err != nil {
			return nil, err
		}
		switch {
		case n.Op.IsLogical():
			return &IrLogical{Op: n.Op, Left: left, Right: right}, nil
		case n.Op.IsRelational():
			return canonicalComparison(n.Op, left, right), nil
		case n.Op.IsBitwise():
			return &IrBinary{Op: n.Op, Class: ClassBitwise, Left: left, Right: right}, nil
		default:
			return &IrBinary{Op: n.Op, Class: ClassArithmetic, Left: left, Right: right}, nil
		}

	case *Root:
		panic("compiler: nested Root node")
	default:
		panic(fmt.Sprintf("compiler: unknown node type %T", n))
	}
}

func lowerExpression(a *Ast, id NodeID, e *Expression) (IrNode, error) {
	if e.Next.Valid() || e.NextBracket.Valid() || e.Kind == ExprIdentifier || e.Kind == ExprGlobalIdentifier {
		path, err := flattenChain(a, id)
		if err != nil {
			return nil, err
		}
		return &IrField{Path: path}, nil
	}

	switch e.Kind {
	case ExprString:
		return &IrLiteral{Value: bytecode.StringLiteral(e.Str), Glob: e.Glob}, nil
	case ExprConstant:
		return &IrLiteral{Value: bytecode.IntLiteral(int64(e.Int))}, nil
	case ExprFloatConstant:
		return &IrLiteral{Value: bytecode.FloatLiteral(e.Float)}, nil
	case ExprNested:
		return lowerNode(a, e.Child)
	}
	panic(fmt.Sprintf("compiler: unknown expression kind %s", e.Kind))
}

// flattenChain turns a linked access chain into a FieldPath.
func flattenChain(a *Ast, head NodeID) (FieldPath, error) {
	var path FieldPath
	segs := a.Segments(head)

	first := a.Expr(head)
	switch first.Kind {
	case ExprIdentifier:
		path.Scope = ScopeEvent
	case ExprGlobalIdentifier:
		switch first.Str {
		case "$ctx":
			path.Scope = ScopeContext
		case "$app":
			path.Scope = ScopeAppContext
		default:
			return path, lowerError(first.Pos, "unknown global identifier %s (expected $ctx or $app)", first.Str)
		}
	default:
		return path, lowerError(first.Pos, "field access on a %s is not a field reference", first.Kind)
	}

	for i, seg := range segs {
		e := a.Expr(seg)
		if i > 0 || path.Scope == ScopeEvent {
			if strings.Contains(e.Str, ":") && path.Scope != ScopeAppContext {
				return path, lowerError(e.Pos, "'provider:name' segments are only valid under $app")
			}
			path.Segments = append(path.Segments, PathSegment{Name: e.Str})
		}
		for _, idx := range a.Brackets(seg) {
			if i == 0 && path.Scope != ScopeEvent {
				return path, lowerError(a.Pos(idx), "%s cannot be indexed", first.Str)
			}
			v, err := constantIndex(a, idx)
			if err != nil {
				return path, err
			}
			path.Segments = append(path.Segments, PathSegment{Index: v, IsIndex: true})
		}
	}

	switch path.Scope {
	case ScopeContext:
		if len(path.Segments) == 0 || path.Segments[0].IsIndex {
			return path, lowerError(first.Pos, "$ctx must be followed by a context name")
		}
	case ScopeAppContext:
		if len(path.Segments) == 0 || !strings.Contains(path.Segments[0].Name, ":") {
			return path, lowerError(first.Pos, "$app must be followed by provider:context")
		}
	}
	return path, nil
}

// constantIndex resolves a bracket expression to a non-negative integer.
func constantIndex(a *Ast, id NodeID) (uint64, error) {
	id = a.Unparen(id)
	e := a.Expr(id)
	if e == nil || e.Kind != ExprConstant || e.Next.Valid() || e.NextBracket.Valid() {
		return 0, lowerError(a.Pos(id), "array index must be an unsigned integer constant")
	}
	return e.Int, nil
}

// foldUnary folds + and - applied to numeric literals.
func foldUnary(op UnaryOpKind, lit *IrLiteral) (*IrLiteral, bool) {
	switch lit.Value.Kind {
	case bytecode.LiteralInt:
		switch op {
		case UnaryPlus:
			return lit, true
		case UnaryMinus:
			if lit.Value.Int == math.MinInt64 {
				return nil, false
			}
			return &IrLiteral{Value: bytecode.IntLiteral(-lit.Value.Int)}, true
		}
	case bytecode.LiteralFloat:
		switch op {
		case UnaryPlus:
			return lit, true
		case UnaryMinus:
			return &IrLiteral{Value: bytecode.FloatLiteral(-lit.Value.Float)}, true
		}
	}
	return nil, false
}

var mirrored = map[BinaryOpKind]BinaryOpKind{
	BinEq: BinEq, BinNe: BinNe,
	BinGt: BinLt, BinLt: BinGt,
	BinGe: BinLe, BinLe: BinGe,
}

// canonicalComparison places a literal operand before a field operand,
// mirroring the operator when the operands swap.
func canonicalComparison(op BinaryOpKind, left, right IrNode) *IrBinary {
	_, lf := left.(*IrField)
	_, rl := right.(*IrLiteral)
	if lf && rl {
		left, right = right, left
		op = mirrored[op]
	}
	return &IrBinary{Op: op, Class: ClassRelational, Left: left, Right: right}
}

// ---------------------------------------------------------------------------
// Debug rendering
// ---------------------------------------------------------------------------

// FormatIR renders an IR tree as an S-expression.
func FormatIR(n IrNode) string {
	var b strings.Builder
	formatIR(&b, n)
	return b.String()
}

func formatIR(b *strings.Builder, n IrNode) {
	switch n := n.(type) {
	case *IrRoot:
		formatIR(b, n.Child)
	case *IrLiteral:
		if n.Glob {
			b.WriteString("glob:")
		}
		b.WriteString(n.Value.String())
	case *IrField:
		b.WriteString("field(" + n.Path.Key() + ")")
	case *IrUnary:
		fmt.Fprintf(b, "(%s", n.Op)
		formatIR(b, n.Child)
		b.WriteByte(')')
	case *IrBinary:
		fmt.Fprintf(b, "(%s ", n.Op)
		formatIR(b, n.Left)
		b.WriteByte(' ')
		formatIR(b, n.Right)
		b.WriteByte(')')
	case *IrLogical:
		fmt.Fprintf(b, "(%s ", n.Op)
		formatIR(b, n.Left)
		b.WriteByte(' ')
		formatIR(b, n.Right)
		b.WriteByte(')')
	default:
		panic(fmt.Sprintf("compiler: unknown IR node %T", n))
	}
}
