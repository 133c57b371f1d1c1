package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// AST: arena-owned syntax tree for filter expressions
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// NodeID is a handle into an Ast's node arena.
type NodeID int32

// NoNode is the absent handle.
const NoNode NodeID = -1

// Valid reports whether id refers to a node.
func (id NodeID) Valid() bool { return id >= 0 }

// Node is the closed set of AST node kinds: *Root, *Expression, *BinaryOp
// and *UnaryOp.
type Node interface {
	header() *NodeHeader
	clone() Node
}

// NodeHeader holds the fields common to every node.
type NodeHeader struct {
	Pos    Position
	Parent NodeID // set by LinkParents
}

func (h *NodeHeader) header() *NodeHeader { return h }

// ---------------------------------------------------------------------------
// Operator and link kinds
// ---------------------------------------------------------------------------

// BinaryOpKind is a binary operator.
type BinaryOpKind int

const (
	BinMul BinaryOpKind = iota
	BinDiv
	BinMod
	BinPlus
	BinMinus
	BinRshift
	BinLshift
	BinLogicalAnd
	BinLogicalOr
	BinBitAnd
	BinBitOr
	BinBitXor
	BinEq
	BinNe
	BinGt
	BinLt
	BinGe
	BinLe
)

var binaryOpNames = [...]string{
	BinMul: "*", BinDiv: "/", BinMod: "%", BinPlus: "+", BinMinus: "-",
	BinRshift: ">>", BinLshift: "<<",
	BinLogicalAnd: "&&", BinLogicalOr: "||",
	BinBitAnd: "&", BinBitOr: "|", BinBitXor: "^",
	BinEq: "==", BinNe: "!=", BinGt: ">", BinLt: "<", BinGe: ">=", BinLe: "<=",
}

func (op BinaryOpKind) String() string {
	if int(op) >= 0 && int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// IsRelational reports whether op is an equality or ordering comparison.
func (op BinaryOpKind) IsRelational() bool { return op >= BinEq && op <= BinLe }

// IsEquality reports whether op is == or !=.
func (op BinaryOpKind) IsEquality() bool { return op == BinEq || op == BinNe }

// IsLogical reports whether op is && or ||.
func (op BinaryOpKind) IsLogical() bool { return op == BinLogicalAnd || op == BinLogicalOr }

// IsArithmetic reports whether op is * / % + -.
func (op BinaryOpKind) IsArithmetic() bool { return op >= BinMul && op <= BinMinus }

// IsBitwise reports whether op is a shift or bitwise operator.
func (op BinaryOpKind) IsBitwise() bool {
	return op == BinRshift || op == BinLshift || op == BinBitAnd || op == BinBitOr || op == BinBitXor
}

// UnaryOpKind is a prefix operator.
type UnaryOpKind int

const (
	UnaryPlus UnaryOpKind = iota
	UnaryMinus
	UnaryNot
	UnaryBitNot
)

func (op UnaryOpKind) String() string {
	switch op {
	case UnaryPlus:
		return "+"
	case UnaryMinus:
		return "-"
	case UnaryNot:
		return "!"
	case UnaryBitNot:
		return "~"
	}
	return fmt.Sprintf("UnaryOp(%d)", int(op))
}

// ExprKind discriminates Expression leaves.
type ExprKind int

const (
	ExprString ExprKind = iota
	ExprConstant
	ExprFloatConstant
	ExprIdentifier
	ExprGlobalIdentifier
	ExprNested
)

func (k ExprKind) String() string {
	switch k {
	case ExprString:
		return "string"
	case ExprConstant:
		return "constant"
	case ExprFloatConstant:
		return "float"
	case ExprIdentifier:
		return "identifier"
	case ExprGlobalIdentifier:
		return "global identifier"
	case ExprNested:
		return "nested expression"
	}
	return fmt.Sprintf("ExprKind(%d)", int(k))
}

// LinkKind is the access operator joining chain segments.
type LinkKind int

const (
	LinkNone LinkKind = iota
	LinkDot
	LinkArrow
	LinkBracket
)

func (k LinkKind) String() string {
	switch k {
	case LinkDot:
		return "."
	case LinkArrow:
		return "->"
	case LinkBracket:
		return "[]"
	}
	return ""
}

// ---------------------------------------------------------------------------
// Node kinds
// ---------------------------------------------------------------------------

// Root holds the top-level expression.
type Root struct {
	NodeHeader
	Child NodeID
}

// Expression is a leaf or a segment of a postfix access chain.
//
// A chain a.b[c].d is referenced through its head segment a. Segments are
// linked by Next/Prev; a segment reached through '.' or '->' records that
// link as PreOp and its predecessor records it as PostOp. Bracket indexes
// hang off the segment they index through NextBracket; each is a Nested
// expression with PreOp LinkBracket whose Child is the index expression.
type Expression struct {
	NodeHeader
	Kind   ExprKind
	PreOp  LinkKind
	PostOp LinkKind

	Raw   string  // lexeme; for strings, the undecoded text between quotes
	Str   string  // identifier name, or decoded string value
	Int   uint64  // ExprConstant
	Float float64 // ExprFloatConstant

	Child       NodeID // ExprNested
	Prev        NodeID
	Next        NodeID
	NextBracket NodeID

	Glob bool // string literal is a glob pattern
}

// BinaryOp is a binary operator application.
type BinaryOp struct {
	NodeHeader
	Op    BinaryOpKind
	Left  NodeID
	Right NodeID
}

// UnaryOp is a prefix operator application.
type UnaryOp struct {
	NodeHeader
	Op    UnaryOpKind
	Child NodeID
}

func (n *Root) clone() Node       { c := *n; return &c }
func (n *Expression) clone() Node { c := *n; return &c }
func (n *BinaryOp) clone() Node   { c := *n; return &c }
func (n *UnaryOp) clone() Node    { c := *n; return &c }

// ---------------------------------------------------------------------------
// Ast arena
// ---------------------------------------------------------------------------

// Ast owns every node of one parsed expression. Nodes are valid exactly as
// long as the Ast is reachable.
type Ast struct {
	Source string
	nodes  []Node
	root   NodeID
}

func newAst(source string) *Ast {
	return &Ast{Source: source, nodes: make([]Node, 0, 16), root: NoNode}
}

func (a *Ast) add(n Node) NodeID {
	h := n.header()
	h.Parent = NoNode
	a.nodes = append(a.nodes, n)
	return NodeID(len(a.nodes) - 1)
}

func (a *Ast) newExpr(kind ExprKind, pos Position) (NodeID, *Expression) {
	e := &Expression{
		NodeHeader:  NodeHeader{Pos: pos},
		Kind:        kind,
		Child:       NoNode,
		Prev:        NoNode,
		Next:        NoNode,
		NextBracket: NoNode,
	}
	return a.add(e), e
}

// Len returns the number of nodes in the arena.
func (a *Ast) Len() int { return len(a.nodes) }

// RootID returns the handle of the Root node.
func (a *Ast) RootID() NodeID { return a.root }

// Root returns the Root node.
func (a *Ast) Root() *Root { return a.nodes[a.root].(*Root) }

// Node returns the node for id. An invalid handle is an internal defect.
func (a *Ast) Node(id NodeID) Node {
	if id < 0 || int(id) >= len(a.nodes) {
		panic(fmt.Sprintf("compiler: node handle %d out of range (arena size %d)", id, len(a.nodes)))
	}
	return a.nodes[id]
}

// Expr returns the Expression for id, or nil if id is another node kind.
func (a *Ast) Expr(id NodeID) *Expression {
	e, _ := a.Node(id).(*Expression)
	return e
}

// Pos returns the source position of id.
func (a *Ast) Pos(id NodeID) Position { return a.Node(id).header().Pos }

// Parent returns the parent handle recorded by LinkParents.
func (a *Ast) Parent(id NodeID) NodeID { return a.Node(id).header().Parent }

// Clone returns an independent copy of the arena. Handles remain valid
// across the copy.
func (a *Ast) Clone() *Ast {
	c := &Ast{Source: a.Source, nodes: make([]Node, len(a.nodes)), root: a.root}
	for i, n := range a.nodes {
		c.nodes[i] = n.clone()
	}
	return c
}

// Children returns the handles id refers to, in source order.
func (a *Ast) Children(id NodeID) []NodeID {
	var out []NodeID
	switch n := a.Node(id).(type) {
	case *Root:
		out = append(out, n.Child)
	case *Expression:
		if n.Child.Valid() {
			out = append(out, n.Child)
		}
		if n.NextBracket.Valid() {
			out = append(out, n.NextBracket)
		}
		if n.Next.Valid() {
			out = append(out, n.Next)
		}
	case *BinaryOp:
		out = append(out, n.Left, n.Right)
	case *UnaryOp:
		out = append(out, n.Child)
	default:
		panic(fmt.Sprintf("compiler: unknown node type %T", n))
	}
	return out
}

// LinkParents records the parent handle of every node reachable from the
// root. Reaching a node twice means the tree is corrupt and panics.
func (a *Ast) LinkParents() {
	for _, n := range a.nodes {
		n.header().Parent = NoNode
	}
	seen := make([]bool, len(a.nodes))
	var visit func(id NodeID)
	visit = func(id NodeID) {
		for _, c := range a.Children(id) {
			if seen[c] {
				panic(fmt.Sprintf("compiler: node %d has more than one parent", c))
			}
			seen[c] = true
			a.nodes[c].header().Parent = id
			visit(c)
		}
	}
	seen[a.root] = true
	visit(a.root)
}

// Segments returns the chain starting at head, in source order.
func (a *Ast) Segments(head NodeID) []NodeID {
	var segs []NodeID
	for id := head; id.Valid(); id = a.Expr(id).Next {
		segs = append(segs, id)
	}
	return segs
}

// Brackets returns the bracket index expressions attached to segment id.
func (a *Ast) Brackets(id NodeID) []NodeID {
	var out []NodeID
	for b := a.Expr(id).NextBracket; b.Valid(); b = a.Expr(b).NextBracket {
		out = append(out, a.Expr(b).Child)
	}
	return out
}

// IsFieldRef reports whether id is an access chain rooted at an identifier.
func (a *Ast) IsFieldRef(id NodeID) bool {
	e := a.Expr(id)
	return e != nil && (e.Kind == ExprIdentifier || e.Kind == ExprGlobalIdentifier)
}

// Unparen strips Nested wrappers that carry no access chain.
func (a *Ast) Unparen(id NodeID) NodeID {
	for {
		e := a.Expr(id)
		if e == nil || e.Kind != ExprNested || e.Next.Valid() || e.NextBracket.Valid() {
			return id
		}
		id = e.Child
	}
}

// String renders the tree as an S-expression, for tests and debugging.
func (a *Ast) String() string {
	if !a.root.Valid() {
		return "<empty>"
	}
	var b strings.Builder
	a.format(&b, a.Root().Child)
	return b.String()
}

func (a *Ast) format(b *strings.Builder, id NodeID) {
	switch n := a.Node(id).(type) {
	case *Root:
		a.format(b, n.Child)
	case *BinaryOp:
		fmt.Fprintf(b, "(%s ", n.Op)
		a.format(b, n.Left)
		b.WriteByte(' ')
		a.format(b, n.Right)
		b.WriteByte(')')
	case *UnaryOp:
		fmt.Fprintf(b, "(%s", n.Op)
		a.format(b, n.Child)
		b.WriteByte(')')
	case *Expression:
		for i, seg := range a.Segments(id) {
			e := a.Expr(seg)
			if i > 0 {
				b.WriteString(e.PreOp.String())
			}
			a.formatLeaf(b, e)
			for _, idx := range a.Brackets(seg) {
				b.WriteByte('[')
				a.format(b, idx)
				b.WriteByte(']')
			}
		}
	default:
		panic(fmt.Sprintf("compiler: unknown node type %T", n))
	}
}

func (a *Ast) formatLeaf(b *strings.Builder, e *Expression) {
	switch e.Kind {
	case ExprString:
		if e.Glob {
			b.WriteString("glob:")
		}
		b.WriteString(strconv.Quote(e.Str))
	case ExprConstant:
		b.WriteString(strconv.FormatUint(e.Int, 10))
	case ExprFloatConstant:
		b.WriteString(strconv.FormatFloat(e.Float, 'g', -1, 64))
	case ExprIdentifier, ExprGlobalIdentifier:
		b.WriteString(e.Str)
	case ExprNested:
		b.WriteByte('{')
		a.format(b, e.Child)
		b.WriteByte('}')
	}
}
