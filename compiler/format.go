package compiler

import (
	"strings"
)

var binaryPrec = func() map[BinaryOpKind]int {
	m := make(map[BinaryOpKind]int, len(binaryOps))
	for _, info := range binaryOps {
		m[info.op] = info.prec
	}
	return m
}()

// Format re-renders a filter expression in canonical layout: one space
// around binary operators, none after prefix operators, and only the
// parentheses precedence requires. Literals keep their source spelling.
// Format does not validate; it fails only on lex and parse errors.
func Format(source string) (string, error) {
	ast, err := ParseString(source)
	if err != nil {
		return "", err
	}
	f := &formatter{ast: ast}
	f.expr(ast.Root().Child)
	return f.b.String(), nil
}

type formatter struct {
	ast *Ast
	b   strings.Builder
}

func (f *formatter) write(s string) {
	f.b.WriteString(s)
}

// operand writes id, parenthesized when it binds looser than prec allows.
func (f *formatter) operand(id NodeID, minPrec int) {
	id = f.ast.Unparen(id)
	if bin, ok := f.ast.Node(id).(*BinaryOp); ok && binaryPrec[bin.Op] < minPrec {
		f.write("(")
		f.expr(id)
		f.write(")")
		return
	}
	f.expr(id)
}

func (f *formatter) expr(id NodeID) {
	id = f.ast.Unparen(id)
	switch n := f.ast.Node(id).(type) {
	case *BinaryOp:
		prec := binaryPrec[n.Op]
		f.operand(n.Left, prec)
		f.write(" ")
		f.write(n.Op.String())
		f.write(" ")
		// Left-associative: an equal-precedence right operand keeps its parens.
		f.operand(n.Right, prec+1)
	case *UnaryOp:
		f.write(n.Op.String())
		f.operand(n.Child, len(binaryPrec)+1)
	case *Expression:
		f.chain(id)
	}
}

func (f *formatter) chain(head NodeID) {
	for i, seg := range f.ast.Segments(head) {
		e := f.ast.Expr(seg)
		if i > 0 {
			f.write(e.PreOp.String())
		}
		switch e.Kind {
		case ExprString:
			f.write(`"` + e.Raw + `"`)
		case ExprNested:
			f.write("(")
			f.expr(e.Child)
			f.write(")")
		default:
			f.write(e.Raw)
		}
		for _, idx := range f.ast.Brackets(seg) {
			f.write("[")
			f.expr(idx)
			f.write("]")
		}
	}
}
