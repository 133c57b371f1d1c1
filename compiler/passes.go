package compiler

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Validation passes
// ---------------------------------------------------------------------------

// Pass is one semantic check over the AST. A pass never mutates its input;
// passes that rewrite nodes return a new arena.
type Pass struct {
	Name string
	Run  func(*Ast) (*Ast, error)
}

// Passes is the validation pipeline, in execution order.
var Passes = []Pass{
	{"binary-op-nesting", checkBinaryOpNesting},
	{"binary-comparator", checkBinaryComparator},
	{"string-validation", validateStrings},
	{"glob", normalizeGlobs},
}

// Validate runs every pass in order and stops at the first violation.
func Validate(a *Ast) (*Ast, error) {
	var err error
	for _, p := range Passes {
		if a, err = p.Run(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// walk visits id and its descendants in pre-order, stopping at the first error.
func (a *Ast) walk(id NodeID, fn func(id NodeID, n Node) error) error {
	if err := fn(id, a.Node(id)); err != nil {
		return err
	}
	for _, c := range a.Children(id) {
		if err := a.walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Walk visits every node reachable from the root in pre-order.
func (a *Ast) Walk(fn func(id NodeID, n Node) error) error {
	return a.walk(a.root, fn)
}

// ---------------------------------------------------------------------------
// Pass 1: binary operator nesting
// ---------------------------------------------------------------------------

func checkBinaryOpNesting(a *Ast) (*Ast, error) {
	err := a.Walk(func(id NodeID, n Node) error {
		op, ok := n.(*BinaryOp)
		if !ok || !op.Op.IsRelational() {
			return nil
		}
		for _, side := range []NodeID{op.Left, op.Right} {
			inner, ok := a.Node(a.Unparen(side)).(*BinaryOp)
			if ok && inner.Op.IsRelational() {
				return validationError("binary-op-nesting", inner.Pos,
					"comparison '%s' cannot be an operand of '%s'; join comparisons with && or ||",
					inner.Op, op.Op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Pass 2: binary comparator operand kinds
// ---------------------------------------------------------------------------

type operandClass int

const (
	classString operandClass = iota
	classField
	classNumber
	classArithmetic
	classBoolean
)

func (c operandClass) String() string {
	switch c {
	case classString:
		return "string literal"
	case classField:
		return "field"
	case classNumber:
		return "numeric constant"
	case classArithmetic:
		return "arithmetic expression"
	default:
		return "boolean expression"
	}
}

func (a *Ast) classify(id NodeID) operandClass {
	id = a.Unparen(id)
	switch n := a.Node(id).(type) {
	case *Expression:
		if n.Next.Valid() || n.NextBracket.Valid() {
			return classField
		}
		switch n.Kind {
		case ExprString:
			return classString
		case ExprConstant, ExprFloatConstant:
			return classNumber
		case ExprIdentifier, ExprGlobalIdentifier:
			return classField
		}
		return classField
	case *BinaryOp:
		if n.Op.IsRelational() || n.Op.IsLogical() {
			return classBoolean
		}
		return classArithmetic
	case *UnaryOp:
		if n.Op == UnaryNot {
			return classBoolean
		}
		return classArithmetic
	default:
		panic(fmt.Sprintf("compiler: unexpected operand node %T", n))
	}
}

func checkBinaryComparator(a *Ast) (*Ast, error) {
	const pass = "binary-comparator"
	err := a.Walk(func(id NodeID, n Node) error {
		switch n := n.(type) {
		case *Root:
			if a.classify(n.Child) == classString {
				return validationError(pass, a.Pos(n.Child), "string literal requires a comparison context")
			}
		case *BinaryOp:
			l, r := a.classify(n.Left), a.classify(n.Right)
			if l != classString && r != classString {
				return nil
			}
			strSide, other := n.Left, r
			if l != classString {
				strSide, other = n.Right, l
			}
			if !n.Op.IsRelational() {
				return validationError(pass, a.Pos(strSide), "string literal cannot be an operand of '%s'", n.Op)
			}
			if !n.Op.IsEquality() {
				return validationError(pass, n.Pos,
					"strings cannot be ordered with '%s'; use ==, != or a glob pattern", n.Op)
			}
			if other != classString && other != classField {
				return validationError(pass, n.Pos, "cannot compare string literal with %s", other)
			}
		case *UnaryOp:
			if a.classify(n.Child) == classString {
				return validationError(pass, a.Pos(n.Child), "string literal cannot be an operand of unary '%s'", n.Op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Pass 3: string literal validation
// ---------------------------------------------------------------------------

func validateStrings(in *Ast) (*Ast, error) {
	a := in.Clone()
	err := a.Walk(func(id NodeID, n Node) error {
		e, ok := n.(*Expression)
		if !ok || e.Kind != ExprString {
			return nil
		}
		s, err := decodeString(e.Raw, e.Pos)
		if err != nil {
			return err
		}
		e.Str = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// decodeString decodes C escapes in raw. The glob escapes \* \? \[ \] and
// \\ are kept verbatim for the glob pass, and numeric escapes that decode to
// one of those characters are written escaped, so only typed wildcards are
// glob syntax.
func decodeString(raw string, pos Position) (string, error) {
	const pass = "string-validation"
	if raw == "" {
		return "", validationError(pass, pos, "empty string literal")
	}
	if !utf8.ValidString(raw) {
		return "", validationError(pass, pos, "string literal is not valid UTF-8")
	}

	// at returns the position of byte i of raw; +1 skips the opening quote.
	at := func(i int) Position {
		return Position{Offset: pos.Offset + 1 + i, Line: pos.Line, Column: pos.Column + 1 + i}
	}

	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == 0 {
			return "", validationError(pass, at(i), "string literal contains a NUL byte")
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(raw) {
			return "", validationError(pass, at(i), "incomplete escape sequence")
		}
		start := i
		i++
		switch e := raw[i]; e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '"', '\'':
			b.WriteByte(e)
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
			b.WriteByte(e)
		case 'x':
			v, n := 0, 0
			for n < 2 && i+1 < len(raw) && isHexDigit(rune(raw[i+1])) {
				i++
				v = v*16 + hexValue(raw[i])
				n++
			}
			if n == 0 {
				return "", validationError(pass, at(start), "\\x escape has no hex digits")
			}
			if v == 0 {
				return "", validationError(pass, at(start), "string literal contains a NUL byte")
			}
			writeDecoded(&b, byte(v))
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := int(e - '0')
			for n := 1; n < 3 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				v = v*8 + int(raw[i]-'0')
			}
			if v > 0xFF {
				return "", validationError(pass, at(start), "octal escape out of range")
			}
			if v == 0 {
				return "", validationError(pass, at(start), "string literal contains a NUL byte")
			}
			writeDecoded(&b, byte(v))
		default:
			return "", validationError(pass, at(start), "invalid escape sequence '\\%c'", e)
		}
	}
	return b.String(), nil
}

func writeDecoded(b *strings.Builder, c byte) {
	switch c {
	case '*', '?', '[', ']', '\\':
		b.WriteByte('\\')
	}
	b.WriteByte(c)
}

func hexValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}

// ---------------------------------------------------------------------------
// Pass 4: glob normalization and validation
// ---------------------------------------------------------------------------

func normalizeGlobs(in *Ast) (*Ast, error) {
	const pass = "glob"
	a := in.Clone()
	patterns := make(map[NodeID]bool)

	err := a.Walk(func(id NodeID, n Node) error {
		op, ok := n.(*BinaryOp)
		if !ok || !op.Op.IsEquality() {
			return nil
		}
		l, r := a.Unparen(op.Left), a.Unparen(op.Right)
		lit, field := l, r
		if !a.isStringLiteral(lit) {
			lit, field = r, l
		}
		if !a.isStringLiteral(lit) || !a.IsFieldRef(field) {
			return nil
		}
		e := a.Expr(lit)
		if !hasGlobMeta(e.Str) {
			return nil
		}
		if err := ValidateGlob(e.Str); err != nil {
			msg := err.Error()
			if gerr, ok := err.(*globSyntaxError); ok {
				msg = gerr.msg
			}
			return validationError(pass, e.Pos, "invalid glob pattern %q: %s", e.Str, msg)
		}
		e.Str = NormalizeGlob(e.Str)
		e.Glob = true
		patterns[lit] = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = a.Walk(func(id NodeID, n Node) error {
		e, ok := n.(*Expression)
		if !ok || e.Kind != ExprString || patterns[id] {
			return nil
		}
		if hasGlobMeta(e.Str) {
			return validationError(pass, e.Pos,
				"glob pattern %q can only be compared against a field with == or !=", e.Str)
		}
		e.Str = unescapeGlob(e.Str)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Ast) isStringLiteral(id NodeID) bool {
	e := a.Expr(id)
	return e != nil && e.Kind == ExprString && !e.Next.Valid() && !e.NextBracket.Valid()
}
