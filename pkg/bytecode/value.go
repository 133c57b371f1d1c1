package bytecode

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mb0/glob"
)

// Runtime errors. A filter that fails at runtime does not match.
var (
	ErrFieldNotFound  = errors.New("field not found")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrDivideByZero   = errors.New("division by zero")
	ErrBadShift       = errors.New("shift count out of range")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
)

// ValueKind is the dynamic type of a runtime value.
type ValueKind uint8

const (
	KindInt ValueKind = iota
	KindFloat
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// Value is an event field value or an intermediate result.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Str   string
}

func Int(v int64) Value     { return Value{Kind: KindInt, Int: v} }
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool returns the canonical 0/1 integer for b.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// FromLiteral converts a pool entry to a runtime value.
func FromLiteral(l Literal) Value {
	switch l.Kind {
	case LiteralInt:
		return Int(l.Int)
	case LiteralFloat:
		return Float(l.Float)
	default:
		return String(l.Str)
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	default:
		return fmt.Sprintf("%q", v.Str)
	}
}

func (v Value) numeric() bool { return v.Kind == KindInt || v.Kind == KindFloat }

func (v Value) asFloat() float64 {
	if v.Kind == KindFloat {
		return v.Float
	}
	return float64(v.Int)
}

// Truthy reports whether v is non-zero. Strings have no truth value.
func (v Value) Truthy() (bool, error) {
	switch v.Kind {
	case KindInt:
		return v.Int != 0, nil
	case KindFloat:
		return v.Float != 0, nil
	default:
		return false, fmt.Errorf("%w: string used as condition", ErrTypeMismatch)
	}
}

// Binary applies an arithmetic, bitwise or relational opcode to a and b.
func Binary(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpMul, OpDiv, OpMod, OpAdd, OpSub:
		return arith(op, a, b)
	case OpRshift, OpLshift, OpBitAnd, OpBitOr, OpBitXor:
		return bitwise(op, a, b)
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe:
		r, err := compare(op, a, b)
		return Bool(r), err
	case OpGlobMatch, OpGlobNotMatch:
		if a.Kind != KindString || b.Kind != KindString {
			return Value{}, fmt.Errorf("%w: glob match on %s and %s", ErrTypeMismatch, a.Kind, b.Kind)
		}
		m, err := GlobMatch(a.Str, b.Str)
		if err != nil {
			return Value{}, err
		}
		return Bool(m == (op == OpGlobMatch)), nil
	}
	return Value{}, fmt.Errorf("bytecode: %s is not a binary operator", op)
}

func arith(op Opcode, a, b Value) (Value, error) {
	if !a.numeric() || !b.numeric() {
		return Value{}, fmt.Errorf("%w: %s on %s and %s", ErrTypeMismatch, op, a.Kind, b.Kind)
	}
	if a.Kind == KindInt && b.Kind == KindInt {
		x, y := a.Int, b.Int
		switch op {
		case OpMul:
			return Int(x * y), nil
		case OpAdd:
			return Int(x + y), nil
		case OpSub:
			return Int(x - y), nil
		case OpDiv, OpMod:
			if y == 0 {
				return Value{}, ErrDivideByZero
			}
			if op == OpDiv {
				return Int(x / y), nil
			}
			return Int(x % y), nil
		}
	}
	x, y := a.asFloat(), b.asFloat()
	switch op {
	case OpMul:
		return Float(x * y), nil
	case OpAdd:
		return Float(x + y), nil
	case OpSub:
		return Float(x - y), nil
	case OpDiv:
		if y == 0 {
			return Value{}, ErrDivideByZero
		}
		return Float(x / y), nil
	default:
		if y == 0 {
			return Value{}, ErrDivideByZero
		}
		return Float(math.Mod(x, y)), nil
	}
}

func bitwise(op Opcode, a, b Value) (Value, error) {
	if a.Kind != KindInt || b.Kind != KindInt {
		return Value{}, fmt.Errorf("%w: %s on %s and %s", ErrTypeMismatch, op, a.Kind, b.Kind)
	}
	x, y := a.Int, b.Int
	switch op {
	case OpRshift, OpLshift:
		if y < 0 || y > 63 {
			return Value{}, fmt.Errorf("%w: %d", ErrBadShift, y)
		}
		if op == OpRshift {
			return Int(x >> uint(y)), nil
		}
		return Int(x << uint(y)), nil
	case OpBitAnd:
		return Int(x & y), nil
	case OpBitOr:
		return Int(x | y), nil
	default:
		return Int(x ^ y), nil
	}
}

func compare(op Opcode, a, b Value) (bool, error) {
	var c int
	switch {
	case a.Kind == KindString && b.Kind == KindString:
		c = strings.Compare(a.Str, b.Str)
	case a.Kind == KindInt && b.Kind == KindInt:
		c = cmp3(a.Int < b.Int, a.Int > b.Int)
	case a.numeric() && b.numeric():
		x, y := a.asFloat(), b.asFloat()
		c = cmp3(x < y, x > y)
		if math.IsNaN(x) || math.IsNaN(y) {
			return op == OpNe, nil
		}
	default:
		return false, fmt.Errorf("%w: %s on %s and %s", ErrTypeMismatch, op, a.Kind, b.Kind)
	}
	switch op {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpGt:
		return c > 0, nil
	case OpLt:
		return c < 0, nil
	case OpGe:
		return c >= 0, nil
	default:
		return c <= 0, nil
	}
}

func cmp3(lt, gt bool) int {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	}
	return 0
}

// Unary applies a unary opcode to v.
func Unary(op Opcode, v Value) (Value, error) {
	switch op {
	case OpUnaryPlus:
		if !v.numeric() {
			return Value{}, fmt.Errorf("%w: unary + on %s", ErrTypeMismatch, v.Kind)
		}
		return v, nil
	case OpUnaryMinus:
		switch v.Kind {
		case KindInt:
			return Int(-v.Int), nil
		case KindFloat:
			return Float(-v.Float), nil
		}
		return Value{}, fmt.Errorf("%w: unary - on %s", ErrTypeMismatch, v.Kind)
	case OpNot:
		t, err := v.Truthy()
		return Bool(!t), err
	case OpToBool:
		t, err := v.Truthy()
		return Bool(t), err
	case OpBitNot:
		if v.Kind != KindInt {
			return Value{}, fmt.Errorf("%w: ~ on %s", ErrTypeMismatch, v.Kind)
		}
		return Int(^v.Int), nil
	}
	return Value{}, fmt.Errorf("bytecode: %s is not a unary operator", op)
}

// globber matches filter patterns. Event strings cannot hold NUL, so a NUL
// separator lets '*' and '?' cross '/'.
var globber = func() *glob.Globber {
	g, err := glob.New(glob.Config{
		Separator: 0,
		Star:      '*',
		Quest:     '?',
		Range:     '[',
		RangeEnd:  ']',
		RangeNeg:  '!',
	})
	if err != nil {
		panic(err)
	}
	return g
}()

// GlobMatch matches subject against a normalized glob pattern. Patterns may
// escape metacharacters with a backslash. A class is negated by a leading
// '!' or '^'.
func GlobMatch(pattern, subject string) (bool, error) {
	return globber.Match(negationToBang(pattern), subject)
}

// negationToBang rewrites "[^" class openers to "[!".
func negationToBang(pattern string) string {
	if !strings.Contains(pattern, "[^") {
		return pattern
	}
	b := []byte(pattern)
	inClass := false
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == '\\':
			i++
		case inClass:
			if b[i] == ']' {
				inClass = false
			}
		case b[i] == '[':
			inClass = true
			if i+1 < len(b) && b[i+1] == '^' {
				b[i+1] = '!'
				i++
			}
		}
	}
	return string(b)
}
