package bytecode

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// andProgram is `a > 1 && a < 10` in literal-first canonical form.
func andProgram() *Program {
	a := NewAssembler(Limits{})
	end := a.NewLabel()
	a.EmitLiteral(IntLiteral(1))
	a.EmitField("a")
	a.Emit(OpLt, 0)
	a.EmitJump(OpJumpIfFalse, end)
	a.EmitLiteral(IntLiteral(10))
	a.EmitField("a")
	a.Emit(OpGt, 0)
	a.Bind(end)
	a.Emit(OpReturn, 0)
	return a.Finish()
}

func TestVMExecuteComparison(t *testing.T) {
	p := pidProgram()
	vm := NewVM()

	got, err := vm.Execute(p, Fields{"pid": Int(1234)})
	if err != nil || !got {
		t.Errorf("pid=1234: got %v, %v; want true", got, err)
	}
	got, err = vm.Execute(p, Fields{"pid": Int(1)})
	if err != nil || got {
		t.Errorf("pid=1: got %v, %v; want false", got, err)
	}
}

func TestVMShortCircuitAnd(t *testing.T) {
	p := andProgram()
	vm := NewVM()

	tests := []struct {
		a       int64
		want    bool
		lookups int
	}{
		{0, false, 1},
		{5, true, 2},
		{20, false, 2},
	}

	for _, tt := range tests {
		got, err := vm.Execute(p, Fields{"a": Int(tt.a)})
		if err != nil {
			t.Fatalf("a=%d: %v", tt.a, err)
		}
		if got != tt.want {
			t.Errorf("a=%d: got %v, want %v", tt.a, got, tt.want)
		}
		if vm.Stats.FieldLookups != tt.lookups {
			t.Errorf("a=%d: lookups = %d, want %d", tt.a, vm.Stats.FieldLookups, tt.lookups)
		}
	}
}

func TestVMShortCircuitOrSkipsMissingField(t *testing.T) {
	a := NewAssembler(Limits{})
	end := a.NewLabel()
	a.EmitField("x")
	a.EmitJump(OpJumpIfTrue, end)
	a.EmitField("missing")
	a.Emit(OpToBool, 0)
	a.Bind(end)
	a.Emit(OpReturn, 0)
	p := a.Finish()

	vm := NewVM()
	got, err := vm.Execute(p, Fields{"x": Int(7)})
	if err != nil || !got {
		t.Fatalf("got %v, %v; want true", got, err)
	}
	if n := vm.Stats.Lookups["missing"]; n != 0 {
		t.Errorf("right operand looked up %d times", n)
	}

	_, err = vm.Execute(p, Fields{"x": Int(0)})
	if !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("err = %v, want ErrFieldNotFound", err)
	}
}

func TestVMGlobMatch(t *testing.T) {
	a := NewAssembler(Limits{})
	a.EmitLiteral(StringLiteral("foo*"))
	a.EmitField("name")
	a.Emit(OpGlobMatch, 0)
	a.Emit(OpReturn, 0)
	p := a.Finish()

	vm := NewVM()
	for name, want := range map[string]bool{"foo": true, "foobar": true, "barfoo": false} {
		got, err := vm.Execute(p, Fields{"name": String(name)})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Errorf("name=%q: got %v, want %v", name, got, want)
		}
	}
}

func TestVMTypeErrors(t *testing.T) {
	vm := NewVM()
	_, err := vm.Execute(pidProgram(), Fields{"pid": String("x")})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("err = %v, want ErrTypeMismatch", err)
	}
}

func TestVMTrace(t *testing.T) {
	var buf bytes.Buffer
	vm := NewVM()
	vm.Trace = true
	vm.TraceOut = &buf

	if _, err := vm.Execute(pidProgram(), Fields{"pid": Int(1234)}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"PUSH_LITERAL", "LOAD_FIELD 0 ; pid", "EQ", "RETURN"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}
	if vm.Stats.Instructions != 4 {
		t.Errorf("instructions = %d, want 4", vm.Stats.Instructions)
	}
}

func TestBinaryArithmetic(t *testing.T) {
	tests := []struct {
		op   Opcode
		a, b Value
		want Value
	}{
		{OpAdd, Int(2), Int(3), Int(5)},
		{OpSub, Int(2), Int(3), Int(-1)},
		{OpMul, Int(4), Float(0.5), Float(2)},
		{OpDiv, Int(7), Int(2), Int(3)},
		{OpMod, Int(7), Int(2), Int(1)},
		{OpDiv, Float(7), Int(2), Float(3.5)},
		{OpLshift, Int(1), Int(4), Int(16)},
		{OpRshift, Int(-16), Int(2), Int(-4)},
		{OpBitAnd, Int(6), Int(3), Int(2)},
		{OpBitOr, Int(6), Int(3), Int(7)},
		{OpBitXor, Int(6), Int(3), Int(5)},
		{OpLt, Int(1), Float(1.5), Int(1)},
		{OpEq, String("a"), String("a"), Int(1)},
		{OpNe, String("a"), String("b"), Int(1)},
		{OpGe, Int(3), Int(3), Int(1)},
	}

	for _, tt := range tests {
		got, err := Binary(tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%s(%v, %v): %v", tt.op, tt.a, tt.b, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tt.op, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBinaryErrors(t *testing.T) {
	tests := []struct {
		op   Opcode
		a, b Value
		want error
	}{
		{OpDiv, Int(1), Int(0), ErrDivideByZero},
		{OpMod, Float(1), Float(0), ErrDivideByZero},
		{OpAdd, String("a"), Int(1), ErrTypeMismatch},
		{OpBitAnd, Float(1), Int(1), ErrTypeMismatch},
		{OpLshift, Int(1), Int(64), ErrBadShift},
		{OpEq, String("a"), Int(1), ErrTypeMismatch},
	}

	for _, tt := range tests {
		_, err := Binary(tt.op, tt.a, tt.b)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s(%v, %v) err = %v, want %v", tt.op, tt.a, tt.b, err, tt.want)
		}
	}
}

func TestUnary(t *testing.T) {
	tests := []struct {
		op   Opcode
		v    Value
		want Value
	}{
		{OpUnaryMinus, Int(3), Int(-3)},
		{OpUnaryMinus, Float(1.5), Float(-1.5)},
		{OpUnaryPlus, Int(3), Int(3)},
		{OpNot, Int(0), Int(1)},
		{OpNot, Float(2), Int(0)},
		{OpBitNot, Int(0), Int(-1)},
		{OpToBool, Int(42), Int(1)},
	}

	for _, tt := range tests {
		got, err := Unary(tt.op, tt.v)
		if err != nil {
			t.Errorf("%s(%v): %v", tt.op, tt.v, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s(%v) = %v, want %v", tt.op, tt.v, got, tt.want)
		}
	}

	if _, err := Unary(OpNot, String("x")); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("!string err = %v, want ErrTypeMismatch", err)
	}
}

func TestGlobMatchEscapes(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{`a\*`, "a*", true},
		{`a\*`, "ab", false},
		{`a\*b*`, "a*bcd", true},
		{`\?x`, "?x", true},
		{`\?x`, "yx", false},
		{`/usr/\[x*`, "/usr/[xlib/libc.so", true},
	}

	for _, tt := range tests {
		got, err := GlobMatch(tt.pattern, tt.subject)
		if err != nil {
			t.Errorf("GlobMatch(%q, %q): %v", tt.pattern, tt.subject, err)
			continue
		}
		if got != tt.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}

func TestGlobMatchSyntax(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"/usr/*", "/usr/lib/libc.so", true},
		{"/usr/*.so", "/usr/lib/libc.so", true},
		{"/etc/?asswd", "/etc/passwd", true},
		{"a?c", "a/c", true},
		{"*", "", true},
		{"[!a]bc", "zbc", true},
		{"[!a]bc", "abc", false},
		{"[!a]bc", "!bc", true},
		{"[^a]bc", "zbc", true},
		{"[^a]bc", "abc", false},
		{"[!a]bc\\*", "zbc*", true},
		{"[a-c]x", "bx", true},
		{"[a-c]x", "dx", false},
		{"x[!^]", "x^", false},
		{`[\^]x`, "^x", true},
	}

	for _, tt := range tests {
		got, err := GlobMatch(tt.pattern, tt.subject)
		if err != nil {
			t.Errorf("GlobMatch(%q, %q): %v", tt.pattern, tt.subject, err)
			continue
		}
		if got != tt.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}
