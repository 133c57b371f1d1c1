package compiler

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/tracefilter/pkg/bytecode"
)

type ins = bytecode.Instruction

func compile(t *testing.T, input string) *bytecode.Program {
	t.Helper()
	p, err := Compile(input)
	if err != nil {
		t.Fatalf("Compile(%q): %v", input, err)
	}
	if err := p.Verify(); err != nil {
		t.Fatalf("Compile(%q) produced an invalid program: %v", input, err)
	}
	return p
}

func assertCode(t *testing.T, p *bytecode.Program, want []ins) {
	t.Helper()
	if len(p.Code) != len(want) {
		t.Fatalf("expected %d instructions, got %d:\n%s", len(want), len(p.Code), p.Disassemble())
	}
	for i := range want {
		if p.Code[i] != want[i] {
			t.Errorf("instruction %d: expected %s %d, got %s %d",
				i, want[i].Op, want[i].Operand, p.Code[i].Op, p.Code[i].Operand)
		}
	}
}

func TestCompileEquality(t *testing.T) {
	p := compile(t, "pid == 1234")
	assertCode(t, p, []ins{
		{Op: bytecode.OpPushLiteral, Operand: 0},
		{Op: bytecode.OpLoadField, Operand: 0},
		{Op: bytecode.OpEq},
		{Op: bytecode.OpReturn},
	})
	if len(p.Literals) != 1 || p.Literals[0] != bytecode.IntLiteral(1234) {
		t.Errorf("unexpected literals %v", p.Literals)
	}
	if len(p.Fields) != 1 || p.Fields[0].Path != "pid" {
		t.Errorf("unexpected fields %v", p.Fields)
	}
	if len(p.Relocations) != 1 || p.Relocations[0] != (bytecode.Relocation{Instr: 1, Field: 0}) {
		t.Errorf("unexpected relocations %v", p.Relocations)
	}
}

func TestCompileGlob(t *testing.T) {
	p := compile(t, `name == "foo*"`)
	assertCode(t, p, []ins{
		{Op: bytecode.OpPushLiteral, Operand: 0},
		{Op: bytecode.OpLoadField, Operand: 0},
		{Op: bytecode.OpGlobMatch},
		{Op: bytecode.OpReturn},
	})
	if p.Literals[0] != bytecode.StringLiteral("foo*") {
		t.Errorf("expected pattern literal, got %v", p.Literals[0])
	}

	p = compile(t, `name != "foo*"`)
	if p.Code[2].Op != bytecode.OpGlobNotMatch {
		t.Errorf("expected GLOB_NOT_MATCH, got %s", p.Code[2].Op)
	}

	p = compile(t, `name == "foo"`)
	if p.Code[2].Op != bytecode.OpEq {
		t.Errorf("expected plain EQ for a literal without wildcards, got %s", p.Code[2].Op)
	}
}

func TestCompileAnd(t *testing.T) {
	p := compile(t, "a > 1 && a < 10")
	assertCode(t, p, []ins{
		{Op: bytecode.OpPushLiteral, Operand: 0},
		{Op: bytecode.OpLoadField, Operand: 0},
		{Op: bytecode.OpLt},
		{Op: bytecode.OpJumpIfFalse, Operand: 3},
		{Op: bytecode.OpPushLiteral, Operand: 1},
		{Op: bytecode.OpLoadField, Operand: 0},
		{Op: bytecode.OpGt},
		{Op: bytecode.OpReturn},
	})
	if target := p.JumpTarget(3); target != 7 {
		t.Errorf("expected jump to RETURN at 7, got %d", target)
	}
	if len(p.Fields) != 1 {
		t.Errorf("expected field a to be interned once, got %v", p.Fields)
	}
	if len(p.Relocations) != 2 {
		t.Errorf("expected two relocations, got %v", p.Relocations)
	}
}

func TestCompileOr(t *testing.T) {
	p := compile(t, "a == 1 || b == 2")
	if p.Code[3].Op != bytecode.OpJumpIfTrue {
		t.Errorf("expected JUMP_IF_TRUE, got %s", p.Code[3].Op)
	}
}

func TestCompileArithmeticOrder(t *testing.T) {
	p := compile(t, "(a+b)*2 > 5")
	assertCode(t, p, []ins{
		{Op: bytecode.OpLoadField, Operand: 0},
		{Op: bytecode.OpLoadField, Operand: 1},
		{Op: bytecode.OpAdd},
		{Op: bytecode.OpPushLiteral, Operand: 0},
		{Op: bytecode.OpMul},
		{Op: bytecode.OpPushLiteral, Operand: 1},
		{Op: bytecode.OpGt},
		{Op: bytecode.OpReturn},
	})
}

func TestCompileToBool(t *testing.T) {
	p := compile(t, "a && b")
	assertCode(t, p, []ins{
		{Op: bytecode.OpLoadField, Operand: 0},
		{Op: bytecode.OpJumpIfFalse, Operand: 2},
		{Op: bytecode.OpLoadField, Operand: 1},
		{Op: bytecode.OpToBool},
		{Op: bytecode.OpReturn},
	})

	p = compile(t, "a && (b || c == 1)")
	for _, in := range p.Code {
		if in.Op == bytecode.OpToBool {
			t.Fatalf("unexpected TO_BOOL after a boolean right operand:\n%s", p.Disassemble())
		}
	}
}

func TestCompileUnary(t *testing.T) {
	p := compile(t, "!(a == 1)")
	assertCode(t, p, []ins{
		{Op: bytecode.OpPushLiteral, Operand: 0},
		{Op: bytecode.OpLoadField, Operand: 0},
		{Op: bytecode.OpEq},
		{Op: bytecode.OpNot},
		{Op: bytecode.OpReturn},
	})

	p = compile(t, "-5 == a")
	if p.Literals[0] != bytecode.IntLiteral(-5) {
		t.Errorf("expected folded -5, got %v", p.Literals[0])
	}
	if len(p.Code) != 4 {
		t.Errorf("expected no UNARY_MINUS after folding:\n%s", p.Disassemble())
	}
}

func TestLiteralDeduplication(t *testing.T) {
	p := compile(t, `x == "abc" || y == "abc"`)
	if len(p.Literals) != 1 || p.Literals[0] != bytecode.StringLiteral("abc") {
		t.Errorf("expected one pool entry for \"abc\", got %v", p.Literals)
	}
	if len(p.Fields) != 2 {
		t.Errorf("expected fields x and y, got %v", p.Fields)
	}

	p = compile(t, "a == 0.0 || b == -0.0")
	if len(p.Literals) != 2 {
		t.Errorf("expected 0.0 and -0.0 to stay distinct, got %v", p.Literals)
	}
}

func TestCompileDeterministic(t *testing.T) {
	inputs := []string{
		"pid == 1234",
		`a.b[2] == "x*" && ($ctx.procname != "bash" || c > 2.5)`,
		"(a + b) * 2 > 5 && !(c & 1)",
	}
	for _, input := range inputs {
		first, err := compile(t, input).Serialize()
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 5; i++ {
			again, err := compile(t, input).Serialize()
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(first, again) {
				t.Fatalf("%q: output differs between runs", input)
			}
		}
	}
}

func TestCompileSerializeRoundTrip(t *testing.T) {
	p := compile(t, `a == 1 && (name == "sys_*" || f < 2.5)`)
	data, err := p.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	q, err := bytecode.Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if q.Disassemble() != p.Disassemble() {
		t.Errorf("round trip changed program:\n%s\nvs\n%s", p.Disassemble(), q.Disassemble())
	}
}

func TestCompileLimits(t *testing.T) {
	c := New(Limits{MaxLiterals: 1})
	_, err := c.Compile("a == 1 || b == 2")
	if err == nil {
		t.Fatal("expected literal pool error")
	}
	ce, ok := AsError(err)
	if !ok || ce.Stage != StageEmit {
		t.Fatalf("expected emit-stage error, got %v", err)
	}
	if ce.Offset != -1 {
		t.Errorf("expected offset -1, got %d", ce.Offset)
	}
	if !errors.Is(err, bytecode.ErrLiteralPoolFull) {
		t.Errorf("expected ErrLiteralPoolFull, got %v", err)
	}

	if _, err := New(Limits{MaxFields: 1}).Compile("a == b"); !errors.Is(err, bytecode.ErrFieldTableFull) {
		t.Errorf("expected ErrFieldTableFull, got %v", err)
	}
	if _, err := New(Limits{MaxInstructions: 3}).Compile("a == 1"); !errors.Is(err, bytecode.ErrTooManyInstructions) {
		t.Errorf("expected ErrTooManyInstructions, got %v", err)
	}
	if _, err := New(Limits{MaxInstructions: 4}).Compile("a == 1"); err != nil {
		t.Errorf("expected exact fit to succeed, got %v", err)
	}
}

func TestCompileNoPartialOutput(t *testing.T) {
	inputs := []string{"", "a ==", "a == b == c", `"x"`, "$ctx == 1", "a = 1"}
	for _, input := range inputs {
		p, err := Compile(input)
		if err == nil {
			t.Errorf("Compile(%q): expected error", input)
		}
		if p != nil {
			t.Errorf("Compile(%q): returned a program alongside error %v", input, err)
		}
	}
}

func TestNestingRejection(t *testing.T) {
	if _, err := Compile("a == b == c"); err == nil {
		t.Error("expected a == b == c to be rejected")
	}
	if _, err := Compile("a == b && b == c"); err != nil {
		t.Errorf("expected a == b && b == c to compile, got %v", err)
	}
}

func TestShortCircuit(t *testing.T) {
	vm := bytecode.NewVM()

	p := compile(t, "a == 1 && b == 2")
	ok, err := vm.Execute(p, bytecode.Fields{"a": bytecode.Int(0), "b": bytecode.Int(2)})
	if err != nil || ok {
		t.Fatalf("expected false, got %v (%v)", ok, err)
	}
	if vm.Stats.Lookups["b"] != 0 {
		t.Errorf("b was loaded although a was false")
	}
	if vm.Stats.FieldLookups != 1 {
		t.Errorf("expected 1 field lookup, got %d", vm.Stats.FieldLookups)
	}

	p = compile(t, "a == 1 || b == 2")
	ok, err = vm.Execute(p, bytecode.Fields{"a": bytecode.Int(1)})
	if err != nil || !ok {
		t.Fatalf("expected true without touching b, got %v (%v)", ok, err)
	}
	if vm.Stats.Lookups["b"] != 0 {
		t.Errorf("b was loaded although a was true")
	}

	ok, err = vm.Execute(p, bytecode.Fields{"a": bytecode.Int(0), "b": bytecode.Int(2)})
	if err != nil || !ok {
		t.Fatalf("expected true via b, got %v (%v)", ok, err)
	}
	if vm.Stats.FieldLookups != 2 {
		t.Errorf("expected 2 field lookups, got %d", vm.Stats.FieldLookups)
	}
}
