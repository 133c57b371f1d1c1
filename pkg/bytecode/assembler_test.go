package bytecode

import (
	"errors"
	"testing"
)

func TestAssemblerInternsLiterals(t *testing.T) {
	a := NewAssembler(Limits{})

	i1, _ := a.AddLiteral(StringLiteral("abc"))
	i2, _ := a.AddLiteral(IntLiteral(42))
	i3, _ := a.AddLiteral(StringLiteral("abc"))
	i4, _ := a.AddLiteral(FloatLiteral(42))

	if i1 != i3 {
		t.Errorf("duplicate string got index %d, want %d", i3, i1)
	}
	if i2 == i4 {
		t.Error("int 42 and float 42 should not share a slot")
	}
	if i2 == i1 {
		t.Error("distinct literals share a slot")
	}
}

func TestAssemblerFloatZeroSigns(t *testing.T) {
	a := NewAssembler(Limits{})
	pos, _ := a.AddLiteral(FloatLiteral(0))
	neg, _ := a.AddLiteral(FloatLiteral(negZero()))
	if pos == neg {
		t.Error("0.0 and -0.0 should intern separately")
	}
}

func negZero() float64 {
	z := 0.0
	return -z
}

func TestAssemblerInternsFields(t *testing.T) {
	a := NewAssembler(Limits{})
	if err := a.EmitField("pid"); err != nil {
		t.Fatal(err)
	}
	if err := a.EmitField("$ctx.procname"); err != nil {
		t.Fatal(err)
	}
	if err := a.EmitField("pid"); err != nil {
		t.Fatal(err)
	}
	a.Emit(OpEq, 0)
	a.Emit(OpReturn, 0)
	p := a.Finish()

	if len(p.Fields) != 2 {
		t.Fatalf("fields = %d, want 2", len(p.Fields))
	}
	if p.Code[0].Operand != p.Code[2].Operand {
		t.Errorf("repeated path got operands %d and %d", p.Code[0].Operand, p.Code[2].Operand)
	}
	if len(p.Relocations) != 3 {
		t.Errorf("relocations = %d, want 3", len(p.Relocations))
	}
	if p.Relocations[1].Instr != 1 || p.Relocations[1].Field != 1 {
		t.Errorf("relocation[1] = %+v", p.Relocations[1])
	}
}

func TestAssemblerResolvesForwardJump(t *testing.T) {
	a := NewAssembler(Limits{})
	end := a.NewLabel()

	a.EmitField("a")                 // 0
	a.EmitJump(OpJumpIfFalse, end)   // 1
	a.EmitField("b")                 // 2
	a.Emit(OpToBool, 0)              // 3
	a.Bind(end)
	a.Emit(OpReturn, 0)              // 4

	p := a.Finish()
	if got := p.Code[1].Operand; got != 2 {
		t.Errorf("jump operand = %d, want 2", got)
	}
	if got := p.JumpTarget(1); got != 4 {
		t.Errorf("jump target = %d, want 4", got)
	}
	if err := p.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestAssemblerUnboundLabelPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unbound label")
		}
	}()
	a := NewAssembler(Limits{})
	a.EmitField("a")
	a.EmitJump(OpJumpIfFalse, a.NewLabel())
	a.Emit(OpReturn, 0)
	a.Finish()
}

func TestAssemblerLimits(t *testing.T) {
	a := NewAssembler(Limits{MaxLiterals: 2, MaxFields: 1, MaxInstructions: 3})

	if _, err := a.AddLiteral(IntLiteral(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddLiteral(IntLiteral(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddLiteral(IntLiteral(1)); err != nil {
		t.Errorf("re-adding an interned literal should not count against the limit: %v", err)
	}
	if _, err := a.AddLiteral(IntLiteral(3)); !errors.Is(err, ErrLiteralPoolFull) {
		t.Errorf("third literal err = %v, want ErrLiteralPoolFull", err)
	}

	if _, err := a.AddField("x"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddField("y"); !errors.Is(err, ErrFieldTableFull) {
		t.Errorf("second field err = %v, want ErrFieldTableFull", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := a.Emit(OpReturn, 0); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := a.Emit(OpReturn, 0); !errors.Is(err, ErrTooManyInstructions) {
		t.Errorf("fourth instruction err = %v, want ErrTooManyInstructions", err)
	}
}
