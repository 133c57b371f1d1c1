package compiler

import (
	"strings"
	"testing"
)

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"pid == 1234", "(== pid 1234)"},
		{"a + b * c", "(+ a (* b c))"},
		{"a - b - c", "(- (- a b) c)"},
		{"a || b && c", "(|| a (&& b c))"},
		{"a == 1 && b == 2", "(&& (== a 1) (== b 2))"},
		{"a | b ^ c & d", "(| a (^ b (& c d)))"},
		{"a << 1 < b", "(< (<< a 1) b)"},
		{"(a + b) * 2 > 5", "(> (* {(+ a b)} 2) 5)"},
		{"!a", "(!a)"},
		{"-a + ~b", "(+ (-a) (~b))"},
		{"!!a", "(!(!a))"},
		{"a.b->c[1] == 2", "(== a.b->c[1] 2)"},
		{"a[1][2] == 3", "(== a[1][2] 3)"},
		{"$ctx.procname == \"bash\"", `(== $ctx.procname "bash")`},
		{"$app.prov:ctx == 1", "(== $app.prov:ctx 1)"},
		{"x == 1.5", "(== x 1.5)"},
		{"x == 0x10", "(== x 16)"},
		{"x == 010", "(== x 8)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a, err := ParseString(tt.input)
			if err != nil {
				t.Fatalf("ParseString(%q): %v", tt.input, err)
			}
			if got := a.String(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		token int
		msg   string
	}{
		{"", 1, "empty filter expression"},
		{"   ", 1, "empty filter expression"},
		{"a ==", 3, "unexpected end of input"},
		{"a == == b", 3, "expected an operand"},
		{"(a == 1", 5, "expected ')'"},
		{"a == 1)", 4, "unexpected ')' after expression"},
		{")", 1, "unmatched ')'"},
		{"a.", 3, "expected 'IDENTIFIER'"},
		{"a[1 == 2", 6, "expected ']'"},
		{"a b", 2, "unexpected \"b\" after expression"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseString(tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}
			ce, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %T", err)
			}
			if ce.Stage != StageParse {
				t.Errorf("expected parse stage, got %v", ce.Stage)
			}
			if ce.Token != tt.token {
				t.Errorf("expected token %d, got %d", tt.token, ce.Token)
			}
			if !strings.Contains(ce.Message, tt.msg) {
				t.Errorf("expected message containing %q, got %q", tt.msg, ce.Message)
			}
		})
	}
}

func TestParseDepthLimit(t *testing.T) {
	deep := strings.Repeat("(", 100) + "a" + strings.Repeat(")", 100)

	_, err := ParseString(deep)
	if err == nil {
		t.Fatal("expected nesting error with default limits")
	}
	if !strings.Contains(err.Error(), "maximum depth") {
		t.Errorf("unexpected error: %v", err)
	}

	tokens, err := Tokenize(deep)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(deep, tokens, Limits{MaxDepth: 250}); err != nil {
		t.Errorf("expected success with raised limit, got %v", err)
	}
}

func TestParseFlatChainDepth(t *testing.T) {
	long := "a" + strings.Repeat(" + a", 100000) + " > 0"
	_, err := ParseString(long)
	if err == nil {
		t.Fatal("expected nesting error for a long operator run")
	}
	ce, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(ce.Message, "maximum depth 64") {
		t.Errorf("unexpected message %q", ce.Message)
	}
	// The 64th '+' is the first operator whose subtree is too tall.
	if ce.Token != 128 || ce.Offset != 254 {
		t.Errorf("error at token %d offset %d, want token 128 offset 254", ce.Token, ce.Offset)
	}

	_, err = Compile(long)
	if ce, ok := AsError(err); !ok || ce.Stage != StageParse {
		t.Errorf("Compile: expected a parse error, got %v", err)
	}

	ok63 := "a" + strings.Repeat(" && a", 63)
	if _, err := ParseString(ok63); err != nil {
		t.Errorf("63 operators should fit the default depth: %v", err)
	}
	if _, err := ParseString(ok63 + " && a"); err == nil {
		t.Error("64 operators should exceed the default depth")
	}
}

func TestParseAccessChainDepth(t *testing.T) {
	for _, input := range []string{
		"a" + strings.Repeat(".b", 100000) + " == 1",
		"a" + strings.Repeat("[0]", 100000) + " == 1",
		"a" + strings.Repeat("[0][0].b", 62) + " == 1",
		"a" + strings.Repeat("[(((0)))]", 70) + " == 1",
	} {
		_, err := ParseString(input)
		if err == nil || !strings.Contains(err.Error(), "maximum depth") {
			t.Errorf("%.20s...: expected nesting error, got %v", input, err)
		}
	}

	if _, err := ParseString("a" + strings.Repeat(".b[1]", 20) + " == 1"); err != nil {
		t.Errorf("short access chain rejected: %v", err)
	}
}

func TestParseChainStructure(t *testing.T) {
	a, err := ParseString("a.b[2].c == 1")
	if err != nil {
		t.Fatal(err)
	}
	op, ok := a.Node(a.Root().Child).(*BinaryOp)
	if !ok {
		t.Fatalf("expected BinaryOp at root, got %T", a.Node(a.Root().Child))
	}

	segs := a.Segments(op.Left)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	names := []string{"a", "b", "c"}
	for i, seg := range segs {
		e := a.Expr(seg)
		if e.Str != names[i] {
			t.Errorf("segment %d: expected %q, got %q", i, names[i], e.Str)
		}
		if i > 0 && e.Prev != segs[i-1] {
			t.Errorf("segment %d: Prev not linked", i)
		}
	}
	if a.Expr(segs[0]).PostOp != LinkDot || a.Expr(segs[1]).PreOp != LinkDot {
		t.Error("dot links not recorded")
	}
	if br := a.Brackets(segs[1]); len(br) != 1 || a.Expr(br[0]).Int != 2 {
		t.Errorf("expected bracket [2] on segment b, got %v", br)
	}
	if len(a.Brackets(segs[0])) != 0 || len(a.Brackets(segs[2])) != 0 {
		t.Error("unexpected brackets on a or c")
	}
}

func TestLinkParents(t *testing.T) {
	a, err := ParseString("a[1] == 2 && !b")
	if err != nil {
		t.Fatal(err)
	}
	a.LinkParents()

	count := 0
	err = a.Walk(func(id NodeID, n Node) error {
		count++
		if id == a.RootID() {
			if a.Parent(id) != NoNode {
				t.Errorf("root has parent %d", a.Parent(id))
			}
			return nil
		}
		p := a.Parent(id)
		found := false
		for _, c := range a.Children(p) {
			if c == id {
				found = true
			}
		}
		if !found {
			t.Errorf("node %d not among children of its parent %d", id, p)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != a.Len() {
		t.Errorf("walk visited %d of %d nodes", count, a.Len())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a, err := ParseString("a == 1")
	if err != nil {
		t.Fatal(err)
	}
	c := a.Clone()
	op := c.Node(c.Root().Child).(*BinaryOp)
	c.Expr(op.Right).Int = 99

	if a.String() != "(== a 1)" {
		t.Errorf("original changed: %s", a.String())
	}
	if c.String() != "(== a 99)" {
		t.Errorf("clone not updated: %s", c.String())
	}
}
