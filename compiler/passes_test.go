package compiler

import (
	"strings"
	"testing"
)

func validate(t *testing.T, input string) (*Ast, error) {
	t.Helper()
	a, err := ParseString(input)
	if err != nil {
		t.Fatalf("ParseString(%q): %v", input, err)
	}
	return Validate(a)
}

func TestValidateAccepts(t *testing.T) {
	inputs := []string{
		"pid == 1234",
		"a == b && b == c",
		"a > 1 && a < 10",
		`name == "bash"`,
		`"bash" != name`,
		`name == "sys_*"`,
		`$ctx.procname == "ba?h"`,
		`a.b == "x" || c[2] != "y"`,
		`name == "a\*b"`,
		"(a + b) * 2 > 5",
		"!(a == 1)",
		"a",
		"1",
		"a && b",
		"(a & 4) == 4",
		`"x" == "x"`,
	}
	for _, input := range inputs {
		if _, err := validate(t, input); err != nil {
			t.Errorf("Validate(%q): unexpected error %v", input, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		input  string
		pass   string
		offset int
		msg    string
	}{
		{"a == b == c", "binary-op-nesting", 2, "cannot be an operand of '=='"},
		{"(a < b) == 1", "binary-op-nesting", 3, "comparison '<'"},
		{"1 != (a > b)", "binary-op-nesting", 8, "comparison '>'"},
		{`"x"`, "binary-comparator", 0, "requires a comparison context"},
		{`("x")`, "binary-comparator", 0, "requires a comparison context"},
		{`"a" + 1 == b`, "binary-comparator", 0, "cannot be an operand of '+'"},
		{`a < "x"`, "binary-comparator", 2, "cannot be ordered"},
		{`1 == "x"`, "binary-comparator", 2, "cannot compare string literal with numeric constant"},
		{`(a + 1) == "x"`, "binary-comparator", 8, "arithmetic expression"},
		{`!"x"`, "binary-comparator", 1, "unary '!'"},
		{`"x" && a`, "binary-comparator", 0, "cannot be an operand of '&&'"},
		{`a == ""`, "string-validation", 5, "empty string literal"},
		{`a == "\q"`, "string-validation", 6, `invalid escape sequence '\q'`},
		{`a == "\x"`, "string-validation", 6, "no hex digits"},
		{`a == "\400"`, "string-validation", 6, "octal escape out of range"},
		{`a == "b\0"`, "string-validation", 7, "NUL byte"},
		{`a == "\x00"`, "string-validation", 6, "NUL byte"},
		{`a == "ab[c"`, "glob", 5, "unterminated bracket expression"},
		{`a == "a]*"`, "glob", 5, "unmatched ']'"},
		{`a == "[]x*"`, "glob", 5, "empty bracket expression"},
		{`"x*" == "y"`, "glob", 0, "can only be compared against a field"},
		{`(a + 1) != 2 || "f?" == "g"`, "glob", 16, "can only be compared against a field"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := validate(t, tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}
			ce, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %T", err)
			}
			if ce.Stage != StageValidate || ce.Pass != tt.pass {
				t.Errorf("expected validate/%s, got %v/%s", tt.pass, ce.Stage, ce.Pass)
			}
			if ce.Offset != tt.offset {
				t.Errorf("expected offset %d, got %d (%v)", tt.offset, ce.Offset, err)
			}
			if !strings.Contains(ce.Message, tt.msg) {
				t.Errorf("expected message containing %q, got %q", tt.msg, ce.Message)
			}
		})
	}
}

func TestDecodeString(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"plain", "plain"},
		{`tab\there`, "tab\there"},
		{`\x41\x4a`, "AJ"},
		{`\101\60`, "A0"},
		{`\"quoted\"`, `"quoted"`},
		{`\a\b\f\n\r\v`, "\a\b\f\n\r\v"},
		{`keep\*\?\[\]\\`, `keep\*\?\[\]\\`},
		{`\052\x3f\x5b\135`, `\*\?\[\]`},
		{`\x5c*`, `\\*`},
		{"héllo", "héllo"},
	}
	for _, tt := range tests {
		got, err := decodeString(tt.raw, Position{})
		if err != nil {
			t.Errorf("decodeString(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("decodeString(%q): expected %q, got %q", tt.raw, tt.expected, got)
		}
	}

	if _, err := decodeString("bad\xffutf8", Position{}); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestPassesDoNotMutateInput(t *testing.T) {
	input := `a == "x\ty" && b == "f**"`
	a, err := ParseString(input)
	if err != nil {
		t.Fatal(err)
	}
	before := a.String()

	out, err := Validate(a)
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != before {
		t.Errorf("input tree changed:\nbefore %s\nafter  %s", before, a.String())
	}
	want := `(&& (== a "x\ty") (== b glob:"f*"))`
	if out.String() != want {
		t.Errorf("expected %s, got %s", want, out.String())
	}
}

func TestGlobTagging(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`name == "foo*"`, `(== name glob:"foo*")`},
		{`"foo**" == name`, `(== glob:"foo*" name)`},
		{`name != "x?"`, `(!= name glob:"x?")`},
		{`name == "[a-c]z"`, `(== name glob:"[a-c]z")`},
		{`name == "a\*b"`, `(== name "a*b")`},
		{`name == "a\\b"`, `(== name "a\\b")`},
		{`name == (("s*"))`, `(== name {{glob:"s*"}})`},
		{`name == "a\052"`, `(== name "a*")`},
		{`name == "\x2a\x3F"`, `(== name "*?")`},
		{`name == "\x5b"`, `(== name "[")`},
		{`name == "\x5c*"`, `(== name glob:"\\\\*")`},
		{`name == "\x5c\x5c"`, `(== name "\\\\")`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a, err := validate(t, tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if got := a.String(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestNormalizeGlobIdempotent(t *testing.T) {
	patterns := []string{
		"foo*",
		"foo**bar",
		"***",
		"a*?*",
		`a\**b`,
		`a\*\*b`,
		"[**]x**",
		"[!a-z]*",
		"*[*]*",
	}
	for _, p := range patterns {
		once := NormalizeGlob(p)
		twice := NormalizeGlob(once)
		if once != twice {
			t.Errorf("NormalizeGlob(%q) = %q, again = %q", p, once, twice)
		}
	}

	cases := map[string]string{
		"foo**bar": "foo*bar",
		"***":      "*",
		`a\**b`:    `a\**b`,
		`a\***b`:   `a\**b`,
		"[**]x**":  "[**]x*",
	}
	for in, want := range cases {
		if got := NormalizeGlob(in); got != want {
			t.Errorf("NormalizeGlob(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestValidateGlob(t *testing.T) {
	valid := []string{"*", "a?c", "[abc]", "[!a]x", "[^a]", `\[x`, `x\]`}
	for _, p := range valid {
		if err := ValidateGlob(p); err != nil {
			t.Errorf("ValidateGlob(%q): unexpected error %v", p, err)
		}
	}

	invalid := map[string]string{
		`abc\`:  "trailing backslash",
		"[abc":  "unterminated",
		"ab]":   "unmatched",
		"[]":    "empty bracket",
		"x[!]y": "empty bracket",
	}
	for p, msg := range invalid {
		err := ValidateGlob(p)
		if err == nil {
			t.Errorf("ValidateGlob(%q): expected error", p)
			continue
		}
		if !strings.Contains(err.Error(), msg) {
			t.Errorf("ValidateGlob(%q): expected %q in %v", p, msg, err)
		}
	}
}
