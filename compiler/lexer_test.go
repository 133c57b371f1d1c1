package compiler

import (
	"strings"
	"testing"
)

func TestLexerOperators(t *testing.T) {
	input := `* / % + - << >> & | ^ ~ && || ! == != > < >= <= ( ) [ ] . -> :`
	expected := []TokenType{
		TokenStar, TokenSlash, TokenPercent, TokenPlus, TokenMinus,
		TokenShiftLeft, TokenShiftRight, TokenAmp, TokenPipe, TokenCaret, TokenTilde,
		TokenAndAnd, TokenOrOr, TokenBang,
		TokenEq, TokenNe, TokenGt, TokenLt, TokenGe, TokenLe,
		TokenLParen, TokenRParen, TokenLBracket, TokenRBracket,
		TokenDot, TokenArrow, TokenColon,
		TokenEOF,
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp {
			t.Fatalf("token %d: expected %v, got %v (%q)", i, exp, tok.Type, tok.Literal)
		}
	}
}

func TestLexerLiterals(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		lit   string
	}{
		{"pid", TokenIdentifier, "pid"},
		{"_field2", TokenIdentifier, "_field2"},
		{"$ctx", TokenGlobalIdentifier, "$ctx"},
		{"1234", TokenInteger, "1234"},
		{"0x1F", TokenInteger, "0x1F"},
		{"017", TokenInteger, "017"},
		{"0", TokenInteger, "0"},
		{"10UL", TokenInteger, "10UL"},
		{"1.5", TokenFloat, "1.5"},
		{".5", TokenFloat, ".5"},
		{"1e3", TokenFloat, "1e3"},
		{"2.5E-2", TokenFloat, "2.5E-2"},
		{"2.0f", TokenFloat, "2.0f"},
		{`"hello"`, TokenString, "hello"},
		{`"a\"b"`, TokenString, `a\"b`},
		{`"sys_*"`, TokenString, "sys_*"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			toks, err := Tokenize(tt.input)
			if err != nil {
				t.Fatalf("Tokenize(%q): %v", tt.input, err)
			}
			if len(toks) != 2 {
				t.Fatalf("expected 2 tokens, got %d: %v", len(toks), toks)
			}
			if toks[0].Type != tt.typ {
				t.Errorf("type: expected %v, got %v", tt.typ, toks[0].Type)
			}
			if toks[0].Literal != tt.lit {
				t.Errorf("literal: expected %q, got %q", tt.lit, toks[0].Literal)
			}
		})
	}
}

func TestLexerPositions(t *testing.T) {
	toks, err := Tokenize("pid == 1\n&& x")
	if err != nil {
		t.Fatal(err)
	}
	offsets := []int{0, 4, 7, 9, 12, 13}
	if len(toks) != len(offsets) {
		t.Fatalf("expected %d tokens, got %d", len(offsets), len(toks))
	}
	for i, off := range offsets {
		if toks[i].Pos.Offset != off {
			t.Errorf("token %d (%v): expected offset %d, got %d", i, toks[i].Type, off, toks[i].Pos.Offset)
		}
	}
	if toks[3].Pos.Line != 2 {
		t.Errorf("expected '&&' on line 2, got %d", toks[3].Pos.Line)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input  string
		offset int
		msg    string
	}{
		{"a = 1", 2, "did you mean '=='"},
		{`a == "abc`, 5, "unterminated string"},
		{"a == \"ab\ncd\"", 5, "newline in string"},
		{"a == 09", 6, "invalid digit '9' in octal"},
		{"a == 12abc", 7, "invalid suffix"},
		{"a == 0x", 5, "hexadecimal constant has no digits"},
		{"a == 1e", 5, "exponent has no digits"},
		{"$1 == 2", 0, "expected identifier after '$'"},
		{"a @ b", 2, "unexpected character"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Tokenize(tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}
			ce, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %T", err)
			}
			if ce.Stage != StageLex {
				t.Errorf("expected lex stage, got %v", ce.Stage)
			}
			if ce.Offset != tt.offset {
				t.Errorf("expected offset %d, got %d", tt.offset, ce.Offset)
			}
			if !strings.Contains(ce.Message, tt.msg) {
				t.Errorf("expected message containing %q, got %q", tt.msg, ce.Message)
			}
		})
	}
}

func TestLexerNULEndsInput(t *testing.T) {
	toks, err := Tokenize("a\x00 == b")
	if err != nil {
		t.Fatal(err)
	}
	if len(toks) != 2 || toks[0].Literal != "a" || toks[1].Type != TokenEOF {
		t.Errorf("expected [a EOF], got %v", toks)
	}
}

func TestLexerOnlyEOFAfterError(t *testing.T) {
	l := NewLexer("@ a b")
	if tok := l.NextToken(); tok.Type != TokenError {
		t.Fatalf("expected error token, got %v", tok)
	}
	for i := 0; i < 3; i++ {
		if tok := l.NextToken(); tok.Type != TokenEOF {
			t.Fatalf("expected EOF after error, got %v", tok)
		}
	}
}

func TestLexerReset(t *testing.T) {
	l := NewLexer("a == 1")
	for l.NextToken().Type != TokenEOF {
	}
	l.Reset()
	if tok := l.NextToken(); tok.Type != TokenIdentifier || tok.Literal != "a" {
		t.Errorf("expected identifier after reset, got %v", tok)
	}
}
