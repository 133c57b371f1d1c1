package compiler

import (
	"fmt"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for filter expressions
// ---------------------------------------------------------------------------

// Lexer tokenizes filter expression source text. A NUL byte ends the input,
// as it would for the C string handed over by the control path.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        rune // current character
	line      int  // line of ch (1-based)
	col       int  // column of ch (1-based)
	nextLine  int
	nextCol   int
	exhausted bool // EOF or error already returned
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.Reset()
	return l
}

// Reset rewinds the lexer to the start of its input.
func (l *Lexer) Reset() {
	l.pos, l.readPos = 0, 0
	l.nextLine, l.nextCol = 1, 1
	l.exhausted = false
	l.readChar()
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	l.line, l.col = l.nextLine, l.nextCol
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	if r == '\n' {
		l.nextLine++
		l.nextCol = 1
	} else {
		l.nextCol++
	}
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// NextToken returns the next token from the input. After EOF or an error
// token, every further call returns the same EOF token.
func (l *Lexer) NextToken() Token {
	if l.exhausted {
		return Token{Type: TokenEOF, Pos: l.position()}
	}
	l.skipWhitespace()

	pos := l.position()
	tok := Token{Pos: pos}

	single := func(t TokenType) Token {
		tok.Type = t
		tok.Literal = string(l.ch)
		l.readChar()
		return tok
	}
	double := func(t TokenType) Token {
		tok.Type = t
		tok.Literal = l.input[l.pos : l.pos+2]
		l.readChar()
		l.readChar()
		return tok
	}

	switch l.ch {
	case 0:
		l.exhausted = true
		tok.Type = TokenEOF
		return tok
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case '[':
		return single(TokenLBracket)
	case ']':
		return single(TokenRBracket)
	case ':':
		return single(TokenColon)
	case '*':
		return single(TokenStar)
	case '/':
		return single(TokenSlash)
	case '%':
		return single(TokenPercent)
	case '+':
		return single(TokenPlus)
	case '^':
		return single(TokenCaret)
	case '~':
		return single(TokenTilde)
	case '-':
		if l.peekChar() == '>' {
			return double(TokenArrow)
		}
		return single(TokenMinus)
	case '<':
		switch l.peekChar() {
		case '<':
			return double(TokenShiftLeft)
		case '=':
			return double(TokenLe)
		}
		return single(TokenLt)
	case '>':
		switch l.peekChar() {
		case '>':
			return double(TokenShiftRight)
		case '=':
			return double(TokenGe)
		}
		return single(TokenGt)
	case '&':
		if l.peekChar() == '&' {
			return double(TokenAndAnd)
		}
		return single(TokenAmp)
	case '|':
		if l.peekChar() == '|' {
			return double(TokenOrOr)
		}
		return single(TokenPipe)
	case '!':
		if l.peekChar() == '=' {
			return double(TokenNe)
		}
		return single(TokenBang)
	case '=':
		if l.peekChar() == '=' {
			return double(TokenEq)
		}
		return l.errorToken(pos, "unexpected character '=' (did you mean '=='?)")
	case '.':
		if isDigit(l.peekChar()) {
			return l.readNumber()
		}
		return single(TokenDot)
	case '"':
		return l.readString()
	case '$':
		return l.readGlobalIdentifier()
	}

	switch {
	case isLetter(l.ch):
		tok.Type = TokenIdentifier
		tok.Literal = l.readIdentifier()
		return tok
	case isDigit(l.ch):
		return l.readNumber()
	}

	if l.ch == utf8.RuneError {
		return l.errorToken(pos, "invalid UTF-8 encoding")
	}
	return l.errorToken(pos, fmt.Sprintf("unexpected character %q", l.ch))
}

func (l *Lexer) errorToken(pos Position, msg string) Token {
	l.exhausted = true
	return Token{Type: TokenError, Literal: msg, Pos: pos}
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\v' || l.ch == '\f' {
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readGlobalIdentifier() Token {
	pos := l.position()
	start := l.pos
	l.readChar() // $
	if !isLetter(l.ch) {
		return l.errorToken(pos, "expected identifier after '$'")
	}
	l.readIdentifier()
	return Token{Type: TokenGlobalIdentifier, Literal: l.input[start:l.pos], Pos: pos}
}

// readString reads a double-quoted string. The literal is the text between
// the quotes; escapes are decoded later by string validation.
func (l *Lexer) readString() Token {
	pos := l.position()
	l.readChar() // opening quote
	start := l.pos
	for {
		switch l.ch {
		case 0:
			return l.errorToken(pos, "unterminated string literal")
		case '\n':
			return l.errorToken(pos, "newline in string literal")
		case '\\':
			l.readChar()
			if l.ch == 0 {
				return l.errorToken(pos, "unterminated string literal")
			}
		case '"':
			lit := l.input[start:l.pos]
			l.readChar()
			return Token{Type: TokenString, Literal: lit, Pos: pos}
		}
		l.readChar()
	}
}

// readNumber reads an integer or floating constant with its C suffix.
func (l *Lexer) readNumber() Token {
	pos := l.position()
	start := l.pos

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		if !isHexDigit(l.ch) {
			return l.errorToken(pos, "hexadecimal constant has no digits")
		}
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return l.finishInteger(pos, start)
	}

	isFloat := false
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' {
		isFloat = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		isFloat = true
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		if !isDigit(l.ch) {
			return l.errorToken(pos, "exponent has no digits")
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if isFloat {
		if l.ch == 'f' || l.ch == 'F' || l.ch == 'l' || l.ch == 'L' {
			l.readChar()
		}
		if isLetter(l.ch) || isDigit(l.ch) {
			return l.errorToken(l.position(), fmt.Sprintf("invalid suffix %q on floating constant", l.ch))
		}
		return Token{Type: TokenFloat, Literal: l.input[start:l.pos], Pos: pos}
	}

	digits := l.input[start:l.pos]
	if len(digits) > 1 && digits[0] == '0' {
		for i, c := range digits {
			if c > '7' {
				return l.errorToken(Position{Offset: start + i, Line: pos.Line, Column: pos.Column + i},
					fmt.Sprintf("invalid digit %q in octal constant", c))
			}
		}
	}
	return l.finishInteger(pos, start)
}

// finishInteger consumes an optional u/l suffix combination.
func (l *Lexer) finishInteger(pos Position, start int) Token {
	for n := 0; n < 3 && (l.ch == 'u' || l.ch == 'U' || l.ch == 'l' || l.ch == 'L'); n++ {
		l.readChar()
	}
	if isLetter(l.ch) || isDigit(l.ch) {
		return l.errorToken(l.position(), fmt.Sprintf("invalid suffix %q on integer constant", l.ch))
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

// Tokenize returns all tokens of input, ending with EOF. A lexical error is
// returned as a lex-stage *Error.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenError {
			return nil, lexError(tok.Pos, tok.Literal)
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// Helper functions

func isLetter(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
