package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the filter expression lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger          // 42, 0x2A, 052, 42ul
	TokenFloat            // 3.14, .5, 1e9, 2.5f
	TokenString           // "hello\n"
	TokenIdentifier       // pid, _field
	TokenGlobalIdentifier // $ctx, $app

	// Arithmetic
	TokenStar    // *
	TokenSlash   // /
	TokenPercent // %
	TokenPlus    // +
	TokenMinus   // -

	// Bitwise
	TokenShiftLeft  // <<
	TokenShiftRight // >>
	TokenAmp        // &
	TokenPipe       // |
	TokenCaret      // ^
	TokenTilde      // ~

	// Logical
	TokenAndAnd // &&
	TokenOrOr   // ||
	TokenBang   // !

	// Relational
	TokenEq // ==
	TokenNe // !=
	TokenGt // >
	TokenLt // <
	TokenGe // >=
	TokenLe // <=

	// Delimiters
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenDot      // .
	TokenArrow    // ->
	TokenColon    // :
)

var tokenNames = map[TokenType]string{
	TokenEOF:              "EOF",
	TokenError:            "ERROR",
	TokenInteger:          "INTEGER",
	TokenFloat:            "FLOAT",
	TokenString:           "STRING",
	TokenIdentifier:       "IDENTIFIER",
	TokenGlobalIdentifier: "GLOBAL_IDENTIFIER",
	TokenStar:             "*",
	TokenSlash:            "/",
	TokenPercent:          "%",
	TokenPlus:             "+",
	TokenMinus:            "-",
	TokenShiftLeft:        "<<",
	TokenShiftRight:       ">>",
	TokenAmp:              "&",
	TokenPipe:             "|",
	TokenCaret:            "^",
	TokenTilde:            "~",
	TokenAndAnd:           "&&",
	TokenOrOr:             "||",
	TokenBang:             "!",
	TokenEq:               "==",
	TokenNe:               "!=",
	TokenGt:               ">",
	TokenLt:               "<",
	TokenGe:               ">=",
	TokenLe:               "<=",
	TokenLParen:           "(",
	TokenRParen:           ")",
	TokenLBracket:         "[",
	TokenRBracket:         "]",
	TokenDot:              ".",
	TokenArrow:            "->",
	TokenColon:            ":",
}

// String returns the string representation of a token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// ---------------------------------------------------------------------------
// Token
// ---------------------------------------------------------------------------

// Token represents a lexical token. String tokens carry the raw text
// between the quotes, with escapes undecoded.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// String returns a debug representation of the token.
func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	case TokenString:
		return fmt.Sprintf("STRING(%q)", t.Literal)
	case TokenIdentifier, TokenGlobalIdentifier, TokenInteger, TokenFloat:
		return fmt.Sprintf("%s(%s)", t.Type, t.Literal)
	default:
		return t.Type.String()
	}
}

// Describe renders the token for error messages.
func (t Token) Describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenString:
		return fmt.Sprintf("string %q", t.Literal)
	case TokenIdentifier, TokenGlobalIdentifier, TokenInteger, TokenFloat:
		return fmt.Sprintf("%q", t.Literal)
	default:
		return fmt.Sprintf("'%s'", t.Type)
	}
}
