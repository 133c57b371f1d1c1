package compiler

import (
	"errors"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: precedence-climbing parser for filter expressions
// ---------------------------------------------------------------------------

type binaryInfo struct {
	prec int
	op   BinaryOpKind
}

// Binary operator precedence, low to high. All are left-associative.
var binaryOps = map[TokenType]binaryInfo{
	TokenOrOr:       {1, BinLogicalOr},
	TokenAndAnd:     {2, BinLogicalAnd},
	TokenPipe:       {3, BinBitOr},
	TokenCaret:      {4, BinBitXor},
	TokenAmp:        {5, BinBitAnd},
	TokenEq:         {6, BinEq},
	TokenNe:         {6, BinNe},
	TokenLt:         {7, BinLt},
	TokenGt:         {7, BinGt},
	TokenLe:         {7, BinLe},
	TokenGe:         {7, BinGe},
	TokenShiftLeft:  {8, BinLshift},
	TokenShiftRight: {8, BinRshift},
	TokenPlus:       {9, BinPlus},
	TokenMinus:      {9, BinMinus},
	TokenStar:       {10, BinMul},
	TokenSlash:      {10, BinDiv},
	TokenPercent:    {10, BinMod},
}

var unaryOps = map[TokenType]UnaryOpKind{
	TokenPlus:  UnaryPlus,
	TokenMinus: UnaryMinus,
	TokenBang:  UnaryNot,
	TokenTilde: UnaryBitNot,
}

// Parser builds an Ast from a token slice. It stops at the first error.
type Parser struct {
	tokens   []Token
	pos      int
	ast      *Ast
	maxDepth int
	depth    int

	// heights holds the subtree height of composite nodes. Leaves are 1.
	heights map[NodeID]int
}

// NewParser creates a parser over tokens, which must end with TokenEOF.
func NewParser(source string, tokens []Token, maxDepth int) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		eofPos := Position{Offset: len(source)}
		tokens = append(tokens, Token{Type: TokenEOF, Pos: eofPos})
	}
	if maxDepth <= 0 {
		maxDepth = DefaultLimits.MaxDepth
	}
	return &Parser{tokens: tokens, ast: newAst(source), maxDepth: maxDepth, heights: make(map[NodeID]int)}
}

// Parse parses tokens into an Ast.
func Parse(source string, tokens []Token, limits Limits) (*Ast, error) {
	return NewParser(source, tokens, limits.MaxDepth).Parse()
}

// ParseString tokenizes and parses source with default limits.
func ParseString(source string) (*Ast, error) {
	tokens, err := Tokenize(source)
	if err != nil {
		return nil, err
	}
	return Parse(source, tokens, DefaultLimits)
}

// Parse runs the parser.
func (p *Parser) Parse() (*Ast, error) {
	if p.cur().Type == TokenEOF {
		return nil, p.errorf("empty filter expression")
	}

	root := p.ast.add(&Root{NodeHeader: NodeHeader{Pos: p.cur().Pos}, Child: NoNode})
	p.ast.root = root

	child, err := p.parseExpression(1)
	if err != nil {
		return nil, err
	}
	if p.cur().Type != TokenEOF {
		return nil, p.errorf("unexpected %s after expression", p.cur().Describe())
	}
	p.ast.Root().Child = child
	return p.ast, nil
}

func (p *Parser) cur() Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(t TokenType, context string) (Token, error) {
	if p.cur().Type != t {
		return Token{}, p.errorf("expected '%s' %s, got %s", t, context, p.cur().Describe())
	}
	return p.advance(), nil
}

// errorf reports an error at the current token.
func (p *Parser) errorf(format string, args ...any) error {
	return parseError(p.pos+1, p.cur(), format, args...)
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > p.maxDepth {
		return p.errorf("expression nesting exceeds maximum depth %d", p.maxDepth)
	}
	return nil
}

func (p *Parser) leave() { p.depth-- }

func (p *Parser) height(id NodeID) int {
	if h, ok := p.heights[id]; ok {
		return h
	}
	return 1
}

// setHeight records the height of id. Left-associative operator runs and
// access chains grow the tree without recursing in the parser, so the
// limit is enforced on the tree itself as well.
func (p *Parser) setHeight(id NodeID, h int, tokIdx int, tok Token) error {
	if h > p.maxDepth {
		return parseError(tokIdx, tok, "expression nesting exceeds maximum depth %d", p.maxDepth)
	}
	p.heights[id] = h
	return nil
}

// parseExpression parses binary operators of precedence >= minPrec.
func (p *Parser) parseExpression(minPrec int) (NodeID, error) {
	if err := p.enter(); err != nil {
		return NoNode, err
	}
	defer p.leave()

	left, err := p.parseUnary()
	if err != nil {
		return NoNode, err
	}

	for {
		info, ok := binaryOps[p.cur().Type]
		if !ok || info.prec < minPrec {
			return left, nil
		}
		opIdx := p.pos + 1
		opTok := p.advance()
		right, err := p.parseExpression(info.prec + 1)
		if err != nil {
			return NoNode, err
		}
		h := 1 + max(p.height(left), p.height(right))
		left = p.ast.add(&BinaryOp{
			NodeHeader: NodeHeader{Pos: opTok.Pos},
			Op:         info.op,
			Left:       left,
			Right:      right,
		})
		if err := p.setHeight(left, h, opIdx, opTok); err != nil {
			return NoNode, err
		}
	}
}

func (p *Parser) parseUnary() (NodeID, error) {
	op, ok := unaryOps[p.cur().Type]
	if !ok {
		return p.parsePostfix()
	}
	if err := p.enter(); err != nil {
		return NoNode, err
	}
	defer p.leave()

	opIdx := p.pos + 1
	opTok := p.advance()
	child, err := p.parseUnary()
	if err != nil {
		return NoNode, err
	}
	id := p.ast.add(&UnaryOp{NodeHeader: NodeHeader{Pos: opTok.Pos}, Op: op, Child: child})
	if err := p.setHeight(id, 1+p.height(child), opIdx, opTok); err != nil {
		return NoNode, err
	}
	return id, nil
}

// parsePostfix parses a primary followed by any number of '.', '->' and
// '[...]' accessors, building a linked chain of Expression segments.
func (p *Parser) parsePostfix() (NodeID, error) {
	headIdx, headTok := p.pos+1, p.cur()
	head, err := p.parsePrimary()
	if err != nil {
		return NoNode, err
	}

	last := head
	lastBracket := NoNode
	segments, brackets := 1, 0
	for {
		switch p.cur().Type {
		case TokenDot, TokenArrow:
			if segments++; segments > p.maxDepth {
				return NoNode, p.errorf("expression nesting exceeds maximum depth %d", p.maxDepth)
			}
			link := LinkDot
			if p.cur().Type == TokenArrow {
				link = LinkArrow
			}
			p.advance()
			nameTok, err := p.expect(TokenIdentifier, "after '"+link.String()+"'")
			if err != nil {
				return NoNode, err
			}
			name := nameTok.Literal
			raw := nameTok.Literal
			if p.cur().Type == TokenColon {
				p.advance()
				ctxTok, err := p.expect(TokenIdentifier, "after ':'")
				if err != nil {
					return NoNode, err
				}
				name += ":" + ctxTok.Literal
				raw = name
			}

			seg, e := p.ast.newExpr(ExprIdentifier, nameTok.Pos)
			e.Str = name
			e.Raw = raw
			e.PreOp = link
			e.Prev = last
			prev := p.ast.Expr(last)
			prev.Next = seg
			prev.PostOp = link
			last = seg
			lastBracket = NoNode
			brackets = 0

		case TokenLBracket:
			if brackets++; brackets >= p.maxDepth {
				return NoNode, p.errorf("expression nesting exceeds maximum depth %d", p.maxDepth)
			}
			open := p.advance()
			if err := p.enter(); err != nil {
				return NoNode, err
			}
			idx, err := p.parseExpression(1)
			p.leave()
			if err != nil {
				return NoNode, err
			}
			if _, err := p.expect(TokenRBracket, "to close '['"); err != nil {
				return NoNode, err
			}

			br, e := p.ast.newExpr(ExprNested, open.Pos)
			e.PreOp = LinkBracket
			e.Child = idx

			if lastBracket.Valid() {
				p.ast.Expr(lastBracket).NextBracket = br
			} else {
				p.ast.Expr(last).NextBracket = br
			}
			lastBracket = br

		default:
			if last == head && !lastBracket.Valid() {
				return head, nil
			}
			if err := p.setHeight(head, p.chainHeight(head), headIdx, headTok); err != nil {
				return NoNode, err
			}
			return head, nil
		}
	}
}

// chainHeight computes the height of an access chain. Each segment links
// to its bracket list and to the next segment.
func (p *Parser) chainHeight(head NodeID) int {
	h := 0
	segs := p.ast.Segments(head)
	for i := len(segs) - 1; i >= 0; i-- {
		e := p.ast.Expr(segs[i])
		seg := 1 + h
		if e.Child.Valid() {
			seg = max(seg, 1+p.height(e.Child))
		}
		idxs := p.ast.Brackets(segs[i])
		bh := 0
		for j := len(idxs) - 1; j >= 0; j-- {
			bh = 1 + max(bh, p.height(idxs[j]))
		}
		h = max(seg, 1+bh)
	}
	return h
}

func (p *Parser) parsePrimary() (NodeID, error) {
	tok := p.cur()
	switch tok.Type {
	case TokenIdentifier, TokenGlobalIdentifier:
		p.advance()
		kind := ExprIdentifier
		if tok.Type == TokenGlobalIdentifier {
			kind = ExprGlobalIdentifier
		}
		id, e := p.ast.newExpr(kind, tok.Pos)
		e.Str = tok.Literal
		e.Raw = tok.Literal
		return id, nil

	case TokenInteger:
		v, err := parseIntegerLiteral(tok.Literal)
		if err != nil {
			return NoNode, p.errorf("integer constant %s: %v", tok.Literal, err)
		}
		p.advance()
		id, e := p.ast.newExpr(ExprConstant, tok.Pos)
		e.Int = v
		e.Raw = tok.Literal
		return id, nil

	case TokenFloat:
		v, err := parseFloatLiteral(tok.Literal)
		if err != nil {
			return NoNode, p.errorf("floating constant %s: %v", tok.Literal, err)
		}
		p.advance()
		id, e := p.ast.newExpr(ExprFloatConstant, tok.Pos)
		e.Float = v
		e.Raw = tok.Literal
		return id, nil

	case TokenString:
		p.advance()
		id, e := p.ast.newExpr(ExprString, tok.Pos)
		e.Raw = tok.Literal
		e.Str = tok.Literal
		return id, nil

	case TokenLParen:
		p.advance()
		inner, err := p.parseExpression(1)
		if err != nil {
			return NoNode, err
		}
		if _, err := p.expect(TokenRParen, "to close '('"); err != nil {
			return NoNode, err
		}
		id, e := p.ast.newExpr(ExprNested, tok.Pos)
		e.Child = inner
		p.heights[id] = 1 + p.height(inner)
		return id, nil

	case TokenRParen:
		return NoNode, p.errorf("unmatched ')'")
	case TokenRBracket:
		return NoNode, p.errorf("unmatched ']'")
	case TokenEOF:
		return NoNode, p.errorf("unexpected end of input, expected an operand")
	}
	return NoNode, p.errorf("unexpected %s, expected an operand", tok.Describe())
}

func parseIntegerLiteral(lit string) (uint64, error) {
	digits := strings.TrimRight(lit, "uUlL")
	base := 10
	switch {
	case strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X"):
		base = 16
		digits = digits[2:]
	case len(digits) > 1 && digits[0] == '0':
		base = 8
		digits = digits[1:]
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, errors.New("out of range")
		}
		return 0, errors.New("malformed")
	}
	return v, nil
}

func parseFloatLiteral(lit string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimRight(lit, "fFlL"), 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, errors.New("out of range")
		}
		return 0, errors.New("malformed")
	}
	return v, nil
}
