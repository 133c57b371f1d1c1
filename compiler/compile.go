package compiler

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/tracefilter/pkg/bytecode"
)

// Limits bounds the resources a single compilation may use. Zero fields
// fall back to DefaultLimits.
type Limits struct {
	MaxDepth        int
	MaxLiterals     int
	MaxFields       int
	MaxInstructions int
}

// DefaultLimits are used by the package-level Compile.
var DefaultLimits = Limits{
	MaxDepth:        64,
	MaxLiterals:     bytecode.DefaultLimits.MaxLiterals,
	MaxFields:       bytecode.DefaultLimits.MaxFields,
	MaxInstructions: bytecode.DefaultLimits.MaxInstructions,
}

func (l Limits) withDefaults() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultLimits.MaxDepth
	}
	if l.MaxLiterals <= 0 {
		l.MaxLiterals = DefaultLimits.MaxLiterals
	}
	if l.MaxFields <= 0 {
		l.MaxFields = DefaultLimits.MaxFields
	}
	if l.MaxInstructions <= 0 {
		l.MaxInstructions = DefaultLimits.MaxInstructions
	}
	return l
}

func (l Limits) assemblerLimits() bytecode.Limits {
	return bytecode.Limits{
		MaxLiterals:     l.MaxLiterals,
		MaxFields:       l.MaxFields,
		MaxInstructions: l.MaxInstructions,
	}
}

// Compiler turns filter text into bytecode. It holds only configuration,
// so one Compiler may be shared between goroutines.
type Compiler struct {
	limits Limits
	log    commonlog.Logger
}

// New creates a Compiler with the given limits.
func New(limits Limits) *Compiler {
	return &Compiler{
		limits: limits.withDefaults(),
		log:    commonlog.GetLogger("tracefilter.compiler"),
	}
}

// Limits returns the effective limits.
func (c *Compiler) Limits() Limits { return c.limits }

// unit is the per-call state of one compilation.
type unit struct {
	text   string
	tokens []Token
	ast    *Ast
	ir     *IrRoot
}

// Frontend lexes, parses, validates and lowers text.
func (c *Compiler) Frontend(text string) (*IrRoot, error) {
	u := &unit{text: text}
	if err := c.frontend(u); err != nil {
		return nil, err
	}
	return u.ir, nil
}

func (c *Compiler) frontend(u *unit) error {
	var err error
	if u.tokens, err = Tokenize(u.text); err != nil {
		c.log.Debugf("lex failed: %s", err)
		return err
	}
	if u.ast, err = Parse(u.text, u.tokens, c.limits); err != nil {
		c.log.Debugf("parse failed: %s", err)
		return err
	}
	if u.ast, err = Validate(u.ast); err != nil {
		c.log.Debugf("validation failed: %s", err)
		return err
	}
	if u.ir, err = Lower(u.ast); err != nil {
		c.log.Debugf("lowering failed: %s", err)
		return err
	}
	return nil
}

// Generate emits bytecode for ir under the compiler's limits.
func (c *Compiler) Generate(ir *IrRoot) (*bytecode.Program, error) {
	p, err := Generate(ir, c.limits)
	if err != nil {
		c.log.Debugf("emit failed: %s", err)
		return nil, err
	}
	return p, nil
}

// Compile runs the full pipeline. On failure no program is returned.
func (c *Compiler) Compile(text string) (*bytecode.Program, error) {
	u := &unit{text: text}
	if err := c.frontend(u); err != nil {
		return nil, err
	}
	p, err := c.Generate(u.ir)
	if err != nil {
		return nil, err
	}
	c.log.Debugf("compiled %q: %d instructions, %d literals, %d fields",
		text, len(p.Code), len(p.Literals), len(p.Fields))
	return p, nil
}

var defaultCompiler = New(DefaultLimits)

// Compile compiles text with DefaultLimits.
func Compile(text string) (*bytecode.Program, error) {
	return defaultCompiler.Compile(text)
}

// Frontend runs the front end with DefaultLimits.
func Frontend(text string) (*IrRoot, error) {
	return defaultCompiler.Frontend(text)
}
