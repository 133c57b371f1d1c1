package compiler

import (
	"fmt"
	"strings"
)

// Glob patterns support '*', '?' and bracket classes ("[abc]", "[a-z]",
// "[!x]"). A backslash escapes the next metacharacter.

// hasGlobMeta reports whether s contains an unescaped glob metacharacter.
func hasGlobMeta(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// globSyntaxError locates a malformed pattern.
type globSyntaxError struct {
	index int // byte index into the pattern
	msg   string
}

func (e *globSyntaxError) Error() string {
	return fmt.Sprintf("%s at pattern index %d", e.msg, e.index)
}

// ValidateGlob checks escape and bracket-expression balance.
func ValidateGlob(pattern string) error {
	inClass := false
	classStart := 0
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\':
			if i+1 >= len(pattern) {
				return &globSyntaxError{i, "trailing backslash"}
			}
			i++
		case inClass:
			if c == ']' {
				if i == classStart {
					return &globSyntaxError{i, "empty bracket expression"}
				}
				inClass = false
			}
		case c == '[':
			inClass = true
			classStart = i + 1
			if classStart < len(pattern) && (pattern[classStart] == '!' || pattern[classStart] == '^') {
				i++
				classStart++
			}
		case c == ']':
			return &globSyntaxError{i, "unmatched ']'"}
		}
	}
	if inClass {
		return &globSyntaxError{classStart - 1, "unterminated bracket expression"}
	}
	return nil
}

// NormalizeGlob collapses runs of unescaped '*' outside bracket classes.
// It is idempotent: NormalizeGlob(NormalizeGlob(p)) == NormalizeGlob(p).
func NormalizeGlob(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	prevStar := false
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\':
			b.WriteByte(c)
			if i+1 < len(pattern) {
				i++
				b.WriteByte(pattern[i])
			}
			prevStar = false
			continue
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '*':
			if prevStar {
				continue
			}
			b.WriteByte(c)
			prevStar = true
			continue
		}
		b.WriteByte(c)
		prevStar = false
	}
	return b.String()
}

// unescapeGlob resolves the glob escapes preserved by string validation in
// a literal that is not used as a pattern.
func unescapeGlob(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
