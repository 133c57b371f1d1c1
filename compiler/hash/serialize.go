package hash

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/tracefilter/compiler"
	"github.com/chazu/tracefilter/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a filter IR tree.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (int64=8B, uint64=8B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Operators and scopes: their source spelling, as strings
//   - Child nodes: serialized inline (flat)
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of an IR tree.
// The returned bytes are suitable for hashing with SHA-256.
func Serialize(node compiler.IrNode) []byte {
	s := &serializer{buf: make([]byte, 0, 128)}
	s.writeByte(HashVersion)
	s.serializeNode(node)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) serializeNode(node compiler.IrNode) {
	switch n := node.(type) {
	case *compiler.IrRoot:
		s.serializeNode(n.Child)

	case *compiler.IrLiteral:
		switch n.Value.Kind {
		case bytecode.LiteralInt:
			s.writeByte(TagIntLiteral)
			s.writeUint64(uint64(n.Value.Int))
		case bytecode.LiteralFloat:
			s.writeByte(TagFloatLiteral)
			s.writeUint64(math.Float64bits(n.Value.Float))
		case bytecode.LiteralString:
			if n.Glob {
				s.writeByte(TagGlobLiteral)
			} else {
				s.writeByte(TagStringLiteral)
			}
			s.writeString(n.Value.Str)
		default:
			panic(fmt.Sprintf("hash: unknown literal kind %d", n.Value.Kind))
		}

	case *compiler.IrField:
		s.writeByte(TagField)
		s.writeString(scopeName(n.Path.Scope))
		s.writeUint32(uint32(len(n.Path.Segments)))
		for _, seg := range n.Path.Segments {
			if seg.IsIndex {
				s.writeByte(TagSegmentIndex)
				s.writeUint64(seg.Index)
			} else {
				s.writeByte(TagSegmentName)
				s.writeString(seg.Name)
			}
		}

	case *compiler.IrUnary:
		s.writeByte(TagUnary)
		s.writeString(n.Op.String())
		s.serializeNode(n.Child)

	case *compiler.IrBinary:
		s.writeByte(TagBinary)
		s.writeString(n.Op.String())
		s.serializeNode(n.Left)
		s.serializeNode(n.Right)

	case *compiler.IrLogical:
		s.writeByte(TagLogical)
		s.writeString(n.Op.String())
		s.serializeNode(n.Left)
		s.serializeNode(n.Right)

	default:
		panic(fmt.Sprintf("hash: unknown IR node %T", node))
	}
}

// scopeName spells a field scope independently of the enum's numbering.
func scopeName(sc compiler.Scope) string {
	switch sc {
	case compiler.ScopeContext:
		return "$ctx"
	case compiler.ScopeAppContext:
		return "$app"
	default:
		return "event"
	}
}
