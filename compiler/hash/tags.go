package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the fingerprint serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every fingerprint already stored in a registry.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing fingerprints.
const HashVersion byte = 1

// IR node type tags.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Literal values
	TagIntLiteral    byte = 0x01
	TagFloatLiteral  byte = 0x02
	TagStringLiteral byte = 0x03
	TagGlobLiteral   byte = 0x04

	// Field references
	TagField byte = 0x08

	// Operators
	TagUnary   byte = 0x10
	TagBinary  byte = 0x11
	TagLogical byte = 0x12

	// Path segments (used within field serialization)
	TagSegmentName  byte = 0x20
	TagSegmentIndex byte = 0x21

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagIntLiteral, TagFloatLiteral, TagStringLiteral, TagGlobLiteral,
	TagField,
	TagUnary, TagBinary, TagLogical,
	TagSegmentName, TagSegmentIndex,
}
