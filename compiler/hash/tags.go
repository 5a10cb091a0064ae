package hash

import "github.com/wrapl/minilang-sub003/compiler"

// ---------------------------------------------------------------------------
// Frozen tag bytes for the digest serialization format.
//
// A tag must never change meaning once assigned. Adding tags is fine;
// changing existing ones invalidates every stored digest, including the
// keys of compile caches.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
const HashVersion byte = 1

// Constant value tags.
const (
	TagReservedZero byte = 0x00

	TagNil     byte = 0x01
	TagBool    byte = 0x02
	TagInt     byte = 0x03
	TagReal    byte = 0x04
	TagComplex byte = 0x05
	TagString  byte = 0x06
	TagBytes   byte = 0x07
	TagSymbol  byte = 0x08
	TagMethod  byte = 0x09
	TagTuple   byte = 0x0A
	TagMacro   byte = 0x0B
	TagOpaque  byte = 0x0F // any other value, by its printed form

	// TagAbsent marks an optional child that is not present.
	TagAbsent byte = 0x1F
)

// TagKindBase is added to a compiler.Kind to give its node tag.
const TagKindBase byte = 0x20

// Clause and declaration tags.
const (
	TagIfCase     byte = 0x80
	TagOnClause   byte = 0x81
	TagWhenClause byte = 0x82
	TagGenClause  byte = 0x83
	TagDecl       byte = 0x84
	TagParam      byte = 0x85
)

// KindTag returns the node tag for k.
func KindTag(k compiler.Kind) byte { return TagKindBase + byte(k) }

// allTags lists every defined tag for uniqueness verification in tests.
func allTags() []byte {
	tags := []byte{
		TagReservedZero,
		TagNil, TagBool, TagInt, TagReal, TagComplex, TagString, TagBytes,
		TagSymbol, TagMethod, TagTuple, TagMacro, TagOpaque, TagAbsent,
		TagIfCase, TagOnClause, TagWhenClause, TagGenClause, TagDecl, TagParam,
	}
	for k := compiler.KindNil; k <= compiler.KindRetry; k++ {
		tags = append(tags, KindTag(k))
	}
	return tags
}
