// Package variant implements the tagged value the host passes to scripts by
// placing it in the shared-memory arena and sending its virtual pointer.
package variant

import (
	"encoding/binary"
	"math"

	"ghostjail/errors"
)

// Tag identifies the kind of value a Variant holds.
type Tag uint8

const (
	TagNil Tag = iota
	TagInt
	TagDouble
	TagString
)

// Variant is a tagged value: nil, int, double, or length-prefixed string.
type Variant struct {
	Tag    Tag
	Int    int64
	Double float64
	Str    string
}

// Nil returns the nil variant.
func Nil() Variant { return Variant{Tag: TagNil} }

// Int returns an int variant.
func Int(v int64) Variant { return Variant{Tag: TagInt, Int: v} }

// Double returns a double variant.
func Double(v float64) Variant { return Variant{Tag: TagDouble, Double: v} }

// String returns a string variant.
func String(v string) Variant { return Variant{Tag: TagString, Str: v} }

// The on-wire encoding is 1 byte of tag, then the payload. Strings are
// length-prefixed (4-byte little endian length) with the bytes following
// in-place.
const (
	tagSize       = 1
	intPayload    = 8
	doublePayload = 8
	lenPrefix     = 4
)

// Encode marshals the variant into the arena's wire representation.
func Encode(v Variant) []byte {
	switch v.Tag {
	case TagNil:
		return []byte{byte(TagNil)}
	case TagInt:
		buf := make([]byte, tagSize+intPayload)
		buf[0] = byte(TagInt)
		binary.LittleEndian.PutUint64(buf[tagSize:], uint64(v.Int))
		return buf
	case TagDouble:
		buf := make([]byte, tagSize+doublePayload)
		buf[0] = byte(TagDouble)
		bits := doubleBits(v.Double)
		binary.LittleEndian.PutUint64(buf[tagSize:], bits)
		return buf
	case TagString:
		s := []byte(v.Str)
		buf := make([]byte, tagSize+lenPrefix+len(s))
		buf[0] = byte(TagString)
		binary.LittleEndian.PutUint32(buf[tagSize:], uint32(len(s)))
		copy(buf[tagSize+lenPrefix:], s)
		return buf
	default:
		return []byte{byte(TagNil)}
	}
}

// Size returns the encoded byte length of v without allocating.
func Size(v Variant) int {
	switch v.Tag {
	case TagNil:
		return tagSize
	case TagInt:
		return tagSize + intPayload
	case TagDouble:
		return tagSize + doublePayload
	case TagString:
		return tagSize + lenPrefix + len(v.Str)
	default:
		return tagSize
	}
}

// Decode reads a variant back out of raw arena bytes. A producer may leave
// a NUL immediately past a string's stored length so native readers get a
// terminated view cheaply; that byte is outside the decoded length and
// never alters the returned Go string.
func Decode(buf []byte) (Variant, error) {
	if len(buf) < tagSize {
		return Variant{}, errors.New(errors.ErrInternal, "variant.Decode", "buffer too small for tag")
	}
	switch Tag(buf[0]) {
	case TagNil:
		return Nil(), nil
	case TagInt:
		if len(buf) < tagSize+intPayload {
			return Variant{}, errors.New(errors.ErrInternal, "variant.Decode", "buffer too small for int")
		}
		return Int(int64(binary.LittleEndian.Uint64(buf[tagSize:]))), nil
	case TagDouble:
		if len(buf) < tagSize+doublePayload {
			return Variant{}, errors.New(errors.ErrInternal, "variant.Decode", "buffer too small for double")
		}
		return Double(bitsToDouble(binary.LittleEndian.Uint64(buf[tagSize:]))), nil
	case TagString:
		if len(buf) < tagSize+lenPrefix {
			return Variant{}, errors.New(errors.ErrInternal, "variant.Decode", "buffer too small for string length")
		}
		n := int(binary.LittleEndian.Uint32(buf[tagSize:]))
		start := tagSize + lenPrefix
		if len(buf) < start+n {
			return Variant{}, errors.New(errors.ErrInternal, "variant.Decode", "buffer too small for string body")
		}
		return String(string(buf[start : start+n])), nil
	default:
		return Variant{}, errors.New(errors.ErrInternal, "variant.Decode", "unknown tag")
	}
}

func doubleBits(f float64) uint64   { return math.Float64bits(f) }
func bitsToDouble(b uint64) float64 { return math.Float64frombits(b) }

// AsInt reads an int variant, enforcing tag match.
func AsInt(v Variant) (int64, bool) {
	if v.Tag != TagInt {
		return 0, false
	}
	return v.Int, true
}

// AsDouble reads a double variant, enforcing tag match.
func AsDouble(v Variant) (float64, bool) {
	if v.Tag != TagDouble {
		return 0, false
	}
	return v.Double, true
}

// AsString reads a string variant, enforcing tag match.
func AsString(v Variant) (string, bool) {
	if v.Tag != TagString {
		return "", false
	}
	return v.Str, true
}
