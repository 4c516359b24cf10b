package core

import (
	"encoding/binary"
	"math"
)

// Tag identifies the wire type of a Value. The numeric codes match the
// container wire grammar's <type_code> field exactly and must never change.
type Tag uint8

const (
	TagNull Tag = iota
	TagBool
	TagShort
	TagUShort
	TagInt
	TagUint
	TagLong
	TagULong
	TagLLong
	TagULLong
	TagFloat
	TagDouble
	TagBytes
	TagString
	TagContainer
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagShort:
		return "short"
	case TagUShort:
		return "ushort"
	case TagInt:
		return "int"
	case TagUint:
		return "uint"
	case TagLong:
		return "long"
	case TagULong:
		return "ulong"
	case TagLLong:
		return "llong"
	case TagULLong:
		return "ullong"
	case TagFloat:
		return "float"
	case TagDouble:
		return "double"
	case TagBytes:
		return "bytes"
	case TagString:
		return "string"
	case TagContainer:
		return "container"
	default:
		return "unknown"
	}
}

// ParseTag validates a numeric wire type code.
func ParseTag(code int) (Tag, error) {
	if code < int(TagNull) || code > int(TagContainer) {
		return 0, ErrInvalidType
	}
	return Tag(code), nil
}

// Value is a single named, typed entry in a container tree. Name, tag and
// payload do not change once constructed; AddChild and SetParent change the
// children and parent pointer without taking any lock.
type Value struct {
	name     string
	tag      Tag
	payload  []byte
	parent   *Value
	children []*Value
}

func newLeaf(name string, tag Tag, payload []byte) *Value {
	return &Value{name: name, tag: tag, payload: payload}
}

// NewNull builds a null-tagged value; it carries a name but no payload.
func NewNull(name string) *Value { return newLeaf(name, TagNull, nil) }

// NewBool builds a bool-tagged value, stored as a single 0/1 byte.
func NewBool(name string, v bool) *Value {
	b := byte(0)
	if v {
		b = 1
	}
	return newLeaf(name, TagBool, []byte{b})
}

// NewShort builds an int16-tagged value, little-endian.
func NewShort(name string, v int16) *Value {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(v))
	return newLeaf(name, TagShort, buf)
}

// NewUShort builds a uint16-tagged value, little-endian.
func NewUShort(name string, v uint16) *Value {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return newLeaf(name, TagUShort, buf)
}

// NewInt builds an int32-tagged value, little-endian.
func NewInt(name string, v int32) *Value {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return newLeaf(name, TagInt, buf)
}

// NewUint builds a uint32-tagged value, little-endian.
func NewUint(name string, v uint32) *Value {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return newLeaf(name, TagUint, buf)
}

// NewLong builds a 64-bit signed value (the wire's canonical "long").
func NewLong(name string, v int64) *Value {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return newLeaf(name, TagLong, buf)
}

// NewULong builds a 64-bit unsigned value.
func NewULong(name string, v uint64) *Value {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return newLeaf(name, TagULong, buf)
}

// NewLLong builds the wire's distinct "long long" 64-bit signed value.
func NewLLong(name string, v int64) *Value {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return newLeaf(name, TagLLong, buf)
}

// NewULLong builds the wire's distinct "unsigned long long" 64-bit value.
func NewULLong(name string, v uint64) *Value {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return newLeaf(name, TagULLong, buf)
}

// NewFloat builds a 32-bit float value.
func NewFloat(name string, v float32) *Value {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return newLeaf(name, TagFloat, buf)
}

// NewDouble builds a 64-bit float value.
func NewDouble(name string, v float64) *Value {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return newLeaf(name, TagDouble, buf)
}

// NewBytes builds a raw byte-string value. The payload is copied.
func NewBytes(name string, v []byte) *Value {
	cp := make([]byte, len(v))
	copy(cp, v)
	return newLeaf(name, TagBytes, cp)
}

// NewString builds a UTF-8 text value.
func NewString(name string, v string) *Value {
	return newLeaf(name, TagString, []byte(v))
}

// NewContainerValue builds an empty nested-container value. Children are
// attached with AddChild; the declared child count used on the wire is
// always recomputed from the live children slice at encode time, so there
// is nothing to keep in sync by hand.
func NewContainerValue(name string) *Value {
	return &Value{name: name, tag: TagContainer}
}

// Name returns the value's wire name.
func (v *Value) Name() string { return v.name }

// Tag returns the value's wire type.
func (v *Value) Tag() Tag { return v.tag }

// Parent returns the enclosing container value, or nil at the top level.
func (v *Value) Parent() *Value { return v.parent }

// SetParent rewrites the value's parent pointer directly. Container.Add
// uses this to clear a value's parent when it is attached at a container's
// top level rather than nested under another value.
func (v *Value) SetParent(p *Value) { v.parent = p }

// IsContainer reports whether the value holds nested children.
func (v *Value) IsContainer() bool { return v.tag == TagContainer }

// IsNull reports whether the value is null-tagged.
func (v *Value) IsNull() bool { return v.tag == TagNull }

// Children returns the ordered child values of a container-tagged value.
// Returns nil for any other tag.
func (v *Value) Children() []*Value {
	if v.tag != TagContainer {
		return nil
	}
	out := make([]*Value, len(v.children))
	copy(out, v.children)
	return out
}

// ChildCount returns the number of children of a container-tagged value, or
// 0 for any other tag. This is also the value the wire calls the "declared
// count" of a container node.
func (v *Value) ChildCount() int {
	if v.tag != TagContainer {
		return 0
	}
	return len(v.children)
}

// AddChild appends a child to a container-tagged value, setting the child's
// parent pointer. It is a no-op (returns false) on any other tag.
func (v *Value) AddChild(child *Value) bool {
	if v.tag != TagContainer || child == nil {
		return false
	}
	child.SetParent(v)
	v.children = append(v.children, child)
	return true
}

// rawPayload exposes the value's raw little-endian byte representation.
// Callers must not mutate the result.
func (v *Value) rawPayload() []byte { return v.payload }

// rawInt reinterprets the value's bit pattern as a signed 64-bit integer
// following the spec's widening/narrowing conversion rule: bytes/containers
// convert via their declared length/child count, floats truncate toward
// zero, and unsupported shapes yield 0.
func (v *Value) rawInt() int64 {
	switch v.tag {
	case TagBool:
		if len(v.payload) > 0 && v.payload[0] != 0 {
			return 1
		}
		return 0
	case TagShort:
		return int64(int16(binary.LittleEndian.Uint16(v.payload)))
	case TagUShort:
		return int64(binary.LittleEndian.Uint16(v.payload))
	case TagInt:
		return int64(int32(binary.LittleEndian.Uint32(v.payload)))
	case TagUint:
		return int64(binary.LittleEndian.Uint32(v.payload))
	case TagLong, TagLLong:
		return int64(binary.LittleEndian.Uint64(v.payload))
	case TagULong, TagULLong:
		return int64(binary.LittleEndian.Uint64(v.payload))
	case TagFloat:
		return int64(math.Float32frombits(binary.LittleEndian.Uint32(v.payload)))
	case TagDouble:
		return int64(math.Float64frombits(binary.LittleEndian.Uint64(v.payload)))
	case TagBytes:
		return int64(len(v.payload))
	case TagContainer:
		return int64(len(v.children))
	default:
		return 0
	}
}

// rawUint is rawInt's unsigned counterpart, preserving the bit pattern for
// the unsigned tags rather than sign-extending them.
func (v *Value) rawUint() uint64 {
	switch v.tag {
	case TagUShort:
		return uint64(binary.LittleEndian.Uint16(v.payload))
	case TagUint:
		return uint64(binary.LittleEndian.Uint32(v.payload))
	case TagULong, TagULLong:
		return binary.LittleEndian.Uint64(v.payload)
	default:
		return uint64(v.rawInt())
	}
}

// ToBool narrows the value to a boolean: zero is false, anything else true.
func (v *Value) ToBool() bool { return v.rawInt() != 0 }

// ToInt16 narrows the value to an int16.
func (v *Value) ToInt16() int16 { return int16(v.rawInt()) }

// ToUint16 narrows the value to a uint16.
func (v *Value) ToUint16() uint16 { return uint16(v.rawUint()) }

// ToInt32 narrows the value to an int32.
func (v *Value) ToInt32() int32 { return int32(v.rawInt()) }

// ToUint32 narrows the value to a uint32.
func (v *Value) ToUint32() uint32 { return uint32(v.rawUint()) }

// ToInt64 widens/narrows the value to an int64.
func (v *Value) ToInt64() int64 { return v.rawInt() }

// ToUint64 widens/narrows the value to a uint64.
func (v *Value) ToUint64() uint64 { return v.rawUint() }

// ToFloat32 converts the value to a float32.
func (v *Value) ToFloat32() float32 {
	switch v.tag {
	case TagFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(v.payload))
	case TagDouble:
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(v.payload)))
	default:
		return float32(v.rawInt())
	}
}

// ToFloat64 converts the value to a float64.
func (v *Value) ToFloat64() float64 {
	switch v.tag {
	case TagFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(v.payload)))
	case TagDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(v.payload))
	default:
		return float64(v.rawInt())
	}
}

// ToBytes returns the value's raw payload. For string values this is the
// UTF-8 encoding; for numeric values it is the little-endian bit pattern.
func (v *Value) ToBytes() []byte {
	out := make([]byte, len(v.payload))
	copy(out, v.payload)
	return out
}

// ToString renders the value's canonical wire text form, the same text used
// in the <text_payload> position of the `[name,type,payload];` grammar.
func (v *Value) ToString() string { return encodeText(v.tag, v.payload, len(v.children)) }
