package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

// encodeText renders a value's payload as the <text_payload> that appears
// between the second and third commas of a `[name,type,payload];` entry.
// childCount is only consulted for TagContainer, where the wire carries the
// declared number of following child entries rather than any byte payload.
func encodeText(tag Tag, payload []byte, childCount int) string {
	switch tag {
	case TagNull:
		return ""
	case TagBool:
		if len(payload) > 0 && payload[0] != 0 {
			return "true"
		}
		return "false"
	case TagShort:
		return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(payload))), 10)
	case TagUShort:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint16(payload)), 10)
	case TagInt:
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(payload))), 10)
	case TagUint:
		return strconv.FormatUint(uint64(binary.LittleEndian.Uint32(payload)), 10)
	case TagLong, TagLLong:
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(payload)), 10)
	case TagULong, TagULLong:
		return strconv.FormatUint(binary.LittleEndian.Uint64(payload), 10)
	case TagFloat:
		v := math.Float32frombits(binary.LittleEndian.Uint32(payload))
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case TagDouble:
		v := math.Float64frombits(binary.LittleEndian.Uint64(payload))
		return strconv.FormatFloat(v, 'g', -1, 64)
	case TagBytes:
		return hex.EncodeToString(payload)
	case TagString:
		return string(payload)
	case TagContainer:
		return strconv.Itoa(childCount)
	default:
		return ""
	}
}

// decodeText parses a <text_payload> back into a value's raw payload bytes.
// For TagContainer it returns the declared child count instead, via
// decodeContainerCount; callers must not treat that return as a byte blob.
//
// Known wire simplification carried over unchanged from the original system:
// string payloads are not escaped, so a literal "];" inside a string value
// truncates the field early. New implementations could reject or escape such
// input, but this one preserves the original (silent-truncation) behavior
// for wire compatibility; see the decision log in DESIGN.md.
func decodeText(tag Tag, text string) ([]byte, error) {
	switch tag {
	case TagNull:
		return nil, nil
	case TagBool:
		if text == "true" || text == "1" {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TagShort:
		n, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: short %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(int16(n)))
		return buf, nil
	case TagUShort:
		n, err := strconv.ParseUint(text, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: ushort %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(n))
		return buf, nil
	case TagInt:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: int %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(n)))
		return buf, nil
	case TagUint:
		n, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: uint %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(n))
		return buf, nil
	case TagLong, TagLLong:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: long %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(n))
		return buf, nil
	case TagULong, TagULLong:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: ulong %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, n)
		return buf, nil
	case TagFloat:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: float %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil
	case TagDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: double %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil
	case TagBytes:
		b, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: bytes %q: %v", ErrMalformedContainer, text, err)
		}
		return b, nil
	case TagString:
		return []byte(text), nil
	case TagContainer:
		n, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: container count %q: %v", ErrMalformedContainer, text, err)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(n))
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: code %d", ErrInvalidType, tag)
	}
}

// decodeContainerCount reads the declared child count back out of the 4-byte
// payload produced by decodeText for a TagContainer entry.
func decodeContainerCount(payload []byte) uint32 {
	if len(payload) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(payload)
}
