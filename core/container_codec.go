package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Serialize renders the container to its canonical text wire form:
//
//	@header={[1,src];[2,src_sub];[3,tgt];[4,tgt_sub];[5,type];[6,version];};@data={[name,type,payload];...};
//
// The source/target fields (tags 1-4) are omitted entirely when
// message_type is still the default "data_container", though Deserialize
// always accepts them on input regardless of message_type.
//
// Container-tagged values are followed inline by their children's entries,
// depth first, with no closing marker beyond the declared child count.
func (c *Container) Serialize() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	b.WriteString("@header={")
	if c.header.MessageType != DefaultMessageType {
		fmt.Fprintf(&b, "[1,%s];[2,%s];[3,%s];[4,%s];",
			c.header.SourceID, c.header.SourceSubID,
			c.header.TargetID, c.header.TargetSubID)
	}
	fmt.Fprintf(&b, "[5,%s];[6,%s];", c.header.MessageType, c.header.Version)
	b.WriteString("};@data={")
	for _, v := range c.units {
		writeValueText(&b, v)
	}
	b.WriteString("};")
	return b.String(), nil
}

// SerializeArray returns the UTF-8 bytes of Serialize().
func (c *Container) SerializeArray() ([]byte, error) {
	text, err := c.Serialize()
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

func writeValueText(b *strings.Builder, v *Value) {
	fmt.Fprintf(b, "[%s,%d,%s];", v.name, v.tag, encodeText(v.tag, v.payload, len(v.children)))
	for _, child := range v.children {
		writeValueText(b, child)
	}
}

// Deserialize replaces the container's header and body by parsing text
// produced by Serialize (or a compatible peer). Every CR and LF character is
// removed from text before parsing. On any parse failure the container is
// left unmodified and an error wrapping ErrMalformedHeader or
// ErrMalformedContainer (or ErrInvalidType for an unknown value type code)
// is returned.
func (c *Container) Deserialize(text string) error {
	text = strings.NewReplacer("\r", "", "\n", "").Replace(text)
	header, rest, err := parseHeaderBlock(text)
	if err != nil {
		return err
	}
	units, err := parseDataBlock(rest)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.header = header
	c.units = units
	c.present = make(map[*Value]struct{}, len(units))
	for _, v := range units {
		c.present[v] = struct{}{}
	}
	return nil
}

func parseHeaderBlock(text string) (Header, string, error) {
	const open = "@header={"
	start := strings.Index(text, open)
	if start != 0 {
		return Header{}, "", fmt.Errorf("%w: missing @header={ prefix", ErrMalformedHeader)
	}
	body := text[len(open):]
	end := strings.Index(body, "};")
	if end < 0 {
		return Header{}, "", fmt.Errorf("%w: unterminated @header block", ErrMalformedHeader)
	}
	fields := body[:end]
	rest := body[end+2:]

	var h Header
	pos := 0
	for pos < len(fields) {
		if fields[pos] != '[' {
			return Header{}, "", fmt.Errorf("%w: expected '[' at header offset %d", ErrMalformedHeader, pos)
		}
		comma := strings.IndexByte(fields[pos:], ',')
		if comma < 0 {
			return Header{}, "", fmt.Errorf("%w: malformed header entry", ErrMalformedHeader)
		}
		idText := fields[pos+1 : pos+comma]
		closeMark := strings.Index(fields[pos:], "];")
		if closeMark < 0 {
			return Header{}, "", fmt.Errorf("%w: unterminated header entry", ErrMalformedHeader)
		}
		valueText := fields[pos+comma+1 : pos+closeMark]
		id, err := strconv.Atoi(idText)
		if err != nil {
			return Header{}, "", fmt.Errorf("%w: bad header field id %q: %v", ErrMalformedHeader, idText, err)
		}
		switch id {
		case 1:
			h.SourceID = valueText
		case 2:
			h.SourceSubID = valueText
		case 3:
			h.TargetID = valueText
		case 4:
			h.TargetSubID = valueText
		case 5:
			h.MessageType = valueText
		case 6:
			h.Version = valueText
		default:
			return Header{}, "", fmt.Errorf("%w: unknown header field id %d", ErrMalformedHeader, id)
		}
		pos = pos + closeMark + 2
	}
	return h, rest, nil
}

func parseDataBlock(text string) ([]*Value, error) {
	const open = "@data={"
	start := strings.Index(text, open)
	if start != 0 {
		return nil, fmt.Errorf("%w: missing @data={ prefix", ErrMalformedContainer)
	}
	body := text[len(open):]
	end := strings.LastIndex(body, "};")
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated @data block", ErrMalformedContainer)
	}
	body = body[:end]

	type stackFrame struct {
		value     *Value
		remaining int
	}
	var stack []*stackFrame
	var top []*Value

	pos := 0
	for pos < len(body) {
		if body[pos] != '[' {
			return nil, fmt.Errorf("%w: expected '[' at data offset %d", ErrMalformedContainer, pos)
		}
		firstComma := strings.IndexByte(body[pos:], ',')
		if firstComma < 0 {
			return nil, fmt.Errorf("%w: malformed data entry", ErrMalformedContainer)
		}
		name := body[pos+1 : pos+firstComma]
		rest := body[pos+firstComma+1:]
		secondComma := strings.IndexByte(rest, ',')
		if secondComma < 0 {
			return nil, fmt.Errorf("%w: malformed data entry", ErrMalformedContainer)
		}
		typeText := rest[:secondComma]
		code, err := strconv.Atoi(typeText)
		if err != nil {
			return nil, fmt.Errorf("%w: bad type code %q: %v", ErrMalformedContainer, typeText, err)
		}
		tag, err := ParseTag(code)
		if err != nil {
			return nil, err
		}

		closeMark := strings.Index(rest[secondComma+1:], "];")
		if closeMark < 0 {
			return nil, fmt.Errorf("%w: unterminated data entry", ErrMalformedContainer)
		}
		payloadText := rest[secondComma+1 : secondComma+1+closeMark]

		payload, err := decodeText(tag, payloadText)
		if err != nil {
			return nil, err
		}

		v := newLeaf(name, tag, payload)

		if len(stack) == 0 {
			top = append(top, v)
		} else {
			parent := stack[len(stack)-1]
			parent.value.children = append(parent.value.children, v)
			v.parent = parent.value
			parent.remaining--
		}

		if tag == TagContainer {
			v.payload = nil // count is tracked structurally, not as a byte payload, once parsed
			n := int(decodeContainerCount(payload))
			stack = append(stack, &stackFrame{value: v, remaining: n})
		}

		for len(stack) > 0 && stack[len(stack)-1].remaining == 0 {
			stack = stack[:len(stack)-1]
		}

		pos = pos + firstComma + 1 + secondComma + 1 + closeMark + 2
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: container declared more children than the stream supplied", ErrMalformedContainer)
	}
	return top, nil
}
