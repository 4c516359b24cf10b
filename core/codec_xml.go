package core

import (
	"fmt"
	"strings"
)

// ToXML renders a single value as an XML element, escaping text content.
// Like ToJSON, this is a one-way emitter: there is no XML parser in scope.
func (v *Value) ToXML() string {
	var b strings.Builder
	writeValueXML(&b, v)
	return b.String()
}

func writeValueXML(b *strings.Builder, v *Value) {
	fmt.Fprintf(b, `<value name=%q type=%q>`, v.name, v.tag.String())
	if v.tag == TagContainer {
		for _, child := range v.children {
			writeValueXML(b, child)
		}
	} else {
		b.WriteString(xmlEscape(v.ToString()))
	}
	b.WriteString("</value>")
}

// ToXML renders the whole container as an XML document: a header element
// followed by the top-level values in order.
func (c *Container) ToXML() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	b.WriteString("<container>")
	fmt.Fprintf(&b, "<header><source_id>%s</source_id><source_sub_id>%s</source_sub_id>"+
		"<target_id>%s</target_id><target_sub_id>%s</target_sub_id>"+
		"<message_type>%s</message_type><version>%s</version></header>",
		xmlEscape(c.header.SourceID), xmlEscape(c.header.SourceSubID),
		xmlEscape(c.header.TargetID), xmlEscape(c.header.TargetSubID),
		xmlEscape(c.header.MessageType), xmlEscape(c.header.Version))
	b.WriteString("<values>")
	for _, v := range c.units {
		writeValueXML(&b, v)
	}
	b.WriteString("</values></container>")
	return b.String()
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(s)
}
