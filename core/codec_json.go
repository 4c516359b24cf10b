package core

import "encoding/json"

// jsonNode mirrors a single value for one-way JSON emission: leaves carry
// Value, containers carry Children. There is no JSON parser in scope — this
// format exists for logging and external consumption, not round-tripping.
type jsonNode struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Value    string     `json:"value,omitempty"`
	Children []jsonNode `json:"children,omitempty"`
}

func (v *Value) toJSONNode() jsonNode {
	n := jsonNode{Name: v.name, Type: v.tag.String()}
	if v.tag == TagContainer {
		for _, child := range v.children {
			n.Children = append(n.Children, child.toJSONNode())
		}
	} else {
		n.Value = v.ToString()
	}
	return n
}

// ToJSON renders a single value (and, recursively, its children) as JSON.
func (v *Value) ToJSON() ([]byte, error) {
	return json.Marshal(v.toJSONNode())
}

type jsonHeader struct {
	SourceID    string `json:"source_id"`
	SourceSubID string `json:"source_sub_id"`
	TargetID    string `json:"target_id"`
	TargetSubID string `json:"target_sub_id"`
	MessageType string `json:"message_type"`
	Version     string `json:"version"`
}

type jsonContainer struct {
	Header jsonHeader          `json:"header"`
	Values map[string]jsonNode `json:"values"`
}

// ToJSON renders the whole container (header plus top-level values, keyed
// by name) as JSON. Duplicate top-level names collapse to their last
// occurrence (unlike GetValue(name, 0), which returns the first); this is
// purely a convenience view for logging.
func (c *Container) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := jsonContainer{
		Header: jsonHeader{
			SourceID:    c.header.SourceID,
			SourceSubID: c.header.SourceSubID,
			TargetID:    c.header.TargetID,
			TargetSubID: c.header.TargetSubID,
			MessageType: c.header.MessageType,
			Version:     c.header.Version,
		},
		Values: make(map[string]jsonNode, len(c.units)),
	}
	for _, v := range c.units {
		out.Values[v.name] = v.toJSONNode()
	}
	return json.Marshal(out)
}
