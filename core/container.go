package core

import (
	"fmt"
	"os"
	"sync"
)

// DefaultMessageType is the header message_type used by newly constructed
// containers that have not set one explicitly.
const DefaultMessageType = "data_container"

// DefaultVersion is the header version stamped on newly constructed
// containers. The wire format does not interpret this field; it is carried
// for the benefit of receivers that want to branch on schema generation.
const DefaultVersion = "1.0.0.0"

// Header carries the fixed routing fields that precede every container's
// values on the wire.
type Header struct {
	SourceID      string
	SourceSubID   string
	TargetID      string
	TargetSubID   string
	MessageType   string
	Version       string
}

// Container is an ordered, named-value tree plus a routing header. All
// mutating and text-producing operations take the container's lock: reads
// (Serialize, GetValue, ValueArray) take it for reading, writes (Add,
// Remove, SetSource, SetTarget, SetMessageType, SwapHeader, Deserialize)
// take it exclusively.
type Container struct {
	mu sync.RWMutex

	header Header

	units   []*Value
	present map[*Value]struct{}
}

// NewContainer builds an empty container with default header fields.
func NewContainer() *Container {
	return &Container{
		header: Header{
			MessageType: DefaultMessageType,
			Version:     DefaultVersion,
		},
		present: make(map[*Value]struct{}),
	}
}

// SetSource sets the source routing fields.
func (c *Container) SetSource(id, subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header.SourceID = id
	c.header.SourceSubID = subID
}

// SetTarget sets the target routing fields.
func (c *Container) SetTarget(id, subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header.TargetID = id
	c.header.TargetSubID = subID
}

// SetMessageType sets the header's message_type field.
func (c *Container) SetMessageType(t string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header.MessageType = t
}

// SwapHeader exchanges source and target fields in place, the idiom used
// when turning a received container into a reply without rebuilding it.
func (c *Container) SwapHeader() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header.SourceID, c.header.TargetID = c.header.TargetID, c.header.SourceID
	c.header.SourceSubID, c.header.TargetSubID = c.header.TargetSubID, c.header.SourceSubID
}

// Header returns a copy of the container's current routing header.
func (c *Container) Header() Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header
}

// Add appends a top-level value to the container, clearing its parent
// pointer so it reads as a root of the container's forest. Re-adding the
// same *Value (by identity) is rejected silently; Add returns false in
// that case. Values already attached elsewhere (non-nil parent) are also
// rejected.
func (c *Container) Add(v *Value) bool {
	if v == nil || v.parent != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.present == nil {
		c.present = make(map[*Value]struct{})
	}
	if _, dup := c.present[v]; dup {
		return false
	}
	v.SetParent(nil)
	c.units = append(c.units, v)
	c.present[v] = struct{}{}
	return true
}

// Remove drops every top-level value with the given name.
func (c *Container) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.units[:0]
	for _, v := range c.units {
		if v.name != name {
			kept = append(kept, v)
		} else {
			delete(c.present, v)
		}
	}
	c.units = kept
}

// ValueArray returns every top-level value with the given name, in
// insertion order.
func (c *Container) ValueArray(name string) []*Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Value
	for _, v := range c.units {
		if v.name == name {
			out = append(out, v)
		}
	}
	return out
}

// GetValue returns the index'th top-level value with the given name. If
// none exists, it returns a freshly constructed null value carrying that
// name rather than nil, so callers can chain To* conversions unconditionally.
func (c *Container) GetValue(name string, index int) *Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, v := range c.units {
		if v.name == name {
			if n == index {
				return v
			}
			n++
		}
	}
	return NewNull(name)
}

// Values returns every top-level value in insertion order.
func (c *Container) Values() []*Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Value, len(c.units))
	copy(out, c.units)
	return out
}

// Copy returns a deep structural copy of the container. When withValues is
// false only the header is copied, producing an empty-bodied reply shell.
func (c *Container) Copy(withValues bool) *Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Container{header: c.header, present: make(map[*Value]struct{})}
	if withValues {
		out.units = make([]*Value, len(c.units))
		for i, v := range c.units {
			cp := cloneValue(v)
			out.units[i] = cp
			out.present[cp] = struct{}{}
		}
	}
	return out
}

func cloneValue(v *Value) *Value {
	cp := &Value{name: v.name, tag: v.tag}
	cp.payload = make([]byte, len(v.payload))
	copy(cp.payload, v.payload)
	for _, child := range v.children {
		childCopy := cloneValue(child)
		childCopy.parent = cp
		cp.children = append(cp.children, childCopy)
	}
	return cp
}

// LoadPacket reads a container's canonical text form from a file.
func LoadPacket(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailed, err)
	}
	c := NewContainer()
	if err := c.Deserialize(string(data)); err != nil {
		return nil, err
	}
	return c, nil
}

// SavePacket writes the container's canonical text form to a file.
func (c *Container) SavePacket(path string) error {
	text, err := c.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailed, err)
	}
	return nil
}
