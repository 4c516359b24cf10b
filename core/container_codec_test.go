package core

import (
	"strings"
	"testing"
)

func TestContainerSerializeDeserializeRoundTrip(t *testing.T) {
	c := NewContainer()
	c.SetSource("node-a", "1")
	c.SetTarget("node-b", "2")
	c.SetMessageType("greeting")
	c.Add(NewString("name", "ping"))
	c.Add(NewInt("count", 5))

	text, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.HasPrefix(text, "@header={") {
		t.Fatalf("expected header prefix, got %q", text)
	}

	got := NewContainer()
	if err := got.Deserialize(text); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	h := got.Header()
	if h.SourceID != "node-a" || h.TargetID != "node-b" || h.MessageType != "greeting" {
		t.Fatalf("header mismatch: %+v", h)
	}
	if got.GetValue("name", 0).ToString() != "ping" {
		t.Fatalf("name value mismatch")
	}
	if got.GetValue("count", 0).ToInt64() != 5 {
		t.Fatalf("count value mismatch")
	}
}

func TestContainerSerializeDefaultHeader(t *testing.T) {
	c := NewContainer()
	text, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	want := "@header={[5,data_container];[6,1.0.0.0];};@data={};"
	if text != want {
		t.Fatalf("Serialize() = %q, want %q", text, want)
	}
}

func TestContainerNestedValues(t *testing.T) {
	c := NewContainer()
	outer := NewContainerValue("outer")
	inner := NewContainerValue("inner")
	inner.AddChild(NewInt("leaf", 1))
	outer.AddChild(inner)
	outer.AddChild(NewInt("sibling", 2))
	c.Add(outer)

	text, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got := NewContainer()
	if err := got.Deserialize(text); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	values := got.Values()
	if len(values) != 1 {
		t.Fatalf("expected 1 top-level value, got %d", len(values))
	}
	root := values[0]
	if root.Tag() != TagContainer || root.ChildCount() != 2 {
		t.Fatalf("expected outer container with 2 children, got tag=%v count=%d", root.Tag(), root.ChildCount())
	}
	innerGot := root.Children()[0]
	if innerGot.Tag() != TagContainer || innerGot.ChildCount() != 1 {
		t.Fatalf("expected inner container with 1 child")
	}
	if innerGot.Children()[0].ToInt64() != 1 {
		t.Fatalf("expected inner leaf value 1")
	}
	if root.Children()[1].ToInt64() != 2 {
		t.Fatalf("expected sibling value 2")
	}
}

func TestContainerDeserializeMalformedHeader(t *testing.T) {
	c := NewContainer()
	if err := c.Deserialize("not a header"); err == nil {
		t.Fatal("expected error for malformed header")
	}
}

func TestContainerDeserializeDeclaredCountTooHigh(t *testing.T) {
	text := "@header={[1,];[2,];[3,];[4,];[5,data_container];[6,1.0.0.0];};@data={[outer,14,2];[leaf,4,1];};"
	c := NewContainer()
	if err := c.Deserialize(text); err == nil {
		t.Fatal("expected error when declared child count exceeds stream")
	}
}
