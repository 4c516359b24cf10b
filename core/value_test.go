package core

import "testing"

func TestValueNumericRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    *Value
		want int64
	}{
		{"short", NewShort("n", -7), -7},
		{"ushort", NewUShort("n", 7), 7},
		{"int", NewInt("n", -1234), -1234},
		{"uint", NewUint("n", 1234), 1234},
		{"long", NewLong("n", -123456789), -123456789},
		{"ulong", NewULong("n", 123456789), 123456789},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.v.ToInt64(); got != tc.want {
				t.Fatalf("ToInt64() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestValueBoolConversion(t *testing.T) {
	if !NewBool("b", true).ToBool() {
		t.Fatal("expected true")
	}
	if NewBool("b", false).ToBool() {
		t.Fatal("expected false")
	}
}

func TestValueFloatConversion(t *testing.T) {
	v := NewDouble("d", 3.5)
	if got := v.ToFloat64(); got != 3.5 {
		t.Fatalf("ToFloat64() = %v, want 3.5", got)
	}
	if got := v.ToString(); got != "3.5" {
		t.Fatalf("ToString() = %q, want %q", got, "3.5")
	}
}

func TestValueStringAndBytes(t *testing.T) {
	s := NewString("s", "hello")
	if got := s.ToString(); got != "hello" {
		t.Fatalf("ToString() = %q, want hello", got)
	}
	b := NewBytes("b", []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if got := b.ToString(); got != "deadbeef" {
		t.Fatalf("ToString() = %q, want deadbeef", got)
	}
	if got := b.ToBytes(); string(got) != "\xde\xad\xbe\xef" {
		t.Fatalf("ToBytes() = %x, want deadbeef", got)
	}
}

func TestValueContainerChildren(t *testing.T) {
	root := NewContainerValue("root")
	child := NewInt("x", 42)
	if !root.AddChild(child) {
		t.Fatal("AddChild returned false")
	}
	if root.ChildCount() != 1 {
		t.Fatalf("ChildCount() = %d, want 1", root.ChildCount())
	}
	if child.Parent() != root {
		t.Fatal("child.Parent() did not point back to root")
	}
	if got := root.ToString(); got != "1" {
		t.Fatalf("container ToString() = %q, want declared count 1", got)
	}
}

func TestValueBytesToNumericConversionUsesLength(t *testing.T) {
	b := NewBytes("b", []byte{1, 2, 3})
	if got := b.ToInt64(); got != 3 {
		t.Fatalf("bytes ToInt64() = %d, want length 3", got)
	}
}

func TestValueIsContainerAndIsNull(t *testing.T) {
	if !NewContainerValue("c").IsContainer() {
		t.Fatal("container value should report IsContainer() == true")
	}
	if NewInt("n", 1).IsContainer() {
		t.Fatal("int value should report IsContainer() == false")
	}
	if !NewNull("n").IsNull() {
		t.Fatal("null value should report IsNull() == true")
	}
	if NewInt("n", 1).IsNull() {
		t.Fatal("int value should report IsNull() == false")
	}
}

func TestValueSetParent(t *testing.T) {
	parent := NewContainerValue("root")
	child := NewInt("x", 1)
	child.SetParent(parent)
	if child.Parent() != parent {
		t.Fatal("SetParent did not rewrite the parent pointer")
	}
	child.SetParent(nil)
	if child.Parent() != nil {
		t.Fatal("SetParent(nil) did not clear the parent pointer")
	}
}
