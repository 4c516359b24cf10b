package core

import "testing"

func TestContainerAddRejectsDuplicateIdentity(t *testing.T) {
	c := NewContainer()
	v := NewInt("n", 1)
	if !c.Add(v) {
		t.Fatal("first Add should succeed")
	}
	if c.Add(v) {
		t.Fatal("re-adding the same *Value by identity should fail")
	}
	if len(c.Values()) != 1 {
		t.Fatalf("Values() len = %d, want 1", len(c.Values()))
	}
}

func TestContainerAddAllowsDistinctValuesSameName(t *testing.T) {
	c := NewContainer()
	if !c.Add(NewInt("n", 1)) || !c.Add(NewInt("n", 2)) {
		t.Fatal("distinct *Value pointers sharing a name should both be added")
	}
	if len(c.Values()) != 2 {
		t.Fatalf("Values() len = %d, want 2", len(c.Values()))
	}
}

func TestContainerRemoveClearsIdentityTracking(t *testing.T) {
	c := NewContainer()
	v := NewInt("n", 1)
	c.Add(v)
	c.Remove("n")
	if !c.Add(v) {
		t.Fatal("after Remove, the same *Value should be addable again")
	}
}

func TestContainerSerializeArrayMatchesSerialize(t *testing.T) {
	c := NewContainer()
	c.Add(NewString("s", "hi"))
	text, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	arr, err := c.SerializeArray()
	if err != nil {
		t.Fatalf("SerializeArray: %v", err)
	}
	if string(arr) != text {
		t.Fatalf("SerializeArray() = %q, want %q", arr, text)
	}
}

func TestContainerSerializeNonDefaultMessageTypeKeepsRoutingFields(t *testing.T) {
	c := NewContainer()
	c.SetMessageType("greeting")
	c.SetSource("src", "0")
	c.SetTarget("tgt", "0")
	text, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	want := "@header={[1,src];[2,0];[3,tgt];[4,0];[5,greeting];[6,1.0.0.0];};@data={};"
	if text != want {
		t.Fatalf("Serialize() = %q, want %q", text, want)
	}
}
