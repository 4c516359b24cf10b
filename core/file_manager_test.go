package core

import "testing"

func TestFileManagerProgressScenarioS6(t *testing.T) {
	fm := NewFileManager()
	fm.Expect("X", []string{"a", "b", "c", "d"})

	var percents []int
	var lastCompleted *Container

	for _, path := range []string{"a", "b", "c", "d"} {
		c := fm.Received("X", path)
		if c == nil {
			t.Fatalf("Received(%q) returned nil, want a transfer_condition", path)
		}
		percents = append(percents, int(c.GetValue("percentage", 0).ToUint16()))
		lastCompleted = c
	}

	want := []int{25, 50, 75, 100}
	for i, p := range want {
		if percents[i] != p {
			t.Fatalf("percents = %v, want %v", percents, want)
		}
	}

	if !lastCompleted.GetValue("completed", 0).ToBool() {
		t.Fatal("final transfer_condition should carry completed=true")
	}
	if got := lastCompleted.GetValue("completed_count", 0).ToUint32(); got != 4 {
		t.Fatalf("completed_count = %d, want 4", got)
	}
	if got := lastCompleted.GetValue("failed_count", 0).ToUint32(); got != 0 {
		t.Fatalf("failed_count = %d, want 0", got)
	}

	if _, _, _, ok := fm.Progress("X"); ok {
		t.Fatal("transfer record should be erased once completed")
	}
}

func TestFileManagerNoChangeReturnsNil(t *testing.T) {
	fm := NewFileManager()
	fm.Expect("Y", []string{"a", "b"})

	if c := fm.Received("Y", "a"); c == nil {
		t.Fatal("first Received should emit a transfer_condition")
	}
	// Re-resolving the same path does not change the resolved count, so the
	// percentage is unchanged and no container should be emitted.
	if c := fm.Received("Y", "a"); c != nil {
		t.Fatal("re-resolving an already-completed path should not re-emit progress")
	}
}

func TestFileManagerTracksFailures(t *testing.T) {
	fm := NewFileManager()
	fm.Expect("Z", []string{"a", "b"})

	fm.Received("Z", "a")
	c := fm.Failed("Z", "b")
	if c == nil {
		t.Fatal("Failed should emit the final transfer_condition")
	}
	if !c.GetValue("completed", 0).ToBool() {
		t.Fatal("transfer_condition should carry completed=true once all paths resolve")
	}
	if got := c.GetValue("completed_count", 0).ToUint32(); got != 1 {
		t.Fatalf("completed_count = %d, want 1", got)
	}
	if got := c.GetValue("failed_count", 0).ToUint32(); got != 1 {
		t.Fatalf("failed_count = %d, want 1", got)
	}
}

func TestFileManagerProgressUnknownTransfer(t *testing.T) {
	fm := NewFileManager()
	if _, _, _, ok := fm.Progress("missing"); ok {
		t.Fatal("Progress on an unknown indication_id should report not-ok")
	}
}
