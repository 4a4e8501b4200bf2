package session

import "testing"

func TestUtteranceBuffer_Extend(t *testing.T) {
	var b UtteranceBuffer

	if b.Extend("  ") {
		t.Error("whitespace-only transcript should not extend")
	}
	if !b.Extend("hello") {
		t.Error("expected extend to report text")
	}
	b.Extend("  there   friend ")

	if got := b.Pending(); got != "hello there friend" {
		t.Errorf("pending = %q, want %q", got, "hello there friend")
	}
}

func TestUtteranceBuffer_CommitAndMerge(t *testing.T) {
	var b UtteranceBuffer

	b.Extend("turn the lights")
	if got := b.Commit(); got != "turn the lights" {
		t.Fatalf("commit = %q", got)
	}
	if b.Pending() != "" {
		t.Error("pending should be empty after commit")
	}
	if got := b.LastCommitted(); got != "turn the lights" {
		t.Errorf("last committed = %q", got)
	}

	// The speaker kept going: the merged utterance replaces the committed one.
	if !b.MergeRegret("off please") {
		t.Fatal("merge should report text")
	}
	if got := b.Pending(); got != "turn the lights off please" {
		t.Errorf("merged pending = %q", got)
	}
	if got := b.Commit(); got != "turn the lights off please" {
		t.Errorf("second commit = %q", got)
	}
}

func TestUtteranceBuffer_MergeWithoutBaseline(t *testing.T) {
	var b UtteranceBuffer

	b.MergeRegret("standalone")
	if got := b.Pending(); got != "standalone" {
		t.Errorf("pending = %q, want %q", got, "standalone")
	}
}

func TestUtteranceBuffer_MergeIgnoresEmpty(t *testing.T) {
	var b UtteranceBuffer
	b.Extend("kept")
	b.Commit()

	if b.MergeRegret(" \t ") {
		t.Error("whitespace-only transcript should not merge")
	}
	if b.Pending() != "" {
		t.Errorf("pending = %q, want empty", b.Pending())
	}
}

func TestUtteranceBuffer_Clear(t *testing.T) {
	var b UtteranceBuffer
	b.Extend("one")
	b.Commit()
	b.Extend("two")

	b.Clear()

	if b.Pending() != "" || b.LastCommitted() != "" {
		t.Error("clear must drop pending text and the merge baseline")
	}

	// After a clear, a merge behaves like a fresh utterance.
	b.MergeRegret("three")
	if got := b.Pending(); got != "three" {
		t.Errorf("pending = %q, want %q", got, "three")
	}
}
