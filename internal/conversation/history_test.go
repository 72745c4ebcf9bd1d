package conversation

import (
	"errors"
	"testing"
)

func TestAlternation(t *testing.T) {
	h := NewHistory()
	if err := h.AppendUser("hello"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := h.AppendUser("again"); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("expected out of sequence error, got %v", err)
	}
	if err := h.AppendAssistant("hi there"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}
	if err := h.AppendAssistant("still me"); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("expected out of sequence error, got %v", err)
	}
	if h.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", h.Len())
	}
}

func TestSystemEntryMustBeFirst(t *testing.T) {
	h := NewHistory()
	if err := h.AppendSystem("persona"); err != nil {
		t.Fatalf("append system: %v", err)
	}
	if !h.HasSystem() {
		t.Fatal("expected system entry")
	}
	if err := h.AppendSystem("another"); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("expected out of sequence error, got %v", err)
	}
	if err := h.AppendUser("hello"); err != nil {
		t.Fatalf("append user after system: %v", err)
	}
}

func TestAssistantRequiresPrecedingUser(t *testing.T) {
	h := NewHistory()
	if err := h.AppendAssistant("orphan"); !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("expected out of sequence error, got %v", err)
	}
}

func TestEmptyContentRejected(t *testing.T) {
	h := NewHistory()
	if err := h.AppendUser(""); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected empty content error, got %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	h := NewHistory()
	if err := h.AppendUser("hello"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	snap := h.Snapshot()
	snap[0].Content = "mutated"
	if h.Snapshot()[0].Content != "hello" {
		t.Fatal("snapshot mutation leaked into history")
	}
}
