package offline

import (
	"path/filepath"
	"testing"
	"time"
)

func TestQueueAppendAndEntries(t *testing.T) {
	q := NewQueue(NewMemoryStore())

	e := Entry{TempID: "temp-1", ConversationID: "c1", SenderID: "u1", RecipientID: "u2", Content: "hi", QueuedAt: time.Now()}
	if err := q.Append(e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := q.Entries()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].TempID != "temp-1" || entries[0].Content != "hi" {
		t.Errorf("entry round-trip mismatch: %+v", entries[0])
	}
}

func TestQueuePreservesInsertionOrder(t *testing.T) {
	q := NewQueue(NewMemoryStore())
	for _, id := range []string{"temp-1", "temp-2", "temp-3"} {
		if err := q.Append(Entry{TempID: id, ConversationID: "c1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	entries, _ := q.Entries()
	for i, want := range []string{"temp-1", "temp-2", "temp-3"} {
		if entries[i].TempID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, entries[i].TempID)
		}
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue(NewMemoryStore())
	q.Append(Entry{TempID: "temp-1", ConversationID: "c1"})
	q.Append(Entry{TempID: "temp-2", ConversationID: "c1"})

	if err := q.Remove("temp-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, _ := q.Entries()
	if len(entries) != 1 || entries[0].TempID != "temp-2" {
		t.Errorf("expected only temp-2 to remain, got %+v", entries)
	}

	// Removing a missing id is a no-op.
	if err := q.Remove("temp-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline_messages.json")

	q := NewQueue(NewFileStore(path))
	if err := q.Append(Entry{TempID: "temp-1", ConversationID: "c1", Content: "queued"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A fresh queue over the same file sees the persisted entry.
	q2 := NewQueue(NewFileStore(path))
	entries, err := q2.Entries()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "queued" {
		t.Errorf("expected persisted entry, got %+v", entries)
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	q := NewQueue(NewFileStore(path))
	n, err := q.Len()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}
