package session

import (
	"testing"
	"time"
)

func TestAppendAndRecent(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := store.Append("telegram", "chat1", Entry{
			Timestamp: time.Now(),
			SenderID:  "user1",
			Text:      "message",
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := store.Recent("telegram", "chat1", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestAppendCapsAtMaxEntries(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < maxEntries+10; i++ {
		if err := store.Append("telegram", "chat1", Entry{Text: "m"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := store.Recent("telegram", "chat1", maxEntries+10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != maxEntries {
		t.Fatalf("expected capped at %d entries, got %d", maxEntries, len(entries))
	}
}

func TestRecentOnMissingFile(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	entries, err := store.Recent("telegram", "nosuchchat", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries for missing file, got %v", entries)
	}
}
