package state

import (
	"os"
	"testing"
)

func TestMemoryTracker(t *testing.T) {
	tracker := NewMemoryTracker()

	key := Key("u@1secmail.com", 212959953)
	if tracker.AlreadyArchived(key) {
		t.Error("fresh tracker should not know any key")
	}

	if err := tracker.MarkArchived(key, "Hello!"); err != nil {
		t.Fatalf("MarkArchived() error = %v", err)
	}
	if !tracker.AlreadyArchived(key) {
		t.Error("marked key should be reported as archived")
	}

	if tracker.AlreadyArchived("") {
		t.Error("empty key should never be reported as archived")
	}
	if got := tracker.Snapshot().Archived; got != 1 {
		t.Errorf("Snapshot().Archived = %d, want 1", got)
	}
}

func TestFileTracker_PersistsAcrossRuns(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "state-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	tracker, err := NewFileTracker(tmpDir, true)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}

	keys := []string{
		Key("u@1secmail.com", 1),
		Key("u@1secmail.com", 2),
		Key("other@1secmail.net", 1),
	}
	for _, key := range keys {
		if err := tracker.MarkArchived(key, "subject"); err != nil {
			t.Fatalf("MarkArchived(%q) error = %v", key, err)
		}
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reloaded, err := NewFileTracker(tmpDir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() reload error = %v", err)
	}
	for _, key := range keys {
		if !reloaded.AlreadyArchived(key) {
			t.Errorf("reloaded tracker lost key %q", key)
		}
	}
	if got := reloaded.Snapshot().Archived; got != len(keys) {
		t.Errorf("Snapshot().Archived = %d, want %d", got, len(keys))
	}
}

func TestFileTracker_NoPersistSkipsFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "state-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	tracker, err := NewFileTracker(tmpDir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	if err := tracker.MarkArchived(Key("u@1secmail.com", 7), "dry run"); err != nil {
		t.Fatalf("MarkArchived() error = %v", err)
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reloaded, err := NewFileTracker(tmpDir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() reload error = %v", err)
	}
	if reloaded.AlreadyArchived(Key("u@1secmail.com", 7)) {
		t.Error("non-persisting tracker should not write state")
	}
}
