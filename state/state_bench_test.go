package state

import (
	"fmt"
	"os"
	"testing"
)

// BenchmarkFileTracker_MarkArchived benchmarks the state tracker write performance
func BenchmarkFileTracker_MarkArchived(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "state-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	tracker, err := NewFileTracker(tmpDir, true)
	if err != nil {
		b.Fatal(err)
	}
	defer tracker.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := Key("bench@1secmail.com", int64(i))
		if err := tracker.MarkArchived(key, fmt.Sprintf("subject %d", i)); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := tracker.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkFileTracker_AlreadyArchived benchmarks lookup performance
func BenchmarkFileTracker_AlreadyArchived(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "state-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	tracker, err := NewFileTracker(tmpDir, true)
	if err != nil {
		b.Fatal(err)
	}
	defer tracker.Close()

	// Pre-populate with 1000 entries
	for i := 0; i < 1000; i++ {
		key := Key("bench@1secmail.com", int64(i))
		if err := tracker.MarkArchived(key, fmt.Sprintf("subject %d", i)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := Key("bench@1secmail.com", int64(i%1000))
		_ = tracker.AlreadyArchived(key)
	}
}

// BenchmarkFileTracker_Load benchmarks the state file loading performance
func BenchmarkFileTracker_Load(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "state-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	// Create initial tracker and populate with 10000 entries
	tracker, err := NewFileTracker(tmpDir, true)
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < 10000; i++ {
		key := Key("bench@1secmail.com", int64(i))
		if err := tracker.MarkArchived(key, fmt.Sprintf("subject %d", i)); err != nil {
			b.Fatal(err)
		}
	}

	if err := tracker.Close(); err != nil {
		b.Fatal(err)
	}

	// Now benchmark loading
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker, err := NewFileTracker(tmpDir, false)
		if err != nil {
			b.Fatal(err)
		}
		tracker.Close()
	}
}

// BenchmarkMemoryTracker_MarkArchived benchmarks in-memory tracker for comparison
func BenchmarkMemoryTracker_MarkArchived(b *testing.B) {
	tracker := NewMemoryTracker()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := Key("bench@1secmail.com", int64(i))
		if err := tracker.MarkArchived(key, fmt.Sprintf("subject %d", i)); err != nil {
			b.Fatal(err)
		}
	}
}
