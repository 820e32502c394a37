package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// setupTestLog creates a temporary log for testing
func setupTestLog(t *testing.T, segmentSize int64) (*Log, string) {
	dir := t.TempDir()
	l, err := Open(Config{Dir: dir, MaxSegmentSize: segmentSize})
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	return l, dir
}

func TestAppendAndReadFrom(t *testing.T) {
	l, _ := setupTestLog(t, 1024*1024)
	defer func() { _ = l.Close() }()

	for i := 0; i < 5; i++ {
		pos, err := l.Append([]byte(fmt.Sprintf("change-%d", i)))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if pos != uint64(i) {
			t.Errorf("Expected position %d, got %d", i, pos)
		}
	}

	records, err := l.ReadFrom(2, 0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if string(records[0].Payload) != "change-2" || records[2].Pos != 4 {
		t.Errorf("Unexpected records: %+v", records)
	}

	limited, err := l.ReadFrom(0, 2)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 records with limit, got %d", len(limited))
	}
}

func TestSegmentRotation(t *testing.T) {
	l, _ := setupTestLog(t, 64)
	defer func() { _ = l.Close() }()

	for i := 0; i < 10; i++ {
		if _, err := l.Append(make([]byte, 40)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	count, err := l.SegmentCount()
	if err != nil {
		t.Fatalf("SegmentCount failed: %v", err)
	}
	if count < 5 {
		t.Errorf("Expected rotation into several segments, got %d", count)
	}

	records, err := l.ReadFrom(7, 0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(records) != 3 || records[0].Pos != 7 {
		t.Errorf("Unexpected records across segments: %d", len(records))
	}
}

func TestReopenRecoversPosition(t *testing.T) {
	l, dir := setupTestLog(t, 1024*1024)
	for i := 0; i < 3; i++ {
		if _, err := l.Append([]byte("x")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// simulate a torn write at the tail
	path := filepath.Join(dir, segmentName(0))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("Failed to open segment: %v", err)
	}
	_, _ = f.Write([]byte{0xff, 0x00, 0x00})
	_ = f.Close()

	reopened, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if reopened.NextPosition() != 3 {
		t.Errorf("Expected next position 3, got %d", reopened.NextPosition())
	}
	pos, err := reopened.Append([]byte("y"))
	if err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	if pos != 3 {
		t.Errorf("Expected position 3, got %d", pos)
	}
	records, _ := reopened.ReadFrom(0, 0)
	if len(records) != 4 {
		t.Errorf("Expected 4 records after recovery, got %d", len(records))
	}
}

func TestReset(t *testing.T) {
	l, _ := setupTestLog(t, 1024*1024)
	defer func() { _ = l.Close() }()

	_, _ = l.Append([]byte("a"))
	_, _ = l.Append([]byte("b"))

	if err := l.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	records, _ := l.ReadFrom(0, 0)
	if len(records) != 0 {
		t.Errorf("Expected no records after reset, got %d", len(records))
	}

	pos, _ := l.Append([]byte("c"))
	if pos != 2 {
		t.Errorf("Positions must keep increasing after reset, got %d", pos)
	}
}

func TestClosedLog(t *testing.T) {
	l, _ := setupTestLog(t, 1024)
	_ = l.Close()
	_ = l.Close()

	if _, err := l.Append([]byte("x")); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
