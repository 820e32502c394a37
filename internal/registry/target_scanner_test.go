package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/resync"
)

// setupTestScanner creates a test target scanner
func setupTestScanner(t *testing.T) (*TargetScanner, string) {
	dir := t.TempDir()
	logger := logging.NewDevelopment()
	return NewTargetScanner(dir, logger), dir
}

func TestScanTargets_EmptyDirectory(t *testing.T) {
	scanner, _ := setupTestScanner(t)

	targets, err := scanner.ScanTargets()
	if err != nil {
		t.Fatalf("ScanTargets failed: %v", err)
	}
	if len(targets) != 0 {
		t.Errorf("Expected 0 targets, got %d", len(targets))
	}
}

func TestScanTargets_NonExistentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonexistent")
	scanner := NewTargetScanner(dir, logging.NewDevelopment())

	targets, err := scanner.ScanTargets()
	if err != nil {
		t.Fatalf("ScanTargets failed: %v", err)
	}
	if len(targets) != 0 {
		t.Errorf("Expected 0 targets, got %d", len(targets))
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected data directory to be created: %v", err)
	}
}

func TestScanTargets(t *testing.T) {
	scanner, dir := setupTestScanner(t)

	dir101 := TargetDir(dir, 101)
	dir7 := TargetDir(dir, 7)
	for _, d := range []string{dir101, dir7, filepath.Join(dir, "target_bogus"), filepath.Join(dir, "other")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir101, "namespace.snap"), make([]byte, 1000), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := resync.NewMarker(dir7).Set(time.Now()); err != nil {
		t.Fatal(err)
	}

	targets, err := scanner.ScanTargets()
	if err != nil {
		t.Fatalf("ScanTargets failed: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("Expected 2 targets, got %d: %+v", len(targets), targets)
	}

	// ReadDir orders by name: target_0007 before target_0101
	if targets[0].TargetID != 7 || !targets[0].NeedsResync {
		t.Errorf("Unexpected first target: %+v", targets[0])
	}
	if targets[1].TargetID != 101 || targets[1].NeedsResync {
		t.Errorf("Unexpected second target: %+v", targets[1])
	}
	if targets[1].DataSize != 1000 {
		t.Errorf("Expected data size 1000, got %d", targets[1].DataSize)
	}
}

func TestParseTargetDirName(t *testing.T) {
	tests := []struct {
		name    string
		want    uint16
		wantErr bool
	}{
		{"target_0001", 1, false},
		{"target_65535", 65535, false},
		{"target_0000", 0, true},
		{"target_x", 0, true},
	}
	for _, tt := range tests {
		got, err := parseTargetDirName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTargetDirName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseTargetDirName(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestGetDiskCapacity(t *testing.T) {
	scanner, _ := setupTestScanner(t)

	capacity, err := scanner.GetDiskCapacity()
	if err != nil {
		t.Fatalf("GetDiskCapacity failed: %v", err)
	}
	if capacity.DiskTotal <= 0 {
		t.Error("Expected DiskTotal > 0")
	}
	if capacity.DiskUsed+capacity.DiskAvailable != capacity.DiskTotal {
		t.Errorf("Used %d + available %d != total %d", capacity.DiskUsed, capacity.DiskAvailable, capacity.DiskTotal)
	}
}
