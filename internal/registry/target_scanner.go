package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/models"
	"github.com/ThinkParQ/beegfs-sub011/internal/resync"
)

// TargetScanner inspects the local data directory.
// Expected directory structure: {data_dir}/target_{id}/
type TargetScanner struct {
	dataDir string
	logger  *logging.Logger
}

// NewTargetScanner creates a new target scanner
func NewTargetScanner(dataDir string, logger *logging.Logger) *TargetScanner {
	return &TargetScanner{
		dataDir: dataDir,
		logger:  logger,
	}
}

// TargetDir returns the directory holding a target's data
func TargetDir(dataDir string, targetID uint16) string {
	return filepath.Join(dataDir, fmt.Sprintf("target_%04d", targetID))
}

// ScanTargets returns every target directory found on disk, ordered by name
func (s *TargetScanner) ScanTargets() ([]models.TargetInfo, error) {
	var targets []models.TargetInfo

	if _, err := os.Stat(s.dataDir); os.IsNotExist(err) {
		s.logger.Info("Data directory does not exist, creating", "data_dir", s.dataDir)
		if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return targets, nil
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "target_") {
			continue
		}
		targetID, err := parseTargetDirName(entry.Name())
		if err != nil {
			s.logger.Warn("Invalid target directory name", "name", entry.Name(), "error", err)
			continue
		}

		dir := filepath.Join(s.dataDir, entry.Name())
		dataSize, err := s.calculateDirectorySize(dir)
		if err != nil {
			s.logger.Warn("Failed to calculate target size", "target_id", targetID, "error", err)
			dataSize = 0
		}
		_, marked, err := resync.NewMarker(dir).Get()
		if err != nil {
			s.logger.Warn("Unreadable resync marker", "target_id", targetID, "error", err)
			marked = true
		}

		targets = append(targets, models.TargetInfo{
			TargetID:    targetID,
			DataSize:    dataSize,
			NeedsResync: marked,
		})
		s.logger.Debug("Discovered target on disk",
			"target_id", targetID,
			"data_size", dataSize,
			"needs_resync", marked)
	}

	s.logger.Info("Target scan completed", "count", len(targets))
	return targets, nil
}

// parseTargetDirName extracts the id from "target_XXXX"
func parseTargetDirName(name string) (uint16, error) {
	var id uint16
	if _, err := fmt.Sscanf(name, "target_%d", &id); err != nil {
		return 0, fmt.Errorf("invalid target dir name %q: %w", name, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("invalid target dir name %q: id 0 is reserved", name)
	}
	return id, nil
}

// calculateDirectorySize calculates total size of all files in a directory
func (s *TargetScanner) calculateDirectorySize(path string) (int64, error) {
	var totalSize int64

	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	return totalSize, err
}

// GetDiskCapacity returns disk capacity information for the data directory
func (s *TargetScanner) GetDiskCapacity() (*models.Capacity, error) {
	var stat syscall.Statfs_t

	if err := syscall.Statfs(s.dataDir, &stat); err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", err)
	}

	diskTotal := stat.Blocks * uint64(stat.Bsize)
	diskAvailable := stat.Bavail * uint64(stat.Bsize)

	return &models.Capacity{
		DiskTotal:     int64(diskTotal),
		DiskUsed:      int64(diskTotal - diskAvailable),
		DiskAvailable: int64(diskAvailable),
	}, nil
}
