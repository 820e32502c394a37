package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDirectories ensures all required directories exist
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Node.DataDir}
	for _, id := range c.Node.Targets {
		dirs = append(dirs, c.TargetDir(id))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return nil
}

// TargetDir returns the data directory of a local target. The layout
// matches what the registry scanner discovers.
func (c *Config) TargetDir(targetID uint16) string {
	return filepath.Join(c.Node.DataDir, fmt.Sprintf("target_%04d", targetID))
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}

// GetServerAddress returns the admin HTTP bind address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

// GetGRPCAddress returns the peer transport bind address
func (c *Config) GetGRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}
