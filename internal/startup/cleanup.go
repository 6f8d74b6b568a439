// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beatreel/beatreel/internal/config"
)

// WorkDirPrefix is the prefix used for composition scratch directories.
const WorkDirPrefix = "compose-"

// DefaultCleanupAge is the default maximum age for orphaned scratch
// directories (1 hour).
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedWorkDirs removes orphaned scratch directories older than
// maxAge. It looks for directories matching "compose-*" in the given base
// directory; these are left behind when the process dies mid-composition.
//
// Returns the number of directories removed and any error encountered.
func CleanupOrphanedWorkDirs(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("scratch directory does not exist, skipping cleanup",
			"path", baseDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Error("failed to read scratch directory for cleanup",
			"path", baseDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), WorkDirPrefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get directory info",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		// A recent directory may belong to a run still in flight.
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent scratch directory",
				"path", dirPath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned scratch directory",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned scratch directory",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// CleanupScratchDirs cleans orphaned scratch directories under the blob
// store's temp directory using the default cleanup age. The temp directory
// is resolved the same way the store resolves it.
func CleanupScratchDirs(logger *slog.Logger, cfg config.StorageConfig) (int, error) {
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(cfg.BaseDir, "temp")
	}
	return CleanupOrphanedWorkDirs(logger, tempDir, DefaultCleanupAge)
}
