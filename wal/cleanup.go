package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Cleanup removes WAL files older than the retention period
func Cleanup(dir string, config Config) error {
	_, err := CleanupWithStats(dir, config)
	return err
}

// CleanupStats tracks cleanup operation results
type CleanupStats struct {
	FilesRemoved int
	BytesFreed   int64
}

// CleanupWithStats removes old files and returns statistics
func CleanupWithStats(dir string, config Config) (CleanupStats, error) {
	stats := CleanupStats{}
	if config.RetentionDays <= 0 {
		return stats, nil
	}

	cutoff := time.Now().AddDate(0, 0, -config.RetentionDays)
	for _, file := range findAllWALFiles(dir, config.FilePrefix) {
		info, err := os.Stat(file)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", file, err)
		}
		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
	}
	return stats, nil
}

// findAllWALFiles returns all WAL files in directory, oldest segment first
func findAllWALFiles(dir, prefix string) []string {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.wal"))
	if err != nil {
		return nil
	}
	sort.Strings(files)
	return files
}
