package staging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"murmur/internal/logging"
)

// Result reports what a cleanup pass removed and what it could not.
type Result struct {
	Removed []string
	Errors  []Error
}

// Error pairs a path with its cleanup failure.
type Error struct {
	Path string
	Err  error
}

// CleanStale removes staging files older than maxAge. The normalizer writes
// conversion scratch files here and removes them on success; anything left
// behind is debris from a crashed or killed run.
func CleanStale(stagingDir string, maxAge time.Duration, logger *slog.Logger) Result {
	result := Result{}

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, Error{Path: stagingDir, Err: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, Error{Path: path, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, Error{Path: path, Err: err})
			if logger != nil {
				logger.Warn("failed to remove stale staging file",
					logging.String("path", path),
					logging.Error(err))
			}
			continue
		}
		result.Removed = append(result.Removed, path)
		if logger != nil {
			logger.Info("removed stale staging file",
				logging.String("path", path),
				logging.Duration("age", time.Since(info.ModTime())))
		}
	}

	return result
}

// Usage returns the total size in bytes of all files under stagingDir.
func Usage(stagingDir string) (int64, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return 0, nil
	}

	var size int64
	err := filepath.Walk(stagingDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return size, err
}
