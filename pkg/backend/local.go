package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"photowatch/pkg/config"
	errs "photowatch/pkg/errors"
	"photowatch/pkg/logger"
)

// Local commits photos to a directory on the local filesystem.
type Local struct {
	dir    string
	logger logger.Logger
}

// NewLocal creates a local filesystem backend, creating the directory if
// it does not exist.
func NewLocal(cfg config.LocalStorageConfig, log logger.Logger) (*Local, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}

	return &Local{dir: cfg.Directory, logger: log}, nil
}

// Name identifies the backend in logs.
func (l *Local) Name() string {
	return "local"
}

// Dir returns the photo directory path.
func (l *Local) Dir() string {
	return l.dir
}

// Commit writes data to a temporary file and renames it into place, so a
// crash mid-write never leaves a truncated photo under the final name.
func (l *Local) Commit(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filename := filepath.Join(l.dir, name)
	tempFile := filename + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		os.Remove(tempFile)
		return errs.Newf(errs.ErrorTypeCommit, "failed to write photo file: %v", err)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return errs.Newf(errs.ErrorTypeCommit, "failed to rename photo file: %v", err)
	}

	l.logger.DebugWithFields("Committed to local storage", map[string]interface{}{
		"file": filename,
		"size": len(data),
	})

	return nil
}

// Purge deletes all regular files in the photo directory. Used by fresh
// start together with a ledger reset; subdirectories are left alone.
func (l *Local) Purge() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read photo directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}

	l.logger.InfoWithFields("Purged local photo directory", map[string]interface{}{
		"dir":     l.dir,
		"removed": removed,
	})

	return nil
}
