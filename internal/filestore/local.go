package filestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Local stores archives on the worker's filesystem under a base
// directory. Suitable for single-node deployments and tests.
type Local struct {
	baseDir string
	logger  *slog.Logger
}

// NewLocal creates a filesystem-backed store rooted at baseDir.
func NewLocal(baseDir string, logger *slog.Logger) (*Local, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("storage base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{baseDir: baseDir, logger: logger}, nil
}

// Write saves data under filePath relative to the base directory.
func (l *Local) Write(ctx context.Context, filePath string, data []byte) (int64, error) {
	full, err := l.resolve(filePath)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}

	l.logger.Info("Archive written",
		slog.String("path", full),
		slog.Int("size", len(data)),
	)

	return int64(len(data)), nil
}

// Open returns a reader over a stored archive together with its size.
func (l *Local) Open(ctx context.Context, filePath string) (io.ReadCloser, int64, error) {
	full, err := l.resolve(filePath)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat archive: %w", err)
	}

	return f, info.Size(), nil
}

// resolve joins filePath onto the base directory and rejects paths that
// escape it.
func (l *Local) resolve(filePath string) (string, error) {
	clean := filepath.Clean(filePath)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid archive path %q", filePath)
	}
	return filepath.Join(l.baseDir, clean), nil
}
