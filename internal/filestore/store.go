package filestore

import (
	"context"
	"io"
)

// Store persists export archives and streams them back for download.
type Store interface {
	Write(ctx context.Context, filePath string, data []byte) (int64, error)
	Open(ctx context.Context, filePath string) (io.ReadCloser, int64, error)
}
