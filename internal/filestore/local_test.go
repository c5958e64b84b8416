package filestore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLocal_WriteAndOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir, testLogger())
	require.NoError(t, err)

	data := []byte("zip archive bytes")
	size, err := store.Write(context.Background(), "exports/exp-1.zip", data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	reader, openSize, err := store.Open(context.Background(), "exports/exp-1.zip")
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, int64(len(data)), openSize)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestLocal_OpenMissingFile(t *testing.T) {
	store, err := NewLocal(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, _, err = store.Open(context.Background(), "exports/nope.zip")
	require.Error(t, err)
}

func TestLocal_RejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir, testLogger())
	require.NoError(t, err)

	for _, p := range []string{"../outside.zip", "/etc/passwd", "a/../../b.zip", "."} {
		_, err := store.Write(context.Background(), p, []byte("x"))
		assert.Error(t, err, "path %q should be rejected", p)
	}
}

func TestLocal_CreatesNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir, testLogger())
	require.NoError(t, err)

	_, err = store.Write(context.Background(), "a/b/c/exp.zip", []byte("x"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "a", "b", "c", "exp.zip"))
}

func TestNewLocal_RequiresBaseDir(t *testing.T) {
	_, err := NewLocal("", testLogger())
	require.Error(t, err)
}
