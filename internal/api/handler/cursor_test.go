package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpcore/statement-service/internal/jobstore"
)

func TestJobCursorRoundTrip(t *testing.T) {
	original := &jobstore.Cursor{
		CreatedAt: time.Date(2026, 8, 20, 10, 30, 0, 123456789, time.UTC),
		JobID:     "8b8f2f8e-1111-2222-3333-444455556666",
	}

	encoded := EncodeJobCursor(original)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)

	assert.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, original.JobID, decoded.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	t.Run("empty string means first page", func(t *testing.T) {
		cursor, err := DecodeJobCursor("")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := DecodeJobCursor("!!!not-base64!!!")
		require.Error(t, err)
	})

	t.Run("wrong field count", func(t *testing.T) {
		_, err := DecodeJobCursor("bm90LWEtY3Vyc29y") // "not-a-cursor"
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cursor format")
	})

	t.Run("non-numeric timestamp", func(t *testing.T) {
		_, err := DecodeJobCursor("YWJjfGpvYi0x") // "abc|job-1"
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid createdAt")
	})
}
