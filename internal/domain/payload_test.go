package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBatchExportPayload(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		errString string
	}{
		{
			name: "valid payload",
			raw:  `{"export_id":"e1","tab":"statement","members":[{"account":"A100","name":"Jo"}]}`,
		},
		{
			name:      "missing export id",
			raw:       `{"tab":"statement","members":[{"account":"A100"}]}`,
			wantErr:   true,
			errString: "export_id is required",
		},
		{
			name:      "unknown tab",
			raw:       `{"export_id":"e1","tab":"summary","members":[{"account":"A100"}]}`,
			wantErr:   true,
			errString: "unknown tab type",
		},
		{
			name:      "empty members",
			raw:       `{"export_id":"e1","tab":"no_play","members":[]}`,
			wantErr:   true,
			errString: "members list is empty",
		},
		{
			name:    "not json",
			raw:     `{{{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeBatchExportPayload([]byte(tt.raw))

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPayload)
				if tt.errString != "" {
					assert.Contains(t, err.Error(), tt.errString)
				}
				assert.Nil(t, p)
			} else {
				require.NoError(t, err)
				require.NotNil(t, p)
				assert.Equal(t, "e1", p.ExportID)
				assert.Equal(t, TabStatement, p.Tab)
				assert.Len(t, p.Members, 1)
			}
		})
	}
}

func TestDecodeNoPlayEmailPayload(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		p, err := DecodeNoPlayEmailPayload([]byte(`{"batch_id":"b1","accounts":["A100","A200"]}`))
		require.NoError(t, err)
		assert.Equal(t, "b1", p.BatchID)
		assert.Len(t, p.Accounts, 2)
	})

	t.Run("missing batch id", func(t *testing.T) {
		_, err := DecodeNoPlayEmailPayload([]byte(`{"accounts":["A100"]}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("empty accounts", func(t *testing.T) {
		_, err := DecodeNoPlayEmailPayload([]byte(`{"batch_id":"b1","accounts":[]}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})
}
