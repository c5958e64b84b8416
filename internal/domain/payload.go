package domain

import (
	"encoding/json"
	"fmt"
)

// Member identifies one record inside a batch export payload.
type Member struct {
	Account  string `json:"account"`
	BatchRef string `json:"batch_ref"`
	Name     string `json:"name"`
}

// BatchExportPayload is the payload carried by batch_export jobs.
type BatchExportPayload struct {
	ExportID string   `json:"export_id"`
	Tab      TabType  `json:"tab"`
	Members  []Member `json:"members"`
}

// DecodeBatchExportPayload parses and validates a batch_export payload.
func DecodeBatchExportPayload(raw []byte) (*BatchExportPayload, error) {
	var p BatchExportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.ExportID == "" {
		return nil, fmt.Errorf("%w: export_id is required", ErrInvalidPayload)
	}
	if !p.Tab.Valid() {
		return nil, fmt.Errorf("%w: unknown tab type %q", ErrInvalidPayload, p.Tab)
	}
	if len(p.Members) == 0 {
		return nil, fmt.Errorf("%w: members list is empty", ErrInvalidPayload)
	}
	return &p, nil
}

// NoPlayEmailPayload is the payload carried by no_play_email jobs.
type NoPlayEmailPayload struct {
	BatchID  string   `json:"batch_id"`
	Accounts []string `json:"accounts"`
}

// DecodeNoPlayEmailPayload parses and validates a no_play_email payload.
func DecodeNoPlayEmailPayload(raw []byte) (*NoPlayEmailPayload, error) {
	var p NoPlayEmailPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.BatchID == "" {
		return nil, fmt.Errorf("%w: batch_id is required", ErrInvalidPayload)
	}
	if len(p.Accounts) == 0 {
		return nil, fmt.Errorf("%w: accounts list is empty", ErrInvalidPayload)
	}
	return &p, nil
}
