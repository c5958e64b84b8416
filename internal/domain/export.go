package domain

import "time"

// ExportStatus is the externally-pollable progress record paired with a
// batch export job. processed + failed never exceeds total, and equals
// total once the status is terminal.
type ExportStatus struct {
	ID               string     `db:"id"`
	TabType          TabType    `db:"tab_type"`
	Status           JobStatus  `db:"status"`
	TotalMembers     int        `db:"total_members"`
	ProcessedMembers int        `db:"processed_members"`
	FailedMembers    int        `db:"failed_members"`
	FilePath         string     `db:"file_path"`
	FileSize         int64      `db:"file_size"`
	ErrorMessage     string     `db:"error_message"`
	StartedAt        *time.Time `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// AccountRecord is the member data a statement document is built from.
type AccountRecord struct {
	Account         string
	Name            string
	Email           string
	BatchRef        string
	StatementPeriod string
	NoPlayStatus    string
	PlayerData      []byte
}
