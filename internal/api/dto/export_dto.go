package dto

// ExportMember identifies one member in an export request.
type ExportMember struct {
	Account  string `json:"account" binding:"required"`
	BatchRef string `json:"batch_ref"`
	Name     string `json:"name"`
}

// CreateExportRequest is the body for POST /api/v1/exports.
type CreateExportRequest struct {
	TabType     string         `json:"tab_type" binding:"required"`
	Members     []ExportMember `json:"members" binding:"required"`
	Priority    int            `json:"priority"`
	MaxAttempts int            `json:"max_attempts"`
}

// CreateExportResponse acknowledges an accepted export.
type CreateExportResponse struct {
	ExportID string `json:"export_id"`
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
}

// ExportStatusResponse is the pollable progress view of one export.
type ExportStatusResponse struct {
	ExportID         string `json:"export_id"`
	TabType          string `json:"tab_type"`
	Status           string `json:"status"`
	TotalMembers     int    `json:"total_members"`
	ProcessedMembers int    `json:"processed_members"`
	FailedMembers    int    `json:"failed_members"`
	FileSize         int64  `json:"file_size,omitempty"`
	DownloadURL      string `json:"download_url,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	StartedAt        string `json:"started_at,omitempty"`
	CompletedAt      string `json:"completed_at,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}
