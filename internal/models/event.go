package models

// Broadcast event types
const (
	EventSnapshot = "snapshot"
	EventProgress = "progress"
	EventStatus   = "status"
	EventDeleted  = "deleted"
)

// Event is a single broadcast frame pushed to subscribed observers.
// Snapshot frames carry Jobs; the others carry per-job fields.
type Event struct {
	Type   string `json:"type"`
	JobID  string `json:"job_id,omitempty"`
	UserID string `json:"-"`

	PreviousStatus string  `json:"previous_status,omitempty"`
	NewStatus      string  `json:"new_status,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`

	ProgressPercent int    `json:"progress_percent,omitempty"`
	TransferRate    *int64 `json:"transfer_rate,omitempty"`
	EtaSeconds      *int64 `json:"eta_seconds,omitempty"`

	Job  *DownloadJob   `json:"job,omitempty"`
	Jobs []*DownloadJob `json:"jobs,omitempty"`
}
