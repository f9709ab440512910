package models

import "time"

// DownloadJob is the unit of work tracked by the queue.
type DownloadJob struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SourceURL string `json:"source_url"`
	Kind      string `json:"kind"`
	Format    string `json:"format"`

	Title           string `json:"title,omitempty"`
	ThumbnailRef    string `json:"thumbnail_ref,omitempty"`
	AuthorName      string `json:"author_name,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	ItemCount       int    `json:"item_count,omitempty"`

	Status          string  `json:"status"`
	ProgressPercent int     `json:"progress_percent"`
	TransferRate    *int64  `json:"transfer_rate,omitempty"`
	EtaSeconds      *int64  `json:"eta_seconds,omitempty"`
	QueuePosition   *int    `json:"queue_position,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ResultRef       *string `json:"result_ref,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job kinds
const (
	KindSingle     = "single"
	KindCollection = "collection"
)

// Job statuses
const (
	StatusValidating  = "validating"
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// Supported quality/container combinations for submissions.
var SupportedFormats = map[string]bool{
	"1080p/mp4": true,
	"720p/mp4":  true,
	"480p/mp4":  true,
	"audio/m4a": true,
}

// Terminal reports whether the job can no longer change state
// (other than being deleted).
func (j *DownloadJob) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Running reports whether the job occupies a worker slot.
func (j *DownloadJob) Running() bool {
	return j.Status == StatusDownloading || j.Status == StatusProcessing
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *DownloadJob) Clone() *DownloadJob {
	c := *j
	c.TransferRate = clonePtr(j.TransferRate)
	c.EtaSeconds = clonePtr(j.EtaSeconds)
	c.QueuePosition = clonePtr(j.QueuePosition)
	c.ErrorMessage = clonePtr(j.ErrorMessage)
	c.ResultRef = clonePtr(j.ResultRef)
	c.CompletedAt = clonePtr(j.CompletedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
