package downloader

import (
	"context"

	"medianest/internal/models"
)

// MediaInfo is the lightweight metadata resolved before a job is admitted.
type MediaInfo struct {
	Title           string
	ThumbnailRef    string
	AuthorName      string
	DurationSeconds int64
	Kind            string
	ItemCount       int
}

// Outcome is the tagged result variant reported while a job runs.
// Exactly one of Completed or Failed ends the stream; the adapter closes
// the channel afterwards, or without a terminal outcome when aborted.
type Outcome interface {
	outcome()
}

// Progress reports partial completion of the running job.
type Progress struct {
	Percent      int
	Stage        string // models.StatusDownloading or models.StatusProcessing
	TransferRate *int64 // bytes/sec
	EtaSeconds   *int64
}

// Completed reports a successful outcome with a reference to the result.
type Completed struct {
	ResultRef string
}

// Failed reports a failed outcome with a human-readable reason.
type Failed struct {
	Reason string
}

func (Progress) outcome()  {}
func (Completed) outcome() {}
func (Failed) outcome()    {}

// Adapter is the external capability that fetches and converts media.
// Run honors ctx cancellation as the abort signal: it stops work, closes
// the outcome channel, and leaves no terminal outcome behind.
type Adapter interface {
	Resolve(ctx context.Context, sourceURL string) (*MediaInfo, error)
	Run(ctx context.Context, job *models.DownloadJob) <-chan Outcome
}
