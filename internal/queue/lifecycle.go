package queue

import (
	"context"
	"fmt"
	"log"

	"medianest/internal/models"
)

// Cancel stops a queued or downloading job. A queued job leaves the ranking
// and remaining positions are recomputed; a downloading job's adapter is
// signaled to abort before the record is marked cancelled. Quota is not
// refunded unless the refund-on-cancel policy is enabled.
func (q *Queue) Cancel(ctx context.Context, userID, id string) (*models.DownloadJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getOwnedLocked(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.StatusQueued:
		q.removeWaitingLocked(id)
		q.renumberLocked()
	case models.StatusDownloading:
		if cancel, ok := q.running[id]; ok {
			cancel() // slot is freed once the adapter stops
		}
	default:
		return nil, &InvalidTransitionError{JobID: id, From: job.Status, To: models.StatusCancelled}
	}

	prev := job.Status
	job.Status = models.StatusCancelled
	job.QueuePosition = nil
	job.TransferRate = nil
	job.EtaSeconds = nil
	if err := q.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	q.publishStatus(job, prev)

	if q.refundOnCancel {
		if err := q.ledger.Refund(ctx, userID); err != nil {
			log.Printf("Error refunding quota for user %s: %v", userID, err)
		}
	}

	q.dispatchLocked()
	return job.Clone(), nil
}

// Retry re-queues a failed job at the tail of the FIFO with its runtime
// state reset. No additional quota is charged; the original admission
// already paid for it.
func (q *Queue) Retry(ctx context.Context, userID, id string) (*models.DownloadJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getOwnedLocked(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusFailed {
		return nil, &InvalidTransitionError{JobID: id, From: job.Status, To: models.StatusQueued}
	}

	job.Status = models.StatusQueued
	job.ProgressPercent = 0
	job.ErrorMessage = nil
	job.TransferRate = nil
	job.EtaSeconds = nil
	job.ResultRef = nil
	job.CompletedAt = nil
	q.waiting = append(q.waiting, id)
	pos := len(q.waiting)
	job.QueuePosition = &pos
	if err := q.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}
	q.publishStatus(job, models.StatusFailed)

	q.dispatchLocked()
	return job.Clone(), nil
}

// Delete removes a job in a terminal state and tells subscribers to prune
// it. Deletion is irreversible.
func (q *Queue) Delete(ctx context.Context, userID, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.getOwnedLocked(ctx, userID, id)
	if err != nil {
		return err
	}
	if !job.Terminal() {
		return &InvalidTransitionError{JobID: id, From: job.Status, To: "deleted"}
	}

	if err := q.jobs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	q.publishDeleted(job)
	return nil
}

// getOwnedLocked loads a job and checks ownership. A job belonging to
// another user is reported as not found. Caller holds q.mu.
func (q *Queue) getOwnedLocked(ctx context.Context, userID, id string) (*models.DownloadJob, error) {
	job, err := q.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}
