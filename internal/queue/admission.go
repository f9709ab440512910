package queue

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"github.com/google/uuid"

	"medianest/internal/models"
)

// Submit validates a submission, charges the caller's quota, and places
// the new job at the tail of the queue. Quota is consumed at admission and
// is not returned by later cancellation or failure.
func (q *Queue) Submit(ctx context.Context, userID, sourceURL, format string) (*models.DownloadJob, error) {
	if err := validateSubmission(sourceURL, format); err != nil {
		return nil, err
	}

	// Resolve metadata before charging quota: an unresolvable URL is a
	// validation failure, not a consumed slot.
	info, err := q.adapter.Resolve(ctx, sourceURL)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("cannot resolve source: %v", err)}
	}

	if _, err := q.ledger.Consume(ctx, userID); err != nil {
		return nil, err
	}

	job := &models.DownloadJob{
		ID:              uuid.New().String(),
		UserID:          userID,
		SourceURL:       sourceURL,
		Kind:            info.Kind,
		Format:          format,
		Title:           info.Title,
		ThumbnailRef:    info.ThumbnailRef,
		AuthorName:      info.AuthorName,
		DurationSeconds: info.DurationSeconds,
		ItemCount:       info.ItemCount,
		Status:          models.StatusValidating,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.jobs.Create(ctx, job); err != nil {
		// No job exists to account for the charged unit, so a storage
		// fault here returns it regardless of the refund policy.
		if rerr := q.ledger.Refund(ctx, userID); rerr != nil {
			log.Printf("Error refunding quota for user %s: %v", userID, rerr)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	q.publishStatus(job, "")

	job.Status = models.StatusQueued
	q.waiting = append(q.waiting, job.ID)
	pos := len(q.waiting)
	job.QueuePosition = &pos
	if err := q.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	q.publishStatus(job, models.StatusValidating)

	q.dispatchLocked()

	// Dispatch may already have promoted the job; return what the store has.
	if cur, err := q.jobs.GetByID(ctx, job.ID); err == nil && cur != nil {
		return cur, nil
	}
	return job.Clone(), nil
}

func validateSubmission(sourceURL, format string) error {
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Reason: "source URL must be a valid http(s) URL"}
	}
	if !models.SupportedFormats[format] {
		return &ValidationError{Reason: fmt.Sprintf("unsupported format %q", format)}
	}
	return nil
}
