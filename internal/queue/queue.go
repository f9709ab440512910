// Package queue owns the download job queue: admission against the quota
// ledger, FIFO scheduling onto a bounded worker pool, the job lifecycle
// state machine, and event publication to the broadcast hub. All mutation
// of queue state happens under a single mutex; the repositories are only
// written while it is held.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"medianest/internal/downloader"
	"medianest/internal/hub"
	"medianest/internal/models"
	"medianest/internal/quota"
	"medianest/internal/storage"
)

// Options configures a Queue.
type Options struct {
	Workers        int
	RefundOnCancel bool
}

// Queue is the serialized owner of all job state.
type Queue struct {
	jobs    *storage.JobRepository
	ledger  *quota.Ledger
	adapter downloader.Adapter
	hub     *hub.Hub

	workers        int
	refundOnCancel bool

	mu      sync.Mutex
	waiting []string // queued job IDs in dispatch order
	running map[string]context.CancelFunc

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a queue. Call Start to recover persisted jobs and begin
// dispatching.
func New(jobs *storage.JobRepository, ledger *quota.Ledger, adapter downloader.Adapter, h *hub.Hub, opts Options) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:           jobs,
		ledger:         ledger,
		adapter:        adapter,
		hub:            h,
		workers:        opts.Workers,
		refundOnCancel: opts.RefundOnCancel,
		running:        make(map[string]context.CancelFunc),
		baseCtx:        ctx,
		cancel:         cancel,
	}
}

// Start re-queues jobs left unfinished by a previous run and begins
// dispatching. Jobs interrupted mid-flight are demoted to queued with
// their progress reset.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	unfinished, err := q.jobs.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("recover unfinished jobs: %w", err)
	}
	for _, job := range unfinished {
		prev := job.Status
		if job.Status != models.StatusQueued {
			job.Status = models.StatusQueued
			job.ProgressPercent = 0
			job.TransferRate = nil
			job.EtaSeconds = nil
		}
		q.waiting = append(q.waiting, job.ID)
		pos := len(q.waiting)
		job.QueuePosition = &pos
		if err := q.jobs.Update(ctx, job); err != nil {
			return fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		if prev != models.StatusQueued {
			q.publishStatus(job, prev)
		}
	}
	if len(unfinished) > 0 {
		log.Printf("Recovered %d unfinished jobs", len(unfinished))
	}
	q.dispatchLocked()
	return nil
}

// Stop aborts running jobs and waits for workers to drain. Interrupted
// jobs keep their persisted state and are recovered on the next Start.
func (q *Queue) Stop(ctx context.Context) error {
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the caller's job by ID.
func (q *Queue) Get(ctx context.Context, userID, id string) (*models.DownloadJob, error) {
	job, err := q.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

// List returns the caller's jobs with optional filters.
func (q *Queue) List(ctx context.Context, userID string, opts storage.ListOptions) ([]*models.DownloadJob, error) {
	return q.jobs.ListByUser(ctx, userID, opts)
}

// Stats returns the caller's job counts per status.
func (q *Queue) Stats(ctx context.Context, userID string) (map[string]int, error) {
	return q.jobs.CountByStatus(ctx, userID)
}

// dispatchLocked moves queued jobs into free worker slots, strict FIFO.
// Caller holds q.mu.
func (q *Queue) dispatchLocked() {
	for len(q.running) < q.workers && len(q.waiting) > 0 {
		id := q.waiting[0]
		q.waiting = q.waiting[1:]

		job, err := q.jobs.GetByID(q.baseCtx, id)
		if err != nil || job == nil {
			log.Printf("Dropping unknown queued job %s: %v", id, err)
			q.renumberLocked()
			continue
		}

		prev := job.Status
		job.Status = models.StatusDownloading
		job.QueuePosition = nil
		if err := q.jobs.Update(q.baseCtx, job); err != nil {
			log.Printf("Error dispatching job %s: %v", id, err)
			continue
		}
		q.renumberLocked()
		q.publishStatus(job, prev)

		runCtx, cancel := context.WithCancel(q.baseCtx)
		q.running[id] = cancel
		q.wg.Add(1)
		go q.run(runCtx, job.Clone())
	}
}

// renumberLocked rewrites queue positions so queued jobs rank 1..N with no
// gaps. Caller holds q.mu.
func (q *Queue) renumberLocked() {
	for i, id := range q.waiting {
		pos := i + 1
		if err := q.jobs.UpdateQueuePosition(q.baseCtx, id, &pos); err != nil {
			log.Printf("Error renumbering job %s: %v", id, err)
		}
	}
}

// removeWaitingLocked takes a job out of the dispatch order. Caller holds q.mu.
func (q *Queue) removeWaitingLocked(id string) {
	for i, wid := range q.waiting {
		if wid == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

// run consumes the adapter's outcome stream for one job, then frees the
// worker slot and dispatches the next queued job.
func (q *Queue) run(ctx context.Context, job *models.DownloadJob) {
	defer q.wg.Done()

	for outcome := range q.adapter.Run(ctx, job) {
		switch v := outcome.(type) {
		case downloader.Progress:
			q.applyProgress(job.ID, v)
		case downloader.Completed:
			q.complete(job.ID, v.ResultRef)
		case downloader.Failed:
			q.fail(job.ID, v.Reason)
		}
	}

	q.mu.Lock()
	if cancel, ok := q.running[job.ID]; ok {
		cancel()
		delete(q.running, job.ID)
	}
	if ctx.Err() == nil {
		// The adapter went quiet without a terminal outcome.
		if cur, err := q.jobs.GetByID(q.baseCtx, job.ID); err == nil && cur != nil && cur.Running() {
			q.failLocked(cur, "execution ended without an outcome")
		}
	}
	q.dispatchLocked()
	q.mu.Unlock()
}

// applyProgress updates a running job's progress. Regressions are ignored
// so stored progress stays monotonic; a processing stage report moves the
// job out of downloading.
func (q *Queue) applyProgress(id string, p downloader.Progress) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.jobs.GetByID(q.baseCtx, id)
	if err != nil || job == nil || !job.Running() {
		return
	}

	prev := job.Status
	if p.Stage == models.StatusProcessing && job.Status == models.StatusDownloading {
		job.Status = models.StatusProcessing
	}
	if p.Percent < job.ProgressPercent {
		log.Printf("Ignoring regressing progress for job %s: %d%% < %d%%", id, p.Percent, job.ProgressPercent)
	} else {
		job.ProgressPercent = p.Percent
	}
	job.TransferRate = p.TransferRate
	job.EtaSeconds = p.EtaSeconds
	if err := q.jobs.Update(q.baseCtx, job); err != nil {
		log.Printf("Error updating progress for job %s: %v", id, err)
		return
	}
	if job.Status != prev {
		q.publishStatus(job, prev)
	}
	q.publishProgress(job)
}

// complete finalizes a successful job. A cancel that already won the race
// is respected: the outcome is dropped.
func (q *Queue) complete(id, resultRef string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.jobs.GetByID(q.baseCtx, id)
	if err != nil || job == nil || !job.Running() {
		return
	}
	if job.Status == models.StatusDownloading {
		// Completion always passes through processing.
		prev := job.Status
		job.Status = models.StatusProcessing
		if err := q.jobs.Update(q.baseCtx, job); err != nil {
			log.Printf("Error completing job %s: %v", id, err)
			return
		}
		q.publishStatus(job, prev)
	}

	prev := job.Status
	now := time.Now().UTC()
	job.Status = models.StatusCompleted
	job.ProgressPercent = 100
	job.ResultRef = &resultRef
	job.TransferRate = nil
	job.EtaSeconds = nil
	job.CompletedAt = &now
	if err := q.jobs.Update(q.baseCtx, job); err != nil {
		log.Printf("Error completing job %s: %v", id, err)
		return
	}
	q.publishStatus(job, prev)
	log.Printf("Job %s completed", id)
}

// fail marks a running job failed with the adapter's reason.
func (q *Queue) fail(id, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.jobs.GetByID(q.baseCtx, id)
	if err != nil || job == nil || !job.Running() {
		return
	}
	q.failLocked(job, reason)
}

// failLocked applies the failed transition. Caller holds q.mu.
func (q *Queue) failLocked(job *models.DownloadJob, reason string) {
	prev := job.Status
	job.Status = models.StatusFailed
	job.ErrorMessage = &reason
	job.TransferRate = nil
	job.EtaSeconds = nil
	if err := q.jobs.Update(q.baseCtx, job); err != nil {
		log.Printf("Error failing job %s: %v", job.ID, err)
		return
	}
	q.publishStatus(job, prev)
	log.Printf("Job %s failed: %s", job.ID, reason)
}

func (q *Queue) publishStatus(job *models.DownloadJob, prev string) {
	q.hub.Publish(models.Event{
		Type:           models.EventStatus,
		JobID:          job.ID,
		UserID:         job.UserID,
		PreviousStatus: prev,
		NewStatus:      job.Status,
		ErrorMessage:   job.ErrorMessage,
		Job:            job.Clone(),
	})
}

func (q *Queue) publishProgress(job *models.DownloadJob) {
	q.hub.Publish(models.Event{
		Type:            models.EventProgress,
		JobID:           job.ID,
		UserID:          job.UserID,
		ProgressPercent: job.ProgressPercent,
		TransferRate:    job.TransferRate,
		EtaSeconds:      job.EtaSeconds,
	})
}

func (q *Queue) publishDeleted(job *models.DownloadJob) {
	q.hub.Publish(models.Event{
		Type:   models.EventDeleted,
		JobID:  job.ID,
		UserID: job.UserID,
	})
}
