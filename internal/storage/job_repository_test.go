package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"medianest/internal/models"
)

func newTestRepo(t *testing.T) *JobRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewJobRepository(db)
}

func seedJob(t *testing.T, repo *JobRepository, id, userID, title, status string, createdAt time.Time) *models.DownloadJob {
	t.Helper()
	job := &models.DownloadJob{
		ID:        id,
		UserID:    userID,
		SourceURL: "https://youtube.com/watch?v=" + id,
		Kind:      models.KindSingle,
		Format:    "720p/mp4",
		Title:     title,
		Status:    status,
		CreatedAt: createdAt,
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return job
}

func TestCreateAndGetRoundtrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rate := int64(1 << 20)
	eta := int64(42)
	pos := 3
	errMsg := "network timeout"
	job := &models.DownloadJob{
		UserID:          "u1",
		SourceURL:       "https://youtube.com/watch?v=abc",
		Kind:            models.KindCollection,
		Format:          "audio/m4a",
		Title:           "Mix",
		AuthorName:      "someone",
		DurationSeconds: 3600,
		ItemCount:       12,
		Status:          models.StatusQueued,
		ProgressPercent: 7,
		TransferRate:    &rate,
		EtaSeconds:      &eta,
		QueuePosition:   &pos,
		ErrorMessage:    &errMsg,
	}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID == "" {
		t.Fatal("create should assign an ID")
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("job not found after create")
	}
	if got.Kind != models.KindCollection || got.ItemCount != 12 {
		t.Errorf("collection fields = %s/%d", got.Kind, got.ItemCount)
	}
	if got.TransferRate == nil || *got.TransferRate != rate {
		t.Errorf("transfer rate = %v, want %d", got.TransferRate, rate)
	}
	if got.QueuePosition == nil || *got.QueuePosition != pos {
		t.Errorf("queue position = %v, want %d", got.QueuePosition, pos)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != errMsg {
		t.Errorf("error message = %v, want %q", got.ErrorMessage, errMsg)
	}
	if got.ResultRef != nil || got.CompletedAt != nil {
		t.Errorf("unset nullable fields came back non-nil: %v %v", got.ResultRef, got.CompletedAt)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestUpdateClearsNullableFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := seedJob(t, repo, "j1", "u1", "Video", models.StatusFailed, time.Now().UTC())
	msg := "boom"
	job.ErrorMessage = &msg
	if err := repo.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	job.Status = models.StatusQueued
	job.ErrorMessage = nil
	if err := repo.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetByID(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ErrorMessage != nil {
		t.Errorf("error message = %q, want cleared", *got.ErrorMessage)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Error("updated_at should move forward on update")
	}
}

func TestListByUserFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seedJob(t, repo, "j1", "u1", "Cat compilation", models.StatusCompleted, base)
	seedJob(t, repo, "j2", "u1", "Dog tricks", models.StatusQueued, base.Add(time.Minute))
	seedJob(t, repo, "j3", "u1", "More cats", models.StatusQueued, base.Add(2*time.Minute))
	seedJob(t, repo, "j4", "u2", "Cat opera", models.StatusQueued, base.Add(3*time.Minute))

	all, err := repo.ListByUser(ctx, "u1", ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("list returned %d jobs, want 3", len(all))
	}
	if all[0].ID != "j3" {
		t.Errorf("first job = %s, want j3 (newest first)", all[0].ID)
	}

	queued, err := repo.ListByUser(ctx, "u1", ListOptions{Status: models.StatusQueued})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(queued) != 2 {
		t.Errorf("queued jobs = %d, want 2", len(queued))
	}

	cats, err := repo.ListByUser(ctx, "u1", ListOptions{Query: "cat"})
	if err != nil {
		t.Fatalf("list by title: %v", err)
	}
	if len(cats) != 2 {
		t.Errorf("title matches = %d, want 2", len(cats))
	}

	paged, err := repo.ListByUser(ctx, "u1", ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("paged list: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "j2" {
		t.Errorf("page = %+v, want just j2", paged)
	}
}

func TestListUnfinishedOrdersByCreation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seedJob(t, repo, "newer", "u1", "b", models.StatusQueued, base.Add(time.Minute))
	seedJob(t, repo, "older", "u1", "a", models.StatusDownloading, base)
	seedJob(t, repo, "done", "u1", "c", models.StatusCompleted, base.Add(2*time.Minute))
	seedJob(t, repo, "dead", "u1", "d", models.StatusCancelled, base.Add(3*time.Minute))

	unfinished, err := repo.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("list unfinished: %v", err)
	}
	if len(unfinished) != 2 {
		t.Fatalf("unfinished = %d, want 2", len(unfinished))
	}
	if unfinished[0].ID != "older" || unfinished[1].ID != "newer" {
		t.Errorf("order = %s, %s; want older, newer", unfinished[0].ID, unfinished[1].ID)
	}
}

func TestCountByStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()

	seedJob(t, repo, "j1", "u1", "a", models.StatusQueued, base)
	seedJob(t, repo, "j2", "u1", "b", models.StatusQueued, base)
	seedJob(t, repo, "j3", "u1", "c", models.StatusFailed, base)
	seedJob(t, repo, "j4", "u2", "d", models.StatusQueued, base)

	counts, err := repo.CountByStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[models.StatusQueued] != 2 || counts[models.StatusFailed] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedJob(t, repo, "j1", "u1", "a", models.StatusCompleted, time.Now().UTC())
	if err := repo.Delete(ctx, "j1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := repo.GetByID(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("job still present after delete: %+v", got)
	}
}
