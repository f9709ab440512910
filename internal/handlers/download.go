package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"

	"medianest/internal/models"
	"medianest/internal/queue"
	"medianest/internal/quota"
	"medianest/internal/storage"
)

// DownloadHandler serves the download job API.
type DownloadHandler struct {
	queue *queue.Queue
}

// NewDownloadHandler creates a new DownloadHandler.
func NewDownloadHandler(q *queue.Queue) *DownloadHandler {
	return &DownloadHandler{queue: q}
}

// userID extracts the authenticated caller's identity. Authentication is
// handled upstream; the core only requires the header to be present.
func userID(c echo.Context) string {
	return c.Request().Header.Get("X-User-ID")
}

func errUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing X-User-ID header"})
}

// writeError maps core errors onto HTTP status codes.
func writeError(c echo.Context, err error) error {
	var validationErr *queue.ValidationError
	var quotaErr *quota.ExceededError
	var transitionErr *queue.InvalidTransitionError

	switch {
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": validationErr.Error()})
	case errors.As(err, &quotaErr):
		return c.JSON(http.StatusTooManyRequests, map[string]any{
			"error":           quotaErr.Error(),
			"window_reset_at": quotaErr.ResetAt,
		})
	case errors.Is(err, queue.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &transitionErr):
		return c.JSON(http.StatusConflict, map[string]string{"error": transitionErr.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

type createDownloadRequest struct {
	SourceURL string `json:"source_url"`
	Format    string `json:"format"`
}

// Create submits a new download job.
func (h *DownloadHandler) Create(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	var req createDownloadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	job, err := h.queue.Submit(c.Request().Context(), uid, req.SourceURL, req.Format)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, job)
}

// List returns the caller's jobs with optional status and title filters.
func (h *DownloadHandler) List(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	opts := storage.ListOptions{
		Status: c.QueryParam("status"),
		Query:  c.QueryParam("q"),
	}
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			opts.Limit = parsed
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil {
			opts.Offset = parsed
		}
	}

	jobs, err := h.queue.List(c.Request().Context(), uid, opts)
	if err != nil {
		return writeError(c, err)
	}
	if jobs == nil {
		jobs = []*models.DownloadJob{}
	}
	return c.JSON(http.StatusOK, jobs)
}

// Get returns one of the caller's jobs.
func (h *DownloadHandler) Get(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	job, err := h.queue.Get(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// Stats returns the caller's job counts per status.
func (h *DownloadHandler) Stats(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	stats, err := h.queue.Stats(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// Cancel stops a queued or downloading job.
func (h *DownloadHandler) Cancel(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	job, err := h.queue.Cancel(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// Retry re-queues a failed job.
func (h *DownloadHandler) Retry(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	job, err := h.queue.Retry(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// Delete removes a job in a terminal state.
func (h *DownloadHandler) Delete(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	if err := h.queue.Delete(c.Request().Context(), uid, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// File serves the result of a completed single download.
func (h *DownloadHandler) File(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	job, err := h.queue.Get(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if job.Status != models.StatusCompleted || job.ResultRef == nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "job result is not ready"})
	}

	info, err := os.Stat(*job.ResultRef)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "result file is gone"})
	}
	if info.IsDir() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "collection results are stored as a directory"})
	}
	return c.Attachment(*job.ResultRef, filepath.Base(*job.ResultRef))
}
