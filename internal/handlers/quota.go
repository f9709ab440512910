package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"medianest/internal/quota"
)

// QuotaHandler serves the caller's quota state.
type QuotaHandler struct {
	ledger *quota.Ledger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(ledger *quota.Ledger) *QuotaHandler {
	return &QuotaHandler{ledger: ledger}
}

// Get returns the caller's current window consumption.
func (h *QuotaHandler) Get(c echo.Context) error {
	uid := userID(c)
	if uid == "" {
		return errUnauthorized(c)
	}

	rec, err := h.ledger.Record(c.Request().Context(), uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"used":            rec.Used,
		"limit":           rec.Limit,
		"window_reset_at": rec.WindowResetAt,
		"can_submit":      rec.CanSubmit(),
	})
}
