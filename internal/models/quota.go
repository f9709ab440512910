package models

import "time"

// QuotaRecord tracks a user's consumption of the submission allowance
// within the current quota window.
type QuotaRecord struct {
	UserID        string    `json:"user_id"`
	Used          int       `json:"used"`
	Limit         int       `json:"limit"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// CanSubmit reports whether another submission fits in the window.
func (q *QuotaRecord) CanSubmit() bool {
	return q.Used < q.Limit
}
