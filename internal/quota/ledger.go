package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medianest/internal/models"
	"medianest/internal/storage"
)

// ExceededError is returned when a submission would pass the window limit.
type ExceededError struct {
	Limit   int
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("download quota of %d exhausted, window resets at %s",
		e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Ledger tracks per-user consumption of the submission allowance.
// Check-and-increment is serialized per user so concurrent submissions
// cannot admit past the limit.
type Ledger struct {
	repo   *storage.QuotaRepository
	limit  int
	window time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewLedger creates a ledger with the configured limit and window length.
func NewLedger(repo *storage.QuotaRepository, limit int, window time.Duration) *Ledger {
	return &Ledger{
		repo:   repo,
		limit:  limit,
		window: window,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

// load reads the user's record, applying the lazy window reset. The caller
// must hold the user lock if it intends to write the record back.
func (l *Ledger) load(ctx context.Context, userID string) (*models.QuotaRecord, bool, error) {
	rec, err := l.repo.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	now := l.now()
	if rec == nil {
		return &models.QuotaRecord{
			UserID:        userID,
			Used:          0,
			Limit:         l.limit,
			WindowResetAt: now.Add(l.window),
		}, true, nil
	}

	dirty := false
	if rec.Limit != l.limit {
		rec.Limit = l.limit
		dirty = true
	}
	if !now.Before(rec.WindowResetAt) {
		rec.Used = 0
		for !now.Before(rec.WindowResetAt) {
			rec.WindowResetAt = rec.WindowResetAt.Add(l.window)
		}
		dirty = true
	}
	return rec, dirty, nil
}

// Record returns the user's current quota state.
func (l *Ledger) Record(ctx context.Context, userID string) (*models.QuotaRecord, error) {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, dirty, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if dirty {
		if err := l.repo.Upsert(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Consume charges one submission against the user's window. Returns an
// ExceededError when the window allowance is already spent.
func (l *Ledger) Consume(ctx context.Context, userID string) (*models.QuotaRecord, error) {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, _, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.Used >= rec.Limit {
		return nil, &ExceededError{Limit: rec.Limit, ResetAt: rec.WindowResetAt}
	}
	rec.Used++
	if err := l.repo.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Refund returns one unit to the user's window. Only called when the
// refund-on-cancel policy is enabled; never drops Used below zero.
func (l *Ledger) Refund(ctx context.Context, userID string) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, _, err := l.load(ctx, userID)
	if err != nil {
		return err
	}
	if rec.Used == 0 {
		return nil
	}
	rec.Used--
	return l.repo.Upsert(ctx, rec)
}
