// Package hub fans out job state and progress events to subscribed
// observers. Subscribing returns a snapshot of the observer's visible jobs
// taken atomically with respect to publishing, so no event generated after
// the snapshot is missed. A mutation persisted just before Subscribe may
// appear in both the snapshot and a following event; events carry the
// job's current state, so applying one twice is harmless.
package hub

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"medianest/internal/models"
)

// SnapshotFunc loads the current jobs visible to a user.
type SnapshotFunc func(userID string) ([]*models.DownloadJob, error)

// Subscription is one observer's live feed. Events is closed on
// Unsubscribe or when the subscriber falls too far behind.
type Subscription struct {
	ID       string
	UserID   string
	Snapshot []*models.DownloadJob
	Events   chan models.Event
}

// Hub is the publish/subscribe registry keyed by observer identity.
type Hub struct {
	snapshot      SnapshotFunc
	progressEvery time.Duration

	mu           sync.Mutex
	subs         map[string]*Subscription
	lastProgress map[string]time.Time

	now func() time.Time
}

const subscriberBuffer = 64

// New creates a hub. progressEvery bounds progress fan-out volume: at most
// one progress event per job per interval reaches subscribers, except the
// final 100% tick. Status events are never rate-limited.
func New(snapshot SnapshotFunc, progressEvery time.Duration) *Hub {
	return &Hub{
		snapshot:      snapshot,
		progressEvery: progressEvery,
		subs:          make(map[string]*Subscription),
		lastProgress:  make(map[string]time.Time),
		now:           time.Now,
	}
}

// Subscribe registers an observer and returns its snapshot plus event feed.
func (h *Hub) Subscribe(userID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	jobs, err := h.snapshot(userID)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		ID:       uuid.New().String(),
		UserID:   userID,
		Snapshot: jobs,
		Events:   make(chan models.Event, subscriberBuffer),
	}
	h.subs[sub.ID] = sub
	return sub, nil
}

// Unsubscribe removes an observer and closes its event feed.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.Events)
	}
}

// Publish delivers an event to every subscriber of the event's user.
// Fire-and-forget: the caller is never blocked on delivery. Progress
// events may be dropped (rate limit, full buffer); a status or deleted
// event that cannot be buffered evicts the stalled subscriber instead of
// being dropped, forcing it to resubscribe for a fresh snapshot.
func (h *Hub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Type {
	case models.EventProgress:
		now := h.now()
		if last, ok := h.lastProgress[ev.JobID]; ok &&
			now.Sub(last) < h.progressEvery && ev.ProgressPercent < 100 {
			return
		}
		h.lastProgress[ev.JobID] = now
	case models.EventStatus:
		// Terminal jobs emit no further progress; drop their limiter state.
		switch ev.NewStatus {
		case models.StatusCompleted, models.StatusFailed, models.StatusCancelled:
			delete(h.lastProgress, ev.JobID)
		}
	case models.EventDeleted:
		delete(h.lastProgress, ev.JobID)
	}

	for id, sub := range h.subs {
		if sub.UserID != ev.UserID {
			continue
		}
		select {
		case sub.Events <- ev:
		default:
			if ev.Type == models.EventProgress {
				continue
			}
			log.Printf("Evicting stalled subscriber %s (user %s)", id, sub.UserID)
			delete(h.subs, id)
			close(sub.Events)
		}
	}
}

// SubscriberCount returns the number of connected observers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
