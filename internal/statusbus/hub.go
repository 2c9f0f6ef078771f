package statusbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
)

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 64

// markTTL is how long the hub remembers the last version seen for a job
const markTTL = 10 * time.Minute

// Hub fans events out to every connected subscriber. Each subscriber gets its
// own buffered channel, so events for one job arrive in publish order.
// Events older than the last version delivered for their job are dropped, as
// is anything published for a job after its removal.
// A subscriber that falls behind loses events instead of blocking publishers.
type Hub struct {
	logger *slog.Logger
	buffer int
	now    func() time.Time

	mu        sync.RWMutex
	nextID    uint64
	subs      map[uint64]chan domain.Event
	closed    bool
	marks     map[string]jobMark
	lastSweep time.Time
}

// jobMark is the newest delivered state of a job
type jobMark struct {
	version int64
	removed bool
	seen    time.Time
}

// NewHub creates a hub; buffer <= 0 selects DefaultBuffer
func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		logger: logger,
		buffer: buffer,
		now:    time.Now,
		subs:   make(map[uint64]chan domain.Event),
		marks:  make(map[string]jobMark),
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; calling it more than once is safe.
func (h *Hub) Subscribe() (<-chan domain.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan domain.Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}

	return ch, unsub
}

// Publish delivers the event to all subscribers without blocking. Stale and
// duplicate events are dropped and reported as delivered.
func (h *Hub) Publish(_ context.Context, event domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.admit(event) {
		h.logger.Debug("Dropping stale status event",
			slog.String("job_id", event.JobID),
			slog.String("state", event.State.String()),
			slog.Int64("version", event.Version),
		)
		return nil
	}

	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Subscriber buffer full, dropping event",
				slog.String("job_id", event.JobID),
				slog.String("state", event.State.String()),
			)
		}
	}
	return nil
}

// admit records the event against its job and reports whether it is newer
// than everything delivered for that job. Events without a version are
// ordered only against removal. Callers hold h.mu.
func (h *Hub) admit(event domain.Event) bool {
	now := h.now()
	h.sweep(now)

	mark := h.marks[event.JobID]
	if mark.removed {
		return false
	}

	switch {
	case event.State == domain.StateRemoved:
		mark.removed = true
	case event.Version > 0:
		if event.Version <= mark.version {
			return false
		}
		mark.version = event.Version
	}

	mark.seen = now
	h.marks[event.JobID] = mark
	return true
}

// sweep forgets jobs not heard from within markTTL. Callers hold h.mu.
func (h *Hub) sweep(now time.Time) {
	if now.Sub(h.lastSweep) < markTTL {
		return
	}
	for id, mark := range h.marks {
		if now.Sub(mark.seen) >= markTTL {
			delete(h.marks, id)
		}
	}
	h.lastSweep = now
}

// Subscribers returns the number of connected subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber; later subscriptions get a closed channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.closed = true
}
