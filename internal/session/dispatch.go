package session

import (
	"log/slog"
	"sync"

	"github.com/PageSmith/PageSmith/internal/models"
)

// Dispatcher fans inbound events out to per-user serial queues. Events for
// one user run in arrival order; events for different users run concurrently,
// so a slow turn (a gateway call with retries, for example) never stalls
// other users' messages. The handler owns the whole turn, including reply
// delivery.
type Dispatcher struct {
	handle func(models.InboundEvent)

	mu     sync.Mutex
	queues map[string][]models.InboundEvent
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher invoking handle for every event.
func NewDispatcher(handle func(models.InboundEvent)) *Dispatcher {
	return &Dispatcher{handle: handle, queues: make(map[string][]models.InboundEvent)}
}

// Dispatch enqueues one event. The first event for an idle user starts a
// drain goroutine; later events append to that user's queue and keep their
// arrival order. Events after Stop are dropped.
func (d *Dispatcher) Dispatch(event models.InboundEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("Dispatcher stopped, dropping event", "userID", event.UserID)
		return
	}
	pending, running := d.queues[event.UserID]
	d.queues[event.UserID] = append(pending, event)
	if !running {
		d.wg.Add(1)
		go d.drain(event.UserID)
	}
}

// drain handles a user's queued events one at a time and exits when the
// queue empties. Queue-map presence doubles as the "drain running" flag, so
// the entry is removed under the same lock that finds the queue empty.
func (d *Dispatcher) drain(userID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		pending := d.queues[userID]
		if len(pending) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		event := pending[0]
		d.queues[userID] = pending[1:]
		d.mu.Unlock()
		d.handle(event)
	}
}

// Stop rejects new events and waits until every queued event is handled.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	slog.Debug("Dispatcher drained")
}
