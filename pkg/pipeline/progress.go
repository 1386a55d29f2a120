package pipeline

import (
	"sync"
	"time"

	"github.com/kaifeng/apkmorph/pkg/models"
)

// subscriberBuffer bounds how far a slow observer may lag before events
// are dropped for it. A slow or detached observer never blocks the job.
const subscriberBuffer = 256

// Hub is the per-job fan-out progress stream: one producer (the
// orchestrator), any number of observers attaching and detaching at
// will. Streams are finite; they end when the owning job reaches a
// terminal state, and a subscription opened after that yields no events.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	subs   map[int]chan models.LogEvent
	nextID int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]*stream)}
}

// Open registers a job's stream. Publishing to an unopened job is a
// no-op, so the orchestrator opens before the first event.
func (h *Hub) Open(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[jobID]; !ok {
		h.streams[jobID] = &stream{subs: make(map[int]chan models.LogEvent)}
	}
}

// Publish fans an event out to every current subscriber. Subscribers
// whose buffer is full miss the event rather than stalling the producer.
func (h *Hub) Publish(jobID string, level models.EventLevel, message string) {
	event := models.LogEvent{Timestamp: time.Now(), Level: level, Message: message}

	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[jobID]
	if !ok {
		return
	}
	for _, ch := range st.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe attaches an observer to a job's stream. The returned cancel
// function detaches early; the channel closes when the job terminates.
// Subscribing to a finished or unknown job returns an already-closed
// channel.
func (h *Hub) Subscribe(jobID string) (<-chan models.LogEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[jobID]
	if !ok {
		ch := make(chan models.LogEvent)
		close(ch)
		return ch, func() {}
	}

	id := st.nextID
	st.nextID++
	ch := make(chan models.LogEvent, subscriberBuffer)
	st.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if st, ok := h.streams[jobID]; ok {
			if sub, ok := st.subs[id]; ok {
				delete(st.subs, id)
				close(sub)
			}
		}
	}
	return ch, cancel
}

// Close ends a job's stream, closing every subscriber channel and
// releasing the stream so later subscriptions see a finished job.
func (h *Hub) Close(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[jobID]
	if !ok {
		return
	}
	for _, ch := range st.subs {
		close(ch)
	}
	delete(h.streams, jobID)
}
