package serialmux

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

// subscriberBuffer is how many values a slow subscriber may fall behind
// before values are dropped for it.
const subscriberBuffer = 16

// Hub fans values out to any number of subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the value.
type Hub[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
	latest      T
	hasLatest   bool
	published   uint64
	dropped     uint64
	closing     bool
}

// NewHub returns an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{
		subscribers: make(map[string]chan T),
	}
}

// Subscribe creates a new channel for receiving published values. The ID is
// used to unsubscribe. Subscribing to a closed hub returns a closed channel.
func (h *Hub[T]) Subscribe() (string, chan T) {
	id := uuid.NewString()
	ch := make(chan T, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub[T]) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish records v as the latest value and offers it to every subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return
	}
	h.latest = v
	h.hasLatest = true
	h.published++
	for _, ch := range h.subscribers {
		select {
		case ch <- v:
		default:
			h.dropped++
		}
	}
}

// Latest returns the most recently published value.
func (h *Hub[T]) Latest() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.hasLatest
}

// HubStats counts hub traffic.
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns traffic counters.
func (h *Hub[T]) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{
		Subscribers: len(h.subscribers),
		Published:   h.published,
		Dropped:     h.dropped,
	}
}

// Close closes all subscriber channels. Later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return
	}
	h.closing = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

// AttachAdminRoutes attaches debugging endpoints to the given HTTP mux,
// served under /debug/: a live Server-Sent Events tail of published values
// and the latest value as JSON.
func (h *Hub[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Readings published", func() any { return h.Stats().Published })
	debug.KVFunc("Tail subscribers", func() any { return h.Stats().Subscribers })

	debug.HandleFunc("tail", "live tail of decoded readings (SSE)", h.serveTail)

	debug.HandleSilentFunc("latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		v, ok := h.Latest()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	})
}

func (h *Hub[T]) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := h.Subscribe()
	defer h.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case v, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(v)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
