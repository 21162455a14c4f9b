package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"sleepstage/domain/core"
	"sleepstage/internal"
	"sleepstage/ports"
)

const sseKeepAlive = 30 * time.Second

// SSEClient is one connected event stream
type SSEClient struct {
	UserID  core.UserID
	Channel chan ports.StageEvent
}

// SSEHub fans stage events out to Server-Sent Events clients, per user
type SSEHub struct {
	clients    map[core.UserID]map[chan ports.StageEvent]bool
	clientsMu sync.RWMutex
	broadcast chan ports.StageEvent
	done      chan struct{}
	closeOnce sync.Once
	logger    *internal.Logger
}

// NewSSEHub creates a hub and starts its loop
func NewSSEHub(logger *internal.Logger) *SSEHub {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	hub := &SSEHub{
		clients:   make(map[core.UserID]map[chan ports.StageEvent]bool),
		broadcast: make(chan ports.StageEvent, 100),
		done:      make(chan struct{}),
		logger:    logger,
	}

	go hub.run()
	return hub
}

// addClient registers a stream under the hub lock
func (h *SSEHub) addClient(client SSEClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[chan ports.StageEvent]bool)
	}
	h.clients[client.UserID][client.Channel] = true
	h.logger.Debug("[SSE] client registered for %s (total clients: %d)",
		client.UserID, len(h.clients[client.UserID]))
}

// removeClient drops a stream under the hub lock. It works after Close.
func (h *SSEHub) removeClient(client SSEClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	clients, exists := h.clients[client.UserID]
	if !exists {
		return
	}
	delete(clients, client.Channel)
	h.logger.Debug("[SSE] client unregistered from %s (remaining clients: %d)",
		client.UserID, len(clients))
	if len(clients) == 0 {
		delete(h.clients, client.UserID)
	}
}

// run fans out broadcasts until Close
func (h *SSEHub) run() {
	for {
		select {
		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for clientChan := range h.clients[event.UserID] {
				select {
				case clientChan <- event:
				default:
					h.logger.Warn("[SSE] client channel full for %s, skipping %s", event.UserID, event.Kind)
				}
			}
			h.clientsMu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Broadcast queues an event for the user's clients
func (h *SSEHub) Broadcast(event ports.StageEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("[SSE] broadcast channel full, dropping %s for %s", event.Kind, event.UserID)
	}
}

// Close stops the hub loop. Open streams end when their requests do.
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// HandleSSE streams the user's stage events
func (h *SSEHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	userID := core.UserID(chi.URLParam(r, "user"))
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	select {
	case <-h.done:
		writeError(w, http.StatusServiceUnavailable, "SSE hub closed")
		return
	default:
	}
	client := SSEClient{UserID: userID, Channel: make(chan ports.StageEvent, 10)}
	h.addClient(client)
	defer h.removeClient(client)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case event := <-client.Channel:
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("[SSE] failed to marshal event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, payload)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, "event: ping\ndata: {\"timestamp\":%q}\n\n", time.Now().Format(time.RFC3339))
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}

// GetClientCount returns the number of connected clients for a user
func (h *SSEHub) GetClientCount(userID core.UserID) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[userID])
}
