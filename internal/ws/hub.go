package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aquaflow/sensorhub/internal/sensor"
)

var (
	metricSubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_subscribers_active",
		Help: "Current number of connected live-view subscribers",
	})

	metricBroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_broadcasts_total",
		Help: "Total readings broadcast to the subscriber set",
	})

	metricSubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_subscribers_dropped_total",
		Help: "Total subscribers removed after a failed delivery attempt",
	})
)

// Message kinds on the live channel. A subscriber receives at most one
// initial message, then updates in acceptance order.
const (
	MessageInitial = "initial"
	MessageUpdate  = "update"
)

type Message struct {
	Type    string         `json:"type"`
	Reading sensor.Reading `json:"reading"`
}

// Hub maintains the set of connected live subscribers and pushes every
// newly accepted reading to each of them. Delivery is best effort,
// at most once per subscriber per reading: a subscriber whose send
// buffer is full or whose connection closed is removed, never waited
// for, so one slow client cannot delay the others.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	history *sensor.HistoryStore
}

func NewHub(history *sensor.HistoryStore) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		history: history,
	}
}

// Register adds a subscriber and bootstraps it with the current latest
// reading, if any, as an initial message delivered to it alone.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)

	if latest, ok := h.history.Latest(); ok {
		if payload, err := json.Marshal(Message{Type: MessageInitial, Reading: latest}); err == nil {
			select {
			case c.send <- payload:
			default:
				// Fresh connection with a full buffer is already dead.
				h.dropLocked(c)
				total--
			}
		}
	}
	h.mu.Unlock()

	metricSubscribersActive.Set(float64(total))
	log.Printf("WS subscriber registered: %s (%d total)", c.remoteAddr(), total)
}

// Unregister removes a subscriber. Idempotent; safe to call from the
// client's read pump and from a failed broadcast attempt.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	removed := false
	if h.clients[c] {
		h.dropLocked(c)
		removed = true
	}
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		metricSubscribersActive.Set(float64(total))
		log.Printf("WS subscriber unregistered: %s (%d remaining)", c.remoteAddr(), total)
	}
}

// Broadcast delivers an update message to every registered subscriber.
// The subscriber map is iterated under the lock; sends are non-blocking
// against each client's buffered channel, and a failed attempt drops
// only that client.
func (h *Hub) Broadcast(r sensor.Reading) {
	payload, err := json.Marshal(Message{Type: MessageUpdate, Reading: r})
	if err != nil {
		log.Printf("WS broadcast marshal error: %v", err)
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("WS subscriber %s not writable, removing", c.remoteAddr())
			h.dropLocked(c)
			metricSubscribersDropped.Inc()
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	metricBroadcastsTotal.Inc()
	metricSubscribersActive.Set(float64(total))
}

// Count reports the number of currently registered subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) dropLocked(c *Client) {
	delete(h.clients, c)
	close(c.send)
}
