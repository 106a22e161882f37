// Package gateway exposes a WebSocket feed of platform events: every decoded
// sensor reading, every actuator command, every rule transition. Dashboards
// connect here instead of subscribing to the broker directly.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"iot-systemv1/internal/model"
	"iot-systemv1/internal/ringbuf"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub manages WebSocket clients and event fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// latest holds the most recent reading envelope per sensor, sent to new
	// clients as initial state.
	latest map[string]latestEntry
	seq    int64

	// replay keeps recent envelopes for backfill on connect.
	replay *ReplayBuffer

	// staging decouples the fan-out subscriber from slow WebSocket writes.
	// Run is the only producer and broadcastLoop the only consumer, which is
	// the contract the SPSC ring requires.
	staging *ringbuf.Ring
	wake    chan struct{}

	// OnOverflow reports staging drops. Optional.
	OnOverflow func()
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
}

// NewHub creates a Hub with the given staging and replay capacities.
func NewHub(stagingCap, replayCap int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		replay:  NewReplayBuffer(replayCap),
		staging: ringbuf.New(stagingCap),
		wake:    make(chan struct{}, 1),
	}
}

// Run consumes readings and fans them out. Blocks until ctx is cancelled or
// the channel closes.
func (h *Hub) Run(ctx context.Context, readings <-chan model.Reading) {
	go h.broadcastLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			if !h.staging.Push(r) {
				if h.OnOverflow != nil {
					h.OnOverflow()
				}
				continue
			}
			select {
			case h.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			for {
				r, ok := h.staging.Pop()
				if !ok {
					break
				}
				h.publishReading(r)
			}
		}
	}
}

func (h *Hub) publishReading(r model.Reading) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	envelope, err := json.Marshal(map[string]any{
		"type":    "reading",
		"seq":     seq,
		"reading": r,
		"ts":      r.ReceivedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.latest[r.Key()] = latestEntry{Data: envelope, TS: r.ReceivedAt}
	h.mu.Unlock()

	h.replay.Push(seq, envelope)
	h.broadcast(envelope)
}

// PublishCommand pushes an actuator command event to all clients.
// Safe to call from any goroutine.
func (h *Hub) PublishCommand(deviceID, actuatorID string, value any, ok bool) {
	envelope, err := json.Marshal(map[string]any{
		"type":        "command",
		"device_id":   deviceID,
		"actuator_id": actuatorID,
		"value":       value,
		"ok":          ok,
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	h.broadcast(envelope)
}

// PublishTransition pushes a rule transition event to all clients.
func (h *Hub) PublishTransition(ruleID string, active bool) {
	envelope, err := json.Marshal(map[string]any{
		"type":    "transition",
		"rule_id": ruleID,
		"active":  active,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	h.broadcast(envelope)
}

// broadcast sends an envelope to every client, dropping for slow ones.
func (h *Hub) broadcast(envelope []byte) {
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- envelope:
		default:
		}
	}
	h.mu.RUnlock()
}

// HandleWS upgrades an HTTP connection to WebSocket and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StagingOverflow reports the total readings dropped before broadcast.
func (h *Hub) StagingOverflow() uint64 {
	return h.staging.Overflow()
}
