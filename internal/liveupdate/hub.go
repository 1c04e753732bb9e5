// Package liveupdate is the publish-subscribe fan-out that streams
// commit-time state changes to connected UI clients over a websocket.
package liveupdate

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/opencrew/agent-mesh/internal/store/redisstore"
)

const (
	EventNewMessage      = "new_message"
	EventMessageUpdated  = "message_updated"
	EventProjectUpdated  = "project_updated"
)

// Event is the {type, payload} frame pushed to subscribers.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub owns the subscriber registry and the per-project pending-event
// buffer. All mutation of the registry goes through its mutex; delivery
// to each subscriber happens on that subscriber's own goroutine via its
// send channel, so a slow client never blocks a publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*client]struct{}

	redis      *redisstore.Store
	bufferSize int
}

func NewHub(redis *redisstore.Store, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Hub{
		subscribers: make(map[string]map[*client]struct{}),
		redis:       redis,
		bufferSize:  bufferSize,
	}
}

// Publish delivers event to every subscriber currently joined to
// projectID. If none are joined, the event is appended to that project's
// bounded, drop-oldest buffer for delivery on the next join.
func (h *Hub) Publish(ctx context.Context, projectID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("liveupdate: marshal event type=%s project=%s err=%v", event.Type, projectID, err)
		return
	}

	h.mu.Lock()
	subs := h.subscribers[projectID]
	clients := make([]*client, 0, len(subs))
	for c := range subs {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if len(clients) == 0 {
		if h.redis == nil {
			return
		}
		if err := h.redis.PushPending(ctx, projectID, payload, h.bufferSize); err != nil {
			log.Printf("liveupdate: buffer overflow drop-oldest project=%s err=%v", projectID, err)
		}
		return
	}

	for _, c := range clients {
		c.enqueue(payload)
	}
}

func (h *Hub) subscribe(projectID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[projectID]
	if !ok {
		set = make(map[*client]struct{})
		h.subscribers[projectID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unsubscribeAll(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for projectID, set := range h.subscribers {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subscribers, projectID)
			}
		}
	}
}

// flushBuffered replays any events that were queued while nobody was
// subscribed to projectID, in the order they were published, then clears
// the buffer.
func (h *Hub) flushBuffered(ctx context.Context, projectID string, c *client) {
	if h.redis == nil {
		return
	}
	events, err := h.redis.FlushPending(ctx, projectID)
	if err != nil {
		log.Printf("liveupdate: flush buffer project=%s err=%v", projectID, err)
		return
	}
	for _, payload := range events {
		c.enqueue(payload)
	}
}
