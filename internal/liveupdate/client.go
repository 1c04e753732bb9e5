package liveupdate

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const sendBuffer = 32

type joinFrame struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// client is one connected subscriber. Its send channel is the only
// mutable state a publisher touches; conn.WriteMessage calls all happen
// on writePump's own goroutine, matching the "single owner goroutine per
// subscriber" rule.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn) *client {
	return &client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer)}
}

// enqueue is the publisher-facing, non-blocking send. When the buffer is
// full the oldest queued frame is dropped to make room, matching the
// hub's overflow policy for connected-but-slow subscribers.
func (c *client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *client) writePump() {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump owns the connection until it closes: it processes join frames
// and otherwise ignores client input, since this channel is server-push
// only beyond subscription management.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unsubscribeAll(c)
		close(c.send)
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame joinFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != "join" || frame.ProjectID == "" {
			continue
		}
		c.hub.subscribe(frame.ProjectID, c)
		c.hub.flushBuffered(ctx, frame.ProjectID, c)
		log.Printf("liveupdate: client joined project=%s", frame.ProjectID)
	}
}
