// Package relay republishes the camera feed to live viewers: a websocket hub
// serving JPEG frames to browsers, and an ffmpeg restreamer pushing the raw
// stream to an RTMP endpoint. Both are observers of the frame tap; neither
// touches the detection path.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vigil/internal/video"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// viewer is one connected websocket client. All writes to the connection,
// frames and pings alike, go through its write pump so the connection only
// ever has a single writer.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans live JPEG frames out to websocket viewers. Frames are sent as
// binary messages; a viewer whose send buffer is full skips frames rather
// than stall the hub.
type Hub struct {
	mu      sync.RWMutex
	viewers map[*viewer]bool
	log     *zap.SugaredLogger
}

// NewHub creates an empty viewer hub.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		viewers: make(map[*viewer]bool),
		log:     log,
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *Hub) register(v *viewer) {
	h.mu.Lock()
	h.viewers[v] = true
	h.mu.Unlock()
	h.log.Infow("viewer connected", "viewers", h.ClientCount())
}

// unregister removes the viewer and closes its send channel, stopping the
// write pump. Safe to call from both pumps; only the first call closes.
func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	if _, ok := h.viewers[v]; ok {
		delete(h.viewers, v)
		close(v.send)
	}
	h.mu.Unlock()
	v.conn.Close()
}

// Broadcast queues the frame's JPEG bytes for every viewer. The send channel
// is closed only under the write lock, so queueing under the read lock never
// races a close.
func (h *Hub) Broadcast(f video.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for v := range h.viewers {
		select {
		case v.send <- f.Data:
		default:
		}
	}
}

// Run consumes a tap subscription and broadcasts until the context ends or
// the subscription is removed. Broadcasting is skipped while nobody is
// watching.
func (h *Hub) Run(ctx context.Context, sub *video.TapSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case f := <-sub.C:
			if h.ClientCount() > 0 {
				h.Broadcast(f)
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the viewer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, 16)}
	h.register(v)
	go h.writePump(v)
	go h.readPump(v)
}

// writePump is the connection's only writer: it serializes queued frames and
// keepalive pings onto the socket.
func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		h.unregister(v)
	}()

	for {
		select {
		case data, ok := <-v.send:
			if !ok {
				return
			}
			v.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				h.log.Debugw("viewer write failed, disconnecting", "error", err)
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump exists only to detect disconnects and answer pings.
func (h *Hub) readPump(v *viewer) {
	defer h.unregister(v)

	v.conn.SetReadLimit(512)
	v.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}
