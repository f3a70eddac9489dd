package snapshot

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// inbound is any message the host page relays from its embedded frames.
type inbound struct {
	Action     string `json:"action,omitempty"`
	ShapeID    string `json:"shapeId"`
	Screenshot string `json:"screenshot,omitempty"`
}

// hubConn is one browser tab. It is the Frame of every shape it mounted.
type hubConn struct {
	id        uint64
	ws        *websocket.Conn
	sendCh    chan Request
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	mounted map[string]struct{}
}

func (c *hubConn) Post(ctx context.Context, req Request) error {
	select {
	case c.sendCh <- req:
		return nil
	case <-c.done:
		return ErrFrameClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hub is the WebSocket transport of the snapshot protocol.
type Hub struct {
	bridge         *Bridge
	logger         *slog.Logger
	originPatterns []string
	nextID         atomic.Uint64
	conns          sync.Map // uint64 -> *hubConn
}

// NewHub serves browser connections for bridge. originPatterns restricts
// cross-origin upgrades; nil allows localhost only.
func NewHub(bridge *Bridge, originPatterns []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if len(originPatterns) == 0 {
		originPatterns = []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"}
	}
	return &Hub{bridge: bridge, logger: logger, originPatterns: originPatterns}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("snapshot: websocket accept failed", "error", err)
		return
	}

	c := &hubConn{
		id:      h.nextID.Add(1),
		ws:      ws,
		sendCh:  make(chan Request, 16),
		done:    make(chan struct{}),
		mounted: make(map[string]struct{}),
	}
	h.conns.Store(c.id, c)
	h.logger.Debug("snapshot: client connected", "conn_id", c.id)

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)

	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	for shapeID := range c.mounted {
		h.bridge.Unmount(shapeID, c)
	}
	c.mu.Unlock()
	h.conns.Delete(c.id)
	ws.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("snapshot: client disconnected", "conn_id", c.id)
}

func (h *Hub) readLoop(ctx context.Context, c *hubConn) {
	for {
		var msg inbound
		if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
			return
		}
		if msg.ShapeID == "" {
			continue
		}
		switch {
		case msg.Screenshot != "":
			if !h.bridge.Deliver(Reply{Screenshot: msg.Screenshot, ShapeID: msg.ShapeID}) {
				h.logger.Debug("snapshot: unmatched reply", "shape", msg.ShapeID)
			}
		case msg.Action == ActionMount:
			c.mu.Lock()
			c.mounted[msg.ShapeID] = struct{}{}
			c.mu.Unlock()
			h.bridge.Mount(msg.ShapeID, c)
		case msg.Action == ActionUnmount:
			c.mu.Lock()
			delete(c.mounted, msg.ShapeID)
			c.mu.Unlock()
			h.bridge.Unmount(msg.ShapeID, c)
		}
	}
}

func (h *Hub) writeLoop(c *hubConn) {
	for {
		select {
		case <-c.done:
			return
		case req := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, c.ws, req)
			cancel()
			if err != nil {
				h.logger.Warn("snapshot: write failed", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.conns.Range(func(key, value any) bool {
		c := value.(*hubConn)
		c.closeOnce.Do(func() { close(c.done) })
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		return true
	})
}
