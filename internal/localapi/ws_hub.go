package localapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"phonepanel/cli/internal/protocol"
)

const (
	wsWriteTimeout = 500 * time.Millisecond
	wsSendQueue    = 32
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub pushes task events to every connected browser. Clients never send
// anything meaningful; reads only detect disconnects. Each client has its own
// writer so Publish never waits on a socket.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	seq     atomic.Uint64
	logger  *slog.Logger
}

func NewWSHub(lg *slog.Logger) *WSHub {
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	return &WSHub{clients: map[*wsClient]struct{}{}, logger: lg}
}

func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Debug("websocket accept failed", "err", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendQueue)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()
	go h.writeLoop(ctx, cancel, c)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *WSHub) writeLoop(ctx context.Context, cancel context.CancelFunc, c *wsClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			wcancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "err", err)
				cancel()
				return
			}
		}
	}
}

// ClientCount reports the connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues the event for every client. A client whose queue is full
// misses the event.
func (h *WSHub) Publish(op string, payload map[string]any) {
	evt := protocol.NewEvent(fmt.Sprintf("evt_%d", h.seq.Add(1)), op, payload)
	msg, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("encode websocket event failed", "op", op, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("websocket client too slow, dropping event", "op", op)
		}
	}
}
