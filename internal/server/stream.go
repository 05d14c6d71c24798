package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/arkwarden/internal/events"
)

// ReadyEvent is the first SSE event of every stream. Clients that need to
// observe an operation from its start wait for it before issuing the request.
const ReadyEvent = "ready"

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func streamFilter(c *gin.Context) events.Filter {
	inst := events.ForInstance(c.Query("instance"))
	op := c.Query("operation")
	if op == "" {
		return inst
	}
	byOp := events.ForOperation(op)
	if inst == nil {
		return byOp
	}
	return func(e events.Event) bool { return inst(e) && byOp(e) }
}

func (r *Router) handleEvents(c *gin.Context) {
	sub := r.bus.Subscribe(streamFilter(c))
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent(ReadyEvent, gin.H{"subscriber": sub.ID})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		}
	})
}

func (r *Router) handleEventsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := r.bus.Subscribe(streamFilter(c))
	defer sub.Close()

	// the reader only notices the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("WebSocket write failed", "subscriber", sub.ID, "error", err)
				}
				return
			}
		}
	}
}
