// README: WebSocket endpoint: authenticates the connection from its session
// token, subscribes it to the hub, and pumps events both ways.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mesa/internal/infra"
	"mesa/internal/modules/order"
	"mesa/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// OrderReader authorizes room membership: a caller may only join rooms of
// orders it can read.
type OrderReader interface {
	Get(ctx context.Context, actor types.Actor, id types.ID) (*order.Order, error)
}

// LocationRecorder is the durable sink for delivery location pushes.
type LocationRecorder interface {
	RecordLocation(ctx context.Context, actor types.Actor, orderID types.ID, pos types.Point) error
}

type Handler struct {
	hub       *Hub
	verifier  infra.TokenVerifier
	orders    OrderReader
	locations LocationRecorder
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, verifier infra.TokenVerifier, orders OrderReader, locations LocationRecorder) *Handler {
	return &Handler{
		hub:       hub,
		verifier:  verifier,
		orders:    orders,
		locations: locations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// safeConn serializes writes; gorilla connections support one concurrent
// writer and both pumps (events, notices, pings) write.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}

func (c *safeConn) writeControl(messageType int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(messageType, nil)
}

// clientMessage is the single client-to-server message shape.
type clientMessage struct {
	Action   string       `json:"action"` // join_room | leave_room | location_update
	OrderID  types.ID     `json:"order_id"`
	Location *types.Point `json:"location,omitempty"`
}

type serverNotice struct {
	Error string `json:"error"`
}

// Serve handles GET /ws?token=...&order_id=...
func (h *Handler) Serve(c *gin.Context) {
	tok, err := h.verifier.VerifyToken(c.Request.Context(), c.Query("token"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	actor := types.Actor{ID: types.ID(tok.Subject), Role: types.Role(tok.Role)}
	if !actor.Role.Valid() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown role"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	conn := &safeConn{Conn: raw}

	sess := h.hub.Subscribe(actor)
	if orderID := types.ID(c.Query("order_id")); orderID != "" && actor.Role != types.RoleAdmin {
		h.joinRoom(c.Request.Context(), conn, sess, orderID)
	}

	go h.writePump(conn, sess)
	h.readPump(conn, sess)
}

func (h *Handler) readPump(conn *safeConn, sess *Session) {
	defer func() {
		h.hub.Disconnect(sess)
		conn.Close()
	}()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		ctx := context.Background()
		switch msg.Action {
		case "join_room":
			h.joinRoom(ctx, conn, sess, msg.OrderID)
		case "leave_room":
			h.hub.LeaveRoom(sess, msg.OrderID)
		case "location_update":
			if msg.Location == nil {
				h.notice(conn, "location_update requires location")
				continue
			}
			if err := h.locations.RecordLocation(ctx, sess.Actor(), msg.OrderID, *msg.Location); err != nil {
				h.notice(conn, err.Error())
			}
		default:
			h.notice(conn, "unknown action")
		}
	}
}

func (h *Handler) writePump(conn *safeConn, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				_ = conn.writeControl(websocket.CloseMessage)
				return
			}
			if err := conn.writeJSON(ev); err != nil {
				h.hub.Disconnect(sess)
				return
			}
		case <-ticker.C:
			if err := conn.writeControl(websocket.PingMessage); err != nil {
				h.hub.Disconnect(sess)
				return
			}
		}
	}
}

// joinRoom admits the session only when it can read the order, so a user
// switching between tracked orders never receives cross-order events.
func (h *Handler) joinRoom(ctx context.Context, conn *safeConn, sess *Session, orderID types.ID) {
	if _, err := h.orders.Get(ctx, sess.Actor(), orderID); err != nil {
		h.notice(conn, "cannot join room: "+err.Error())
		return
	}
	h.hub.JoinRoom(sess, orderID)
}

func (h *Handler) notice(conn *safeConn, msg string) {
	if err := conn.writeJSON(serverNotice{Error: msg}); err != nil {
		slog.Debug("ws notice write failed", "error", err)
	}
}
