// README: Connection registry and fan-out. One Hub per server instance,
// injected where needed and torn down on shutdown; all identity/room indexes
// live under a single lock so a disconnect racing a push can never observe a
// half-updated registry. Events for one order are enqueued under that lock,
// which preserves per-order publish order on every session's queue.
package realtime

import (
	"sync"
	"time"

	"mesa/internal/modules/order"
	"mesa/internal/types"
)

const sendBuffer = 64

// timeNow is swapped out in tests.
var timeNow = time.Now

// Session is one live connection after authentication.
type Session struct {
	id    uint64
	actor types.Actor
	send  chan Event
	// closed is guarded by the hub mutex; it stops late enqueues after drop.
	closed bool
}

// Events is the outbound queue drained by the connection's write pump. The
// channel is closed when the session is disconnected or dropped.
func (s *Session) Events() <-chan Event { return s.send }

func (s *Session) Actor() types.Actor { return s.actor }

type Hub struct {
	mu         sync.Mutex
	nextID     uint64
	sessions   map[uint64]*Session
	byIdentity map[types.ID]map[uint64]*Session
	admins     map[uint64]*Session
	rooms      map[types.ID]map[uint64]*Session
	roomsOf    map[uint64]map[types.ID]struct{}
	closed     bool
}

func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[uint64]*Session),
		byIdentity: make(map[types.ID]map[uint64]*Session),
		admins:     make(map[uint64]*Session),
		rooms:      make(map[types.ID]map[uint64]*Session),
		roomsOf:    make(map[uint64]map[types.ID]struct{}),
	}
}

// Subscribe binds an authenticated identity to a new session. Admin sessions
// receive the global feed; user and delivery sessions receive events for
// their own identity plus any order rooms they join.
func (h *Hub) Subscribe(actor types.Actor) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s := &Session{send: make(chan Event), closed: true}
		close(s.send)
		return s
	}
	h.nextID++
	s := &Session{id: h.nextID, actor: actor, send: make(chan Event, sendBuffer)}
	h.sessions[s.id] = s
	if actor.Role == types.RoleAdmin {
		h.admins[s.id] = s
	} else {
		peers, ok := h.byIdentity[actor.ID]
		if !ok {
			peers = make(map[uint64]*Session)
			h.byIdentity[actor.ID] = peers
		}
		peers[s.id] = s
	}
	return s
}

func (h *Hub) JoinRoom(s *Session, orderID types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || s.closed {
		return
	}
	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[uint64]*Session)
		h.rooms[orderID] = room
	}
	room[s.id] = s
	joined, ok := h.roomsOf[s.id]
	if !ok {
		joined = make(map[types.ID]struct{})
		h.roomsOf[s.id] = joined
	}
	joined[orderID] = struct{}{}
}

func (h *Hub) LeaveRoom(s *Session, orderID types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(s, orderID)
}

// Disconnect removes the session from every index and closes its queue.
// Idempotent; safe to call from both the read and write sides.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s)
}

// Close drops every session; used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, s := range h.sessions {
		h.dropLocked(s)
	}
}

var _ order.Broadcaster = (*Hub)(nil)

// StatusChanged fans a transition out to admins, the owner's sessions, the
// order's room, and the bound partner's own sessions.
func (h *Hub) StatusChanged(o *order.Order, _ types.Role) {
	ev := Event{Event: EventStatusChanged, OrderID: o.ID, Status: o.Status, At: timeNow()}
	if o.CurrentLocation != nil {
		ev.Location = &o.CurrentLocation.Position
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	audience := h.audienceLocked(o)
	for _, s := range h.byIdentity[o.UserID] {
		audience[s.id] = s
	}
	if o.PartnerID != nil {
		for _, s := range h.byIdentity[*o.PartnerID] {
			audience[s.id] = s
		}
	}
	h.deliverLocked(audience, ev)
}

// LocationUpdated fans a location sample out to admins and to user sessions
// joined to the order's room.
func (h *Hub) LocationUpdated(o *order.Order, pt order.LocationPoint) {
	pos := pt.Position
	ev := Event{Event: EventLocationUpdated, OrderID: o.ID, Status: o.Status, Location: &pos, At: pt.RecordedAt}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(h.audienceLocked(o), ev)
}

// audienceLocked collects admins plus the order room, deduplicated by session.
func (h *Hub) audienceLocked(o *order.Order) map[uint64]*Session {
	audience := make(map[uint64]*Session, len(h.admins))
	for _, s := range h.admins {
		audience[s.id] = s
	}
	for _, s := range h.rooms[o.ID] {
		audience[s.id] = s
	}
	return audience
}

func (h *Hub) deliverLocked(audience map[uint64]*Session, ev Event) {
	for _, s := range audience {
		if s.closed {
			continue
		}
		select {
		case s.send <- ev:
		default:
			// Best-effort delivery: a subscriber that cannot keep up is
			// dropped and must re-subscribe and re-fetch current state.
			h.dropLocked(s)
		}
	}
}

func (h *Hub) dropLocked(s *Session) {
	if s.closed {
		return
	}
	s.closed = true
	delete(h.sessions, s.id)
	delete(h.admins, s.id)
	if peers, ok := h.byIdentity[s.actor.ID]; ok {
		delete(peers, s.id)
		if len(peers) == 0 {
			delete(h.byIdentity, s.actor.ID)
		}
	}
	for orderID := range h.roomsOf[s.id] {
		h.leaveRoomLocked(s, orderID)
	}
	delete(h.roomsOf, s.id)
	close(s.send)
}

func (h *Hub) leaveRoomLocked(s *Session, orderID types.ID) {
	if room, ok := h.rooms[orderID]; ok {
		delete(room, s.id)
		if len(room) == 0 {
			delete(h.rooms, orderID)
		}
	}
	if joined, ok := h.roomsOf[s.id]; ok {
		delete(joined, orderID)
	}
}
