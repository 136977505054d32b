package gateway

import (
	"sync"

	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/metrics"
)

// Hub indexes this replica's live sessions by connection, user, and room.
// All delivery methods fan out pre-encoded frames; slow receivers drop.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
	rooms    map[string]map[string]*Session
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		log:      log.With(zap.String("module", "hub")),
	}
}

// Add registers a session.
func (h *Hub) Add(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	if h.byUser[s.Identity.ID] == nil {
		h.byUser[s.Identity.ID] = make(map[string]*Session)
	}
	h.byUser[s.Identity.ID][s.ID] = s
	h.mu.Unlock()
	metrics.ActiveConnections.Set(float64(h.Count()))
}

// Remove drops a session from every index.
func (h *Hub) Remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	if conns := h.byUser[s.Identity.ID]; conns != nil {
		delete(conns, s.ID)
		if len(conns) == 0 {
			delete(h.byUser, s.Identity.ID)
		}
	}
	for roomID, members := range h.rooms {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	metrics.ActiveConnections.Set(float64(h.Count()))
	metrics.ActiveRooms.Set(float64(h.RoomCount()))
}

// JoinRoom indexes the session under roomID for local fan-out.
func (h *Hub) JoinRoom(s *Session, roomID string) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Session)
	}
	h.rooms[roomID][s.ID] = s
	h.mu.Unlock()
	s.MarkJoined(roomID)
	metrics.ActiveRooms.Set(float64(h.RoomCount()))
}

// LeaveRoom removes the session from the room index.
func (h *Hub) LeaveRoom(s *Session, roomID string) {
	h.mu.Lock()
	if members := h.rooms[roomID]; members != nil {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	s.MarkLeft(roomID)
	metrics.ActiveRooms.Set(float64(h.RoomCount()))
}

// BroadcastRoom delivers to every local member of roomID.
func (h *Hub) BroadcastRoom(roomID, event string, payload interface{}) {
	h.BroadcastRoomExcept(roomID, "", event, payload)
}

// BroadcastRoomExcept delivers to local room members, skipping one
// connection, typically the actor who already got an acknowledgment.
func (h *Hub) BroadcastRoomExcept(roomID, exceptConnID, event string, payload interface{}) {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.rooms[roomID] {
		if id == exceptConnID {
			continue
		}
		s.enqueue(raw)
	}
}

// BroadcastAll delivers to every local connection.
func (h *Hub) BroadcastAll(event string, payload interface{}) {
	h.BroadcastAllExcept("", event, payload)
}

// BroadcastAllExcept delivers to every local connection but one.
func (h *Hub) BroadcastAllExcept(exceptConnID, event string, payload interface{}) {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.sessions {
		if id == exceptConnID {
			continue
		}
		s.enqueue(raw)
	}
}

// SendToUser delivers to every connection the user has open here.
func (h *Hub) SendToUser(userID, event string, payload interface{}) {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.byUser[userID] {
		s.enqueue(raw)
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomCount returns the number of rooms with local members.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// RoomOccupancy returns local member counts per room.
func (h *Hub) RoomOccupancy() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for roomID, members := range h.rooms {
		out[roomID] = len(members)
	}
	return out
}

// ConnectedUserIDs lists distinct users with open connections here.
func (h *Hub) ConnectedUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.byUser))
	for u := range h.byUser {
		users = append(users, u)
	}
	return users
}

// UserInRoom reports whether any of the user's connections on this replica
// is still joined to roomID.
func (h *Hub) UserInRoom(userID, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.rooms[roomID] {
		if s.Identity.ID == userID {
			return true
		}
	}
	return false
}

// UserOnline reports whether the user has any connection on this replica.
func (h *Hub) UserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}
