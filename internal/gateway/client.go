package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/auth"
	"github.com/edumatrix/realtime-gateway/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sendBuffer = 256

// Frame is the wire shape of every socket message, both directions.
type Frame struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Session is one live authenticated connection. The joined-room set lives
// on the session so membership checks never leave the process.
type Session struct {
	ID        string
	Identity  auth.Identity
	CreatedAt time.Time

	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger

	mu     sync.RWMutex
	joined map[string]struct{}

	closeOnce sync.Once
}

func newSession(id string, ident auth.Identity, conn *websocket.Conn, log *zap.Logger) *Session {
	return &Session{
		ID:        id,
		Identity:  ident,
		CreatedAt: time.Now(),
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		log: log.With(
			zap.String("conn_id", id),
			zap.String("user_id", ident.ID)),
		joined: make(map[string]struct{}),
	}
}

// NewInertSession builds a session with no underlying socket. Frames queue
// in the outbox instead of being written anywhere. Test use only.
func NewInertSession(id string, ident auth.Identity) *Session {
	return newSession(id, ident, nil, zap.NewNop())
}

// Emit queues a frame for the client. A slow client whose buffer is full
// loses the frame instead of stalling the sender.
func (s *Session) Emit(event string, payload interface{}) {
	raw, err := encodeFrame(event, payload)
	if err != nil {
		s.log.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	s.enqueue(raw)
}

func (s *Session) enqueue(raw []byte) {
	select {
	case s.send <- raw:
		metrics.EventsSent.Inc()
	default:
		metrics.EventsDropped.Inc()
		s.log.Warn("send buffer full, dropping frame")
	}
}

// Outbox exposes queued frames, for tests that assert on deliveries.
func (s *Session) Outbox() <-chan []byte { return s.send }

// MarkJoined records local room membership.
func (s *Session) MarkJoined(roomID string) {
	s.mu.Lock()
	s.joined[roomID] = struct{}{}
	s.mu.Unlock()
}

// MarkLeft forgets local room membership.
func (s *Session) MarkLeft(roomID string) {
	s.mu.Lock()
	delete(s.joined, roomID)
	s.mu.Unlock()
}

// InRoom reports whether this connection has joined roomID.
func (s *Session) InRoom(roomID string) bool {
	s.mu.RLock()
	_, ok := s.joined[roomID]
	s.mu.RUnlock()
	return ok
}

// Rooms lists the connection's joined rooms.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]string, 0, len(s.joined))
	for r := range s.joined {
		rooms = append(rooms, r)
	}
	return rooms
}

// Close tears down the socket once; safe from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	var p map[string]interface{}
	switch v := payload.(type) {
	case nil:
	case map[string]interface{}:
		p = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
	}
	return json.Marshal(Frame{Event: event, Payload: p})
}

// DecodeFrame parses a wire frame, for tests and the read pump.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(raw, &f)
	return f, err
}
