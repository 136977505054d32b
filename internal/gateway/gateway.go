// Package gateway owns the websocket surface: handshake, session lifecycle,
// frame routing, and local fan-out.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/auth"
	"github.com/edumatrix/realtime-gateway/internal/metrics"
)

// Authenticator validates a handshake request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

// Options tune the socket surface.
type Options struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxPayloadSize int64
}

// Gateway upgrades handshakes into sessions and runs their pumps. Connect
// and disconnect behavior is injected so the handler wiring stays outside.
type Gateway struct {
	opts     Options
	gate     Authenticator
	hub      *Hub
	router   *Router
	log      *zap.Logger
	upgrader websocket.Upgrader

	onConnect    func(ctx context.Context, s *Session) error
	onDisconnect func(ctx context.Context, s *Session, reason string)
}

func New(opts Options, gate Authenticator, hub *Hub, router *Router, log *zap.Logger) *Gateway {
	g := &Gateway{
		opts:   opts,
		gate:   gate,
		hub:    hub,
		router: router,
		log:    log.With(zap.String("module", "gateway")),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// OnConnect runs after a session is registered, before its pumps start.
func (g *Gateway) OnConnect(fn func(ctx context.Context, s *Session) error) {
	g.onConnect = fn
}

// OnDisconnect runs once per session after its socket closes.
func (g *Gateway) OnDisconnect(fn func(ctx context.Context, s *Session, reason string)) {
	g.onDisconnect = fn
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	g.log.Warn("rejected origin", zap.String("origin", origin))
	return false
}

// ServeHTTP is the websocket endpoint.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.opts.MaxConnections > 0 && g.hub.Count() >= g.opts.MaxConnections {
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	ident, err := g.gate.Authenticate(r)
	if err != nil {
		metrics.AuthFailures.Inc()
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	s := newSession(uuid.NewString(), ident, conn, g.log)
	g.hub.Add(s)
	s.log.Info("connection established")

	ctx := context.WithoutCancel(r.Context())
	if g.onConnect != nil {
		if err := g.onConnect(ctx, s); err != nil {
			s.log.Error("connect hook failed", zap.Error(err))
			g.hub.Remove(s)
			s.Close()
			return
		}
	}

	go g.writePump(s)
	go g.readPump(ctx, s)
}

func (g *Gateway) readPump(ctx context.Context, s *Session) {
	reason := "client disconnect"
	defer func() {
		s.Close()
		g.hub.Remove(s)
		if g.onDisconnect != nil {
			g.onDisconnect(ctx, s, reason)
		}
		s.log.Info("connection closed", zap.String("reason", reason))
	}()

	if g.opts.MaxPayloadSize > 0 {
		s.conn.SetReadLimit(g.opts.MaxPayloadSize)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(g.opts.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(g.opts.PongTimeout))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reason = "transport error"
				s.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		frame, err := DecodeFrame(raw)
		if err != nil || frame.Event == "" {
			s.Emit("error", map[string]interface{}{
				"code":    string(KindValidation),
				"message": "malformed frame",
			})
			continue
		}
		g.router.Dispatch(ctx, s, frame)
	}
}

func (g *Gateway) writePump(s *Session) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case raw, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
