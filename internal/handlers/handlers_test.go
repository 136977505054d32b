package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/auth"
	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/content"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/internal/ratelimit"
	"github.com/edumatrix/realtime-gateway/internal/room"
	"github.com/edumatrix/realtime-gateway/internal/session"
)

// allowAllLimiter admits everything; limiter behavior has its own tests.
type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, auth.Identity, string) ratelimit.Result {
	return ratelimit.Result{Allowed: true}
}

// denyLimiter rejects everything, for rate-limit paths.
type denyLimiter struct{}

func (denyLimiter) Allow(_ context.Context, id auth.Identity, _ string) ratelimit.Result {
	return ratelimit.Result{Allowed: false, Scope: "user:" + id.ID}
}

// recordingBus captures published envelopes.
type recordingBus struct {
	mu     sync.Mutex
	events []struct {
		Topic string
		Env   bus.Envelope
	}
}

func (b *recordingBus) Publish(topic string, env bus.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, struct {
		Topic string
		Env   bus.Envelope
	}{topic, env})
}

func (b *recordingBus) published(topic string) []bus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bus.Envelope
	for _, e := range b.events {
		if e.Topic == topic {
			out = append(out, e.Env)
		}
	}
	return out
}

type harness struct {
	deps   *Deps
	router *gateway.Router
	bus    *recordingBus
	mr     *miniredis.Miniredis
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zap.NewNop()
	rb := &recordingBus{}
	h := &harness{bus: rb, mr: mr, now: time.Now()}
	h.deps = &Deps{
		Log:      log,
		Features: map[string]bool{"fileSharing": true, "voiceCalls": true},
		Hub:      gateway.NewHub(log),
		Registry: session.NewRegistry(rdb, "replica-test", log),
		Rooms:    room.NewManager(rdb, log),
		Limiter:  allowAllLimiter{},
		Store:    content.NewStore(rdb, log),
		Bus:      rb,
		Limits: Limits{
			EditWindow:       30 * time.Minute,
			RoomHistoryLimit: 1000,
			UserPostsLimit:   100,
			FeedLimit:        1000,
			MaxFileSize:      100 << 20,
		},
		Clock: func() time.Time { return h.now },
	}
	h.router = gateway.NewRouter(log)
	h.deps.Register(h.router)
	return h
}

// connect brings a session through the full connect path.
func (h *harness) connect(t *testing.T, connID string, ident auth.Identity) *gateway.Session {
	t.Helper()
	s := gateway.NewInertSession(connID, ident)
	h.deps.Hub.Add(s)
	require.NoError(t, h.deps.HandleConnect(context.Background(), s))
	return s
}

// dispatch feeds one event through the router, as the read pump would.
func (h *harness) dispatch(s *gateway.Session, event string, payload map[string]interface{}) {
	h.router.Dispatch(context.Background(), s, gateway.Frame{Event: event, Payload: payload})
}

// frames drains and decodes everything queued for the session.
func frames(t *testing.T, s *gateway.Session) []gateway.Frame {
	t.Helper()
	var out []gateway.Frame
	for {
		select {
		case raw := <-s.Outbox():
			f, err := gateway.DecodeFrame(raw)
			require.NoError(t, err)
			out = append(out, f)
		default:
			return out
		}
	}
}

// lastFrame drains the outbox and returns the newest frame with the event.
func lastFrame(t *testing.T, s *gateway.Session, event string) (gateway.Frame, bool) {
	t.Helper()
	var found gateway.Frame
	ok := false
	for _, f := range frames(t, s) {
		if f.Event == event {
			found = f
			ok = true
		}
	}
	return found, ok
}

// joinChat joins a session into a chat room through the room handler.
func (h *harness) joinChat(t *testing.T, s *gateway.Session, roomID string) {
	t.Helper()
	h.dispatch(s, "room:join", map[string]interface{}{
		"roomId":   "chat:" + roomID,
		"roomType": "chat",
	})
	_, ok := lastFrame(t, s, "room:joined")
	require.True(t, ok, "room join must succeed")
}
