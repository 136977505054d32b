// Package handlers implements the social event surface: each family wires
// its client events onto the router against the shared collaborators.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/auth"
	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/content"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/internal/ratelimit"
	"github.com/edumatrix/realtime-gateway/internal/room"
	"github.com/edumatrix/realtime-gateway/internal/session"
)

// Limiter is the slice of the rate limiter handlers need.
type Limiter interface {
	Allow(ctx context.Context, id auth.Identity, category string) ratelimit.Result
}

// Relay forwards frames to the other replicas after local delivery.
type Relay interface {
	Forward(ctx context.Context, scope, target, event string, payload map[string]interface{})
}

// Limits bundles the tunable content policies.
type Limits struct {
	EditWindow       time.Duration
	RoomHistoryLimit int64
	UserPostsLimit   int64
	FeedLimit        int64
	MaxFileSize      int64
}

// Deps is the constructed context every handler family receives; nothing
// here is reachable as package state.
type Deps struct {
	Log      *zap.Logger
	Features map[string]bool
	Hub      *gateway.Hub
	Registry *session.Registry
	Rooms    *room.Manager
	Limiter  Limiter
	Store    *content.Store
	Bus      bus.Publisher
	Relay    Relay
	Limits   Limits
	Clock    func() time.Time
}

// Register wires every handler family onto the router.
func (d *Deps) Register(r *gateway.Router) {
	d.registerRooms(r)
	d.registerChat(r)
	d.registerPosts(r)
	d.registerStories(r)
	d.registerComments(r)
	d.registerLikes(r)
	d.registerNotifications(r)
	d.registerFiles(r)
	d.registerPresence(r)
}

func (d *Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// newID mints a time-ordered id scoped to its author.
func (d *Deps) newID(prefix, authorID string) string {
	return fmt.Sprintf("%s_%d_%s_%s", prefix, d.now().UnixMilli(), authorID, uuid.NewString()[:8])
}

// throttle applies the actor's role quota plus an optional category window.
func (d *Deps) throttle(ctx context.Context, s *gateway.Session, category string) error {
	res := d.Limiter.Allow(ctx, s.Identity, category)
	if !res.Allowed {
		return gateway.RateLimited(res.Scope)
	}
	return nil
}

// requireMember enforces the membership guard for room-scoped actions.
func (d *Deps) requireMember(s *gateway.Session, roomID string) error {
	if !s.InRoom(roomID) {
		return gateway.NotInRoom(roomID)
	}
	return nil
}

// broadcastRoom delivers to local room members and mirrors the frame to the
// other replicas. exceptConnID may be empty to include the actor.
func (d *Deps) broadcastRoom(ctx context.Context, roomID, exceptConnID, event string, payload map[string]interface{}) {
	d.Hub.BroadcastRoomExcept(roomID, exceptConnID, event, payload)
	if d.Relay != nil {
		d.Relay.Forward(ctx, bus.ScopeRoom, roomID, event, payload)
	}
}

// broadcastAll delivers to every local connection and the other replicas.
func (d *Deps) broadcastAll(ctx context.Context, exceptConnID, event string, payload map[string]interface{}) {
	d.Hub.BroadcastAllExcept(exceptConnID, event, payload)
	if d.Relay != nil {
		d.Relay.Forward(ctx, bus.ScopeAll, "", event, payload)
	}
}

// sendToUser delivers to every connection the user holds, on any replica.
func (d *Deps) sendToUser(ctx context.Context, userID, event string, payload map[string]interface{}) {
	d.Hub.SendToUser(userID, event, payload)
	if d.Relay != nil {
		d.Relay.Forward(ctx, bus.ScopeUser, userID, event, payload)
	}
}

// publish hands an event to the bus off the critical path.
func (d *Deps) publish(topic, eventType string, payload map[string]interface{}) {
	if d.Bus != nil {
		d.Bus.Publish(topic, bus.NewEnvelope(eventType, payload))
	}
}

// canModerate reports whether the actor may act on someone else's content.
func canModerate(id auth.Identity) bool {
	return id.HasRole(auth.RoleModerator)
}

// str fetches a payload string field.
func str(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// requireStr fetches a payload string field or fails validation.
func requireStr(payload map[string]interface{}, key string) (string, error) {
	s := str(payload, key)
	if s == "" {
		return "", gateway.Validation("missing required field %q", key)
	}
	return s, nil
}

// boolean fetches a payload bool field.
func boolean(payload map[string]interface{}, key string) bool {
	b, _ := payload[key].(bool)
	return b
}

// number fetches a payload numeric field, falling back to def.
func number(payload map[string]interface{}, key string, def float64) float64 {
	if f, ok := payload[key].(float64); ok {
		return f
	}
	return def
}

// strings fetches a payload array of strings.
func strSlice(payload map[string]interface{}, key string) []string {
	arr, ok := payload[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// decodeItems parses raw JSON items from the store into payload objects.
func decodeItems(raws []string) []map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(raws))
	for _, raw := range raws {
		var item map[string]interface{}
		if err := json.UnmarshalFromString(raw, &item); err == nil {
			items = append(items, item)
		}
	}
	return items
}
