package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/metrics"
)

// LocalBroadcaster is the slice of the connection hub the bus bridge needs
// to re-emit backend events to sockets on this replica.
type LocalBroadcaster interface {
	BroadcastRoom(roomID, event string, payload interface{})
	BroadcastAll(event string, payload interface{})
	SendToUser(userID, event string, payload interface{})
}

// Translator turns consumed bus messages into local socket broadcasts. It
// also tracks in-flight voice calls for the stats endpoint.
type Translator struct {
	local LocalBroadcaster
	log   *zap.Logger

	mu    sync.Mutex
	calls map[string]Envelope
}

func NewTranslator(local LocalBroadcaster, log *zap.Logger) *Translator {
	return &Translator{
		local: local,
		log:   log.With(zap.String("module", "bus")),
		calls: make(map[string]Envelope),
	}
}

// Handle routes one consumed message to the sockets that care about it.
func (t *Translator) Handle(topic string, env Envelope) {
	switch topic {
	case TopicPostEvents:
		t.local.BroadcastAll("post:update", env.Payload)
	case TopicStoryEvents:
		t.local.BroadcastAll("story:update", env.Payload)
	case TopicCommentEvents:
		t.local.BroadcastRoom("post:"+env.String("postId"), "comment:new", env.Payload)
	case TopicLikeEvents:
		t.local.BroadcastRoom("post:"+env.String("postId"), "like:update", env.Payload)
	case TopicNotificationEvents:
		if userID := env.String("userId"); userID != "" {
			t.local.SendToUser(userID, "notification:new", env.Payload)
		}
	case TopicStudyGroupEvents:
		t.local.BroadcastRoom("study-group:"+env.String("groupId"), "group:update", env.Payload)
	case TopicChatEvents:
		t.local.BroadcastRoom("chat:"+env.String("roomId"), "message:new", env.Payload)
	case TopicVoiceCallEvents:
		t.trackCall(env)
		t.local.BroadcastRoom("call:"+env.String("callId"), "call:update", env.Payload)
	case TopicFileEvents:
		if userID := env.String("userId"); userID != "" {
			t.local.SendToUser(userID, "file:update", env.Payload)
		}
	case TopicPresenceEvents:
		t.local.BroadcastRoom("presence:"+env.String("userId"), "presence:status_updated", env.Payload)
	default:
		t.log.Warn("unknown bus topic", zap.String("topic", topic))
	}
}

func (t *Translator) trackCall(env Envelope) {
	callID := env.String("callId")
	if callID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if env.String("status") == "ended" {
		delete(t.calls, callID)
	} else {
		t.calls[callID] = env
	}
	metrics.ActiveCalls.Set(float64(len(t.calls)))
}

// ActiveCalls snapshots the tracked call sessions.
func (t *Translator) ActiveCalls() map[string]Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Envelope, len(t.calls))
	for id, env := range t.calls {
		out[id] = env
	}
	return out
}
