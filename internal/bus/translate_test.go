package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type broadcastCall struct {
	scope   string
	target  string
	event   string
	payload interface{}
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) record(c broadcastCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeBroadcaster) snapshot() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastCall(nil), f.calls...)
}

func (f *fakeBroadcaster) BroadcastRoom(roomID, event string, payload interface{}) {
	f.record(broadcastCall{"room", roomID, event, payload})
}

func (f *fakeBroadcaster) BroadcastAll(event string, payload interface{}) {
	f.record(broadcastCall{"all", "", event, payload})
}

func (f *fakeBroadcaster) SendToUser(userID, event string, payload interface{}) {
	f.record(broadcastCall{"user", userID, event, payload})
}

func TestTranslatorRouting(t *testing.T) {
	tests := []struct {
		topic      string
		payload    map[string]interface{}
		wantScope  string
		wantTarget string
		wantEvent  string
	}{
		{TopicPostEvents, map[string]interface{}{"postId": "p1"}, "all", "", "post:update"},
		{TopicStoryEvents, map[string]interface{}{"storyId": "s1"}, "all", "", "story:update"},
		{TopicCommentEvents, map[string]interface{}{"postId": "p1"}, "room", "post:p1", "comment:new"},
		{TopicLikeEvents, map[string]interface{}{"postId": "p1"}, "room", "post:p1", "like:update"},
		{TopicNotificationEvents, map[string]interface{}{"userId": "u1"}, "user", "u1", "notification:new"},
		{TopicStudyGroupEvents, map[string]interface{}{"groupId": "g1"}, "room", "study-group:g1", "group:update"},
		{TopicChatEvents, map[string]interface{}{"roomId": "r1"}, "room", "chat:r1", "message:new"},
		{TopicVoiceCallEvents, map[string]interface{}{"callId": "c1"}, "room", "call:c1", "call:update"},
		{TopicFileEvents, map[string]interface{}{"userId": "u1"}, "user", "u1", "file:update"},
		{TopicPresenceEvents, map[string]interface{}{"userId": "u1"}, "room", "presence:u1", "presence:status_updated"},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			fb := &fakeBroadcaster{}
			tr := NewTranslator(fb, zap.NewNop())
			tr.Handle(tt.topic, NewEnvelope("x", tt.payload))

			require.Len(t, fb.calls, 1)
			assert.Equal(t, tt.wantScope, fb.calls[0].scope)
			assert.Equal(t, tt.wantTarget, fb.calls[0].target)
			assert.Equal(t, tt.wantEvent, fb.calls[0].event)
		})
	}
}

func TestTranslatorDropsNotificationWithoutUser(t *testing.T) {
	fb := &fakeBroadcaster{}
	tr := NewTranslator(fb, zap.NewNop())
	tr.Handle(TopicNotificationEvents, NewEnvelope("x", map[string]interface{}{}))
	assert.Empty(t, fb.calls)
}

func TestTranslatorIgnoresUnknownTopic(t *testing.T) {
	fb := &fakeBroadcaster{}
	tr := NewTranslator(fb, zap.NewNop())
	tr.Handle("mystery-topic", NewEnvelope("x", nil))
	assert.Empty(t, fb.calls)
}

func TestTranslatorTracksCalls(t *testing.T) {
	fb := &fakeBroadcaster{}
	tr := NewTranslator(fb, zap.NewNop())

	tr.Handle(TopicVoiceCallEvents, NewEnvelope("call.started",
		map[string]interface{}{"callId": "c1", "status": "started"}))
	tr.Handle(TopicVoiceCallEvents, NewEnvelope("call.started",
		map[string]interface{}{"callId": "c2", "status": "started"}))
	assert.Len(t, tr.ActiveCalls(), 2)

	tr.Handle(TopicVoiceCallEvents, NewEnvelope("call.ended",
		map[string]interface{}{"callId": "c1", "status": "ended"}))
	calls := tr.ActiveCalls()
	assert.Len(t, calls, 1)
	assert.Contains(t, calls, "c2")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewEnvelope("message.created", map[string]interface{}{"roomId": "r1"})
	raw, err := env.Marshal()
	require.NoError(t, err)

	got, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.Type, got.Type)
	assert.Equal(t, "r1", got.String("roomId"))
	assert.Equal(t, "", got.String("missing"))
}
