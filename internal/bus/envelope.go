package bus

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Topics the gateway publishes to and consumes from.
const (
	TopicUserActions        = "user-actions"
	TopicPostEvents         = "post-events"
	TopicStoryEvents        = "story-events"
	TopicCommentEvents      = "comment-events"
	TopicLikeEvents         = "like-events"
	TopicNotificationEvents = "notification-events"
	TopicStudyGroupEvents   = "study-group-events"
	TopicChatEvents         = "chat-events"
	TopicVoiceCallEvents    = "voice-call-events"
	TopicFileEvents         = "file-events"
	TopicPresenceEvents     = "presence-events"
)

// ConsumeTopics are the topics every replica subscribes to for inbound
// fan-out from backend services.
var ConsumeTopics = []string{
	TopicPostEvents,
	TopicStoryEvents,
	TopicCommentEvents,
	TopicLikeEvents,
	TopicNotificationEvents,
	TopicStudyGroupEvents,
	TopicChatEvents,
	TopicVoiceCallEvents,
	TopicFileEvents,
	TopicPresenceEvents,
}

// Envelope is the wire shape of every bus message.
type Envelope struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEnvelope stamps an event for publication.
func NewEnvelope(eventType string, payload map[string]interface{}) Envelope {
	return Envelope{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}

// String fetches a string field from the payload, empty when absent.
func (e Envelope) String(key string) string {
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}
