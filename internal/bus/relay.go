package bus

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/metrics"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

// Frame scopes.
const (
	ScopeRoom = "room"
	ScopeUser = "user"
	ScopeAll  = "all"
)

// Frame is one cross-replica broadcast. Origin lets replicas skip frames
// they published themselves, since those were already delivered locally.
type Frame struct {
	Origin  string                 `json:"origin"`
	Scope   string                 `json:"scope"`
	Target  string                 `json:"target,omitempty"`
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
}

// Relay mirrors broadcasts between replicas over Redis pub/sub. Every
// replica subscribes to one channel; each frame is delivered locally by
// every replica except its origin.
type Relay struct {
	rdb       *redis.Client
	channel   string
	replicaID string
	local     LocalBroadcaster
	log       *zap.Logger
}

func NewRelay(rdb *redis.Client, replicaID string, local LocalBroadcaster, log *zap.Logger) *Relay {
	keys := redisx.NewKeyBuilder(redisx.Namespace, redisx.ContextRelay)
	return &Relay{
		rdb:       rdb,
		channel:   keys.Build("events"),
		replicaID: replicaID,
		local:     local,
		log:       log.With(zap.String("module", "relay")),
	}
}

// Forward publishes a frame for the other replicas. Errors are logged and
// swallowed; local delivery has already happened.
func (r *Relay) Forward(ctx context.Context, scope, target, event string, payload map[string]interface{}) {
	raw, err := json.Marshal(Frame{
		Origin:  r.replicaID,
		Scope:   scope,
		Target:  target,
		Event:   event,
		Payload: payload,
	})
	if err != nil {
		r.log.Error("failed to encode relay frame", zap.String("event", event), zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.log.Warn("relay publish failed", zap.String("event", event), zap.Error(err))
		return
	}
	metrics.RelayFrames.WithLabelValues("out").Inc()
}

// Run subscribes and delivers inbound frames until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	r.log.Info("relay subscribed", zap.String("channel", r.channel))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver([]byte(msg.Payload))
		}
	}
}

func (r *Relay) deliver(raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		r.log.Warn("discarding malformed relay frame", zap.Error(err))
		return
	}
	if f.Origin == r.replicaID {
		return
	}
	metrics.RelayFrames.WithLabelValues("in").Inc()
	switch f.Scope {
	case ScopeRoom:
		r.local.BroadcastRoom(f.Target, f.Event, f.Payload)
	case ScopeUser:
		r.local.SendToUser(f.Target, f.Event, f.Payload)
	case ScopeAll:
		r.local.BroadcastAll(f.Event, f.Payload)
	default:
		r.log.Warn("unknown relay scope", zap.String("scope", f.Scope))
	}
}
