// Package session tracks per-user connection counts and shared presence
// state so every replica agrees on who is online.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Presence statuses. Anything not stored reads back as offline.
const (
	StatusOnline    = "online"
	StatusAway      = "away"
	StatusBusy      = "busy"
	StatusStudying  = "studying"
	StatusInvisible = "invisible"
	StatusOffline   = "offline"
)

// StudyMode is the focused-study sub-state carried inside a presence record.
type StudyMode struct {
	Enabled   bool       `json:"enabled"`
	Subject   string     `json:"subject,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Presence is the shared view of a user's availability.
type Presence struct {
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	StatusMessage string    `json:"statusMessage,omitempty"`
	StudyMode     StudyMode `json:"studyMode"`
	LastSeen      time.Time `json:"lastSeen"`
	ReplicaID     string    `json:"replicaId,omitempty"`
}

// SessionInfo mirrors an open connection into the shared cache so other
// services can see which replica owns a user.
type SessionInfo struct {
	ConnID      string    `json:"connId"`
	UserID      string    `json:"userId"`
	ReplicaID   string    `json:"replicaId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Registry maintains presence in Redis and a local per-user connection count
// so a user with several tabs only flips offline when the last one closes.
type Registry struct {
	rdb       redis.Cmdable
	keys      *redisx.KeyBuilder
	sessions  *redisx.KeyBuilder
	replicaID string
	log       *zap.Logger
	clock     func() time.Time

	mu     sync.Mutex
	counts map[string]int
}

func NewRegistry(rdb redis.Cmdable, replicaID string, log *zap.Logger) *Registry {
	return &Registry{
		rdb:       rdb,
		keys:      redisx.NewKeyBuilder(redisx.Namespace, redisx.ContextPresence),
		sessions:  redisx.NewKeyBuilder(redisx.Namespace, redisx.ContextSession),
		replicaID: replicaID,
		log:       log.With(zap.String("module", "session")),
		clock:     time.Now,
		counts:    make(map[string]int),
	}
}

// Register records a new connection for userID and mirrors it to the shared
// cache. Returns true when this is the user's first open connection here.
func (r *Registry) Register(ctx context.Context, connID, userID string) (bool, error) {
	r.mu.Lock()
	r.counts[userID]++
	first := r.counts[userID] == 1
	r.mu.Unlock()

	info := SessionInfo{
		ConnID:      connID,
		UserID:      userID,
		ReplicaID:   r.replicaID,
		ConnectedAt: r.clock(),
	}
	if err := r.setJSON(ctx, r.sessions.Build("conn", connID), info, redisx.TTLSession); err != nil {
		return first, fmt.Errorf("mirror session: %w", err)
	}

	if err := r.write(ctx, Presence{
		UserID:    userID,
		Status:    StatusOnline,
		LastSeen:  r.clock(),
		ReplicaID: r.replicaID,
	}); err != nil {
		return first, err
	}
	return first, nil
}

// Deregister drops a connection. Returns true when it was the user's last
// connection on this replica, in which case shared presence is cleared.
func (r *Registry) Deregister(ctx context.Context, connID, userID string) (bool, error) {
	r.mu.Lock()
	r.counts[userID]--
	last := r.counts[userID] <= 0
	if last {
		delete(r.counts, userID)
	}
	r.mu.Unlock()

	if err := r.rdb.Del(ctx, r.sessions.Build("conn", connID)).Err(); err != nil {
		r.log.Warn("failed to drop session mirror", zap.String("conn_id", connID), zap.Error(err))
	}
	if !last {
		return false, nil
	}
	if err := r.rdb.Del(ctx, r.keys.Build("user", userID)).Err(); err != nil {
		return true, fmt.Errorf("clear presence: %w", err)
	}
	return true, nil
}

// Heartbeat refreshes LastSeen and the presence TTL without changing status.
func (r *Registry) Heartbeat(ctx context.Context, userID string) error {
	p, err := r.GetPresence(ctx, userID)
	if err != nil {
		return err
	}
	if p.Status == StatusOffline {
		p.Status = StatusOnline
	}
	p.LastSeen = r.clock()
	p.ReplicaID = r.replicaID
	return r.write(ctx, p)
}

// SetStatus updates a user's availability, with an optional free-text
// message. Setting offline removes the key so readers fall back to the
// default.
func (r *Registry) SetStatus(ctx context.Context, userID, status, message string) (Presence, error) {
	switch status {
	case StatusOnline, StatusAway, StatusBusy, StatusStudying, StatusInvisible, StatusOffline:
	default:
		return Presence{}, fmt.Errorf("unknown presence status %q", status)
	}
	if status == StatusOffline {
		if err := r.rdb.Del(ctx, r.keys.Build("user", userID)).Err(); err != nil {
			return Presence{}, err
		}
		return Presence{UserID: userID, Status: StatusOffline, LastSeen: r.clock()}, nil
	}
	p, err := r.GetPresence(ctx, userID)
	if err != nil {
		return Presence{}, err
	}
	p.UserID = userID
	p.Status = status
	p.StatusMessage = message
	p.LastSeen = r.clock()
	p.ReplicaID = r.replicaID
	if err := r.write(ctx, p); err != nil {
		return Presence{}, err
	}
	return p, nil
}

// SetStudyMode records the study-mode sub-state. Enabling flips the status
// to studying; disabling returns it to online.
func (r *Registry) SetStudyMode(ctx context.Context, userID string, mode StudyMode) (Presence, error) {
	p, err := r.GetPresence(ctx, userID)
	if err != nil {
		return Presence{}, err
	}
	if mode.Enabled {
		if mode.StartTime == nil {
			now := r.clock()
			mode.StartTime = &now
		}
		p.Status = StatusStudying
	} else {
		mode = StudyMode{}
		p.Status = StatusOnline
	}
	p.UserID = userID
	p.StudyMode = mode
	p.LastSeen = r.clock()
	p.ReplicaID = r.replicaID
	if err := r.write(ctx, p); err != nil {
		return Presence{}, err
	}
	return p, nil
}

// GetPresence reads a user's shared presence. A missing or expired key reads
// back as offline rather than an error.
func (r *Registry) GetPresence(ctx context.Context, userID string) (Presence, error) {
	raw, err := r.rdb.Get(ctx, r.keys.Build("user", userID)).Result()
	if err == redis.Nil {
		return Presence{UserID: userID, Status: StatusOffline}, nil
	}
	if err != nil {
		return Presence{}, fmt.Errorf("read presence: %w", err)
	}
	var p Presence
	if err := json.UnmarshalFromString(raw, &p); err != nil {
		return Presence{}, fmt.Errorf("decode presence: %w", err)
	}
	return p, nil
}

// GetMany reads presence for multiple users in one round trip.
func (r *Registry) GetMany(ctx context.Context, userIDs []string) ([]Presence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = r.keys.Build("user", id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence batch: %w", err)
	}
	out := make([]Presence, 0, len(userIDs))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			out = append(out, Presence{UserID: userIDs[i], Status: StatusOffline})
			continue
		}
		var p Presence
		if err := json.UnmarshalFromString(s, &p); err != nil {
			out = append(out, Presence{UserID: userIDs[i], Status: StatusOffline})
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// LocalUsers returns the users with at least one open connection here.
func (r *Registry) LocalUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.counts))
	for u := range r.counts {
		users = append(users, u)
	}
	return users
}

// Count returns the number of distinct local users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counts)
}

func (r *Registry) write(ctx context.Context, p Presence) error {
	return r.setJSON(ctx, r.keys.Build("user", p.UserID), p, redisx.TTLPresence)
}

func (r *Registry) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.MarshalToString(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.rdb.Set(ctx, key, raw, ttl).Err()
}
