// Package room tracks logical broadcast scopes and their membership in the
// shared cache so any replica can answer occupancy questions.
package room

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

// Room kinds. Post and story threads share the content-thread kind.
const (
	KindChat          = "chat"
	KindStudyGroup    = "study-group"
	KindCourse        = "course"
	KindVoiceCall     = "voice-call"
	KindGeneral       = "general"
	KindContentThread = "content-thread"
)

// kindAliases maps client-supplied room types onto canonical kinds.
var kindAliases = map[string]string{
	"chat":           KindChat,
	"study-group":    KindStudyGroup,
	"study_group":    KindStudyGroup,
	"course":         KindCourse,
	"voice-call":     KindVoiceCall,
	"voice_call":     KindVoiceCall,
	"general":        KindGeneral,
	"content-thread": KindContentThread,
	"post":           KindContentThread,
	"story":          KindContentThread,
}

// Info is the shared view of a room.
type Info struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	MemberCount  int       `json:"memberCount"`
	Exists       bool      `json:"exists"`
}

// Manager stores room metadata as Redis hashes and membership as sorted sets
// scored by join time, so member lists keep their display order.
type Manager struct {
	rdb   redis.Cmdable
	keys  *redisx.KeyBuilder
	log   *zap.Logger
	clock func() time.Time
}

func NewManager(rdb redis.Cmdable, log *zap.Logger) *Manager {
	return &Manager{
		rdb:   rdb,
		keys:  redisx.NewKeyBuilder(redisx.Namespace, redisx.ContextRoom),
		log:   log.With(zap.String("module", "room")),
		clock: time.Now,
	}
}

// Canonical resolves a client-supplied room type to its canonical kind.
func Canonical(kind string) (string, error) {
	if kind == "" {
		return KindGeneral, nil
	}
	if canon, ok := kindAliases[kind]; ok {
		return canon, nil
	}
	return "", fmt.Errorf("unknown room type %q", kind)
}

// Join adds userID to roomID, creating the room lazily. Joining a room the
// user is already in refreshes activity and is otherwise a no-op.
func (m *Manager) Join(ctx context.Context, roomID, kind, userID string) (Info, error) {
	canon, err := Canonical(kind)
	if err != nil {
		return Info{}, err
	}
	now := m.clock()
	metaKey := m.keys.Build("meta", roomID)
	memberKey := m.keys.Build("members", roomID)

	created, err := m.rdb.HSetNX(ctx, metaKey, "createdAt", now.UnixMilli()).Result()
	if err != nil {
		return Info{}, fmt.Errorf("create room %s: %w", roomID, err)
	}
	if created {
		if err := m.rdb.HSet(ctx, metaKey, "kind", canon).Err(); err != nil {
			return Info{}, fmt.Errorf("set room kind: %w", err)
		}
		m.log.Info("room created", zap.String("room_id", roomID), zap.String("kind", canon))
	}

	if err := m.rdb.ZAddNX(ctx, memberKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: userID,
	}).Err(); err != nil {
		return Info{}, fmt.Errorf("join room %s: %w", roomID, err)
	}
	if err := m.Touch(ctx, roomID); err != nil {
		return Info{}, err
	}
	return m.Get(ctx, roomID)
}

// Leave removes userID from roomID. The room record is dropped once the last
// member leaves; it will be recreated on the next join.
func (m *Manager) Leave(ctx context.Context, roomID, userID string) error {
	memberKey := m.keys.Build("members", roomID)
	if err := m.rdb.ZRem(ctx, memberKey, userID).Err(); err != nil {
		return fmt.Errorf("leave room %s: %w", roomID, err)
	}
	remaining, err := m.rdb.ZCard(ctx, memberKey).Result()
	if err != nil {
		return fmt.Errorf("count room %s: %w", roomID, err)
	}
	if remaining == 0 {
		if err := m.rdb.Del(ctx, memberKey, m.keys.Build("meta", roomID)).Err(); err != nil {
			return fmt.Errorf("delete empty room %s: %w", roomID, err)
		}
		m.log.Info("room removed", zap.String("room_id", roomID))
	}
	return nil
}

// Get reads a room's metadata and occupancy. Rooms with members but missing
// metadata are synthesized as general rooms rather than failing; Exists
// distinguishes a real room from a synthesized unknown one.
func (m *Manager) Get(ctx context.Context, roomID string) (Info, error) {
	meta, err := m.rdb.HGetAll(ctx, m.keys.Build("meta", roomID)).Result()
	if err != nil {
		return Info{}, fmt.Errorf("read room %s: %w", roomID, err)
	}
	count, err := m.rdb.ZCard(ctx, m.keys.Build("members", roomID)).Result()
	if err != nil {
		return Info{}, fmt.Errorf("count room %s: %w", roomID, err)
	}
	info := Info{
		ID:          roomID,
		Kind:        KindGeneral,
		MemberCount: int(count),
		Exists:      len(meta) > 0 || count > 0,
	}
	if k, ok := meta["kind"]; ok {
		info.Kind = k
	}
	if ms, ok := meta["createdAt"]; ok {
		info.CreatedAt = parseMillis(ms)
	}
	if ms, ok := meta["lastActivity"]; ok {
		info.LastActivity = parseMillis(ms)
	}
	return info, nil
}

// Members returns the room's user ids in join order.
func (m *Manager) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := m.rdb.ZRange(ctx, m.keys.Build("members", roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list room %s: %w", roomID, err)
	}
	return members, nil
}

// IsMember reports whether userID currently belongs to roomID.
func (m *Manager) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	_, err := m.rdb.ZScore(ctx, m.keys.Build("members", roomID), userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership %s: %w", roomID, err)
	}
	return true, nil
}

// Count returns the room's current occupancy.
func (m *Manager) Count(ctx context.Context, roomID string) (int, error) {
	n, err := m.rdb.ZCard(ctx, m.keys.Build("members", roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count room %s: %w", roomID, err)
	}
	return int(n), nil
}

// Touch bumps the room's last-activity timestamp.
func (m *Manager) Touch(ctx context.Context, roomID string) error {
	return m.rdb.HSet(ctx, m.keys.Build("meta", roomID),
		"lastActivity", m.clock().UnixMilli()).Err()
}

// Snapshot lists every known room, for the stats endpoint.
func (m *Manager) Snapshot(ctx context.Context) ([]Info, error) {
	pattern := m.keys.BuildPattern("meta", "*")
	prefix := m.keys.Build("meta", "")
	var out []Info
	var cursor uint64
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan rooms: %w", err)
		}
		for _, key := range keys {
			info, err := m.Get(ctx, key[len(prefix):])
			if err != nil {
				return nil, err
			}
			out = append(out, info)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
