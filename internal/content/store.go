// Package content persists ephemeral social objects (messages, posts,
// stories, comments, notifications, file records) in the shared cache.
//
// Objects are stored one key per item with a family TTL. Ordering is kept in
// bounded id lists (per room, per author), so dropping an item from a list
// never rewrites its neighbours.
package content

import (
	"context"
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Store struct {
	rdb  redis.Cmdable
	keys *redisx.KeyBuilder
	log  *zap.Logger
}

func NewStore(rdb redis.Cmdable, log *zap.Logger) *Store {
	return &Store{
		rdb:  rdb,
		keys: redisx.NewKeyBuilder(redisx.Namespace, redisx.ContextContent),
		log:  log.With(zap.String("module", "content")),
	}
}

// Put stores an item under its family and id with the given TTL.
func (s *Store) Put(ctx context.Context, family, id string, v interface{}, ttl time.Duration) error {
	raw, err := json.MarshalToString(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", family, id, err)
	}
	return s.rdb.Set(ctx, s.keys.Build(family, id), raw, ttl).Err()
}

// Get loads an item into v. Returns false when the item is absent or expired.
func (s *Store) Get(ctx context.Context, family, id string, v interface{}) (bool, error) {
	raw, err := s.rdb.Get(ctx, s.keys.Build(family, id)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s/%s: %w", family, id, err)
	}
	if err := json.UnmarshalFromString(raw, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", family, id, err)
	}
	return true, nil
}

// Delete removes an item. Returns false when there was nothing to remove.
func (s *Store) Delete(ctx context.Context, family, id string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.keys.Build(family, id)).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", family, id, err)
	}
	return n > 0, nil
}

// PushList prepends an item id to a bounded list, trimming to max entries.
func (s *Store) PushList(ctx context.Context, list, id string, max int64, ttl time.Duration) error {
	key := s.keys.Build("list", list)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, id)
	pipe.LTrim(ctx, key, 0, max-1)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push list %s: %w", list, err)
	}
	return nil
}

// RemoveFromList drops all occurrences of an item id from a list.
func (s *Store) RemoveFromList(ctx context.Context, list, id string) error {
	if err := s.rdb.LRem(ctx, s.keys.Build("list", list), 0, id).Err(); err != nil {
		return fmt.Errorf("trim list %s: %w", list, err)
	}
	return nil
}

// ListIDs returns up to count item ids from the head of a list, newest first.
func (s *Store) ListIDs(ctx context.Context, list string, count int64) ([]string, error) {
	ids, err := s.rdb.LRange(ctx, s.keys.Build("list", list), 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read list %s: %w", list, err)
	}
	return ids, nil
}

// LoadMany fetches the raw JSON of several items in one round trip, skipping
// ids whose items have since expired.
func (s *Store) LoadMany(ctx context.Context, family string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.Build(family, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s batch: %w", family, err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if raw, ok := v.(string); ok {
			out = append(out, raw)
		}
	}
	return out, nil
}

// mutate rewrites an item in place, keeping its remaining TTL.
func (s *Store) mutate(ctx context.Context, family, id string, fn func(item map[string]interface{})) (map[string]interface{}, bool, error) {
	item := map[string]interface{}{}
	found, err := s.Get(ctx, family, id, &item)
	if err != nil || !found {
		return nil, found, err
	}
	fn(item)
	raw, err := json.MarshalToString(item)
	if err != nil {
		return nil, true, fmt.Errorf("encode %s/%s: %w", family, id, err)
	}
	if err := s.rdb.Set(ctx, s.keys.Build(family, id), raw, redis.KeepTTL).Err(); err != nil {
		return nil, true, fmt.Errorf("rewrite %s/%s: %w", family, id, err)
	}
	return item, true, nil
}

// Update applies fn to the item's fields and rewrites it with its original
// TTL intact. Returns the updated item, or found=false when it is gone.
func (s *Store) Update(ctx context.Context, family, id string, fn func(item map[string]interface{})) (map[string]interface{}, bool, error) {
	return s.mutate(ctx, family, id, fn)
}

// ToggleReaction adds the user under the emoji's reaction set, or removes
// them when already present. Empty reaction sets are dropped from the item.
func (s *Store) ToggleReaction(ctx context.Context, family, id, emoji, userID string) (added bool, item map[string]interface{}, found bool, err error) {
	item, found, err = s.mutate(ctx, family, id, func(it map[string]interface{}) {
		reactions, _ := it["reactions"].(map[string]interface{})
		if reactions == nil {
			reactions = map[string]interface{}{}
		}
		users := toStrings(reactions[emoji])
		if idx := indexOf(users, userID); idx >= 0 {
			users = append(users[:idx], users[idx+1:]...)
			added = false
		} else {
			users = append(users, userID)
			added = true
		}
		if len(users) == 0 {
			delete(reactions, emoji)
		} else {
			reactions[emoji] = users
		}
		it["reactions"] = reactions
	})
	return added, item, found, err
}

// MarkRead appends the user to the item's read-by set if absent. The union
// is monotonic, so replaying the same receipt is harmless.
func (s *Store) MarkRead(ctx context.Context, family, id, userID string) (changed bool, item map[string]interface{}, found bool, err error) {
	item, found, err = s.mutate(ctx, family, id, func(it map[string]interface{}) {
		readBy := toStrings(it["readBy"])
		if indexOf(readBy, userID) >= 0 {
			return
		}
		readBy = append(readBy, userID)
		sort.Strings(readBy)
		it["readBy"] = readBy
		changed = true
	})
	return changed, item, found, err
}

// AddToSet records membership, for like and share tracking.
// Returns true when the member was not already present.
func (s *Store) AddToSet(ctx context.Context, set, member string, ttl time.Duration) (bool, error) {
	key := s.keys.Build("set", set)
	n, err := s.rdb.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("add to set %s: %w", set, err)
	}
	if ttl > 0 {
		_ = s.rdb.Expire(ctx, key, ttl).Err()
	}
	return n > 0, nil
}

// RemoveFromSet drops a member. Returns true when it was present.
func (s *Store) RemoveFromSet(ctx context.Context, set, member string) (bool, error) {
	n, err := s.rdb.SRem(ctx, s.keys.Build("set", set), member).Result()
	if err != nil {
		return false, fmt.Errorf("remove from set %s: %w", set, err)
	}
	return n > 0, nil
}

// SetHas reports whether member belongs to the set.
func (s *Store) SetHas(ctx context.Context, set, member string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.keys.Build("set", set), member).Result()
	if err != nil {
		return false, fmt.Errorf("check set %s: %w", set, err)
	}
	return ok, nil
}

// SetCount returns the set's cardinality.
func (s *Store) SetCount(ctx context.Context, set string) (int64, error) {
	n, err := s.rdb.SCard(ctx, s.keys.Build("set", set)).Result()
	if err != nil {
		return 0, fmt.Errorf("count set %s: %w", set, err)
	}
	return n, nil
}

// SetMembers lists the set's members.
func (s *Store) SetMembers(ctx context.Context, set string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.keys.Build("set", set)).Result()
	if err != nil {
		return nil, fmt.Errorf("list set %s: %w", set, err)
	}
	return members, nil
}

// IncrStat bumps a counter field on an item's stats hash.
func (s *Store) IncrStat(ctx context.Context, family, id, field string, delta int64) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, s.keys.Build("stats", family, id), field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("bump stat %s/%s.%s: %w", family, id, field, err)
	}
	return n, nil
}

// Stats reads an item's stats hash.
func (s *Store) Stats(ctx context.Context, family, id string) (map[string]string, error) {
	stats, err := s.rdb.HGetAll(ctx, s.keys.Build("stats", family, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read stats %s/%s: %w", family, id, err)
	}
	return stats, nil
}

// SetMarker plants a short-lived flag key, for typing and activity signals.
func (s *Store) SetMarker(ctx context.Context, marker string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.keys.Build("marker", marker), "1", ttl).Err()
}

// ClearMarker removes a flag key before it expires.
func (s *Store) ClearMarker(ctx context.Context, marker string) error {
	return s.rdb.Del(ctx, s.keys.Build("marker", marker)).Err()
}

// HasMarker reports whether the flag is still live.
func (s *Store) HasMarker(ctx context.Context, marker string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.keys.Build("marker", marker)).Result()
	if err != nil {
		return false, fmt.Errorf("check marker %s: %w", marker, err)
	}
	return n > 0, nil
}

func toStrings(v interface{}) []string {
	arr, ok := v.([]interface{})
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

func indexOf(ss []string, want string) int {
	for i, s := range ss {
		if s == want {
			return i
		}
	}
	return -1
}
