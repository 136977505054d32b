package content

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, zap.NewNop()), mr
}

func TestPutGetDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	msg := map[string]interface{}{"id": "m1", "content": "hello"}
	require.NoError(t, s.Put(ctx, "message", "m1", msg, redisx.TTLMessage))

	var got map[string]interface{}
	found, err := s.Get(ctx, "message", "m1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", got["content"])

	removed, err := s.Delete(ctx, "message", "m1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete(ctx, "message", "m1")
	require.NoError(t, err)
	assert.False(t, removed, "second delete reports nothing to remove")

	found, err = s.Get(ctx, "message", "m1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestItemsExpire(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "message", "m1", map[string]string{"id": "m1"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	var got map[string]string
	found, err := s.Get(ctx, "message", "m1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoundedList(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.PushList(ctx, "room:1", id, 3, 0))
	}
	ids, err := s.ListIDs(ctx, "room:1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, ids, "oldest entry trimmed, newest first")

	require.NoError(t, s.RemoveFromList(ctx, "room:1", "c"))
	ids, err = s.ListIDs(ctx, "room:1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b"}, ids)
}

func TestLoadManySkipsExpired(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "post", "p1", map[string]string{"id": "p1"}, time.Hour))
	require.NoError(t, s.Put(ctx, "post", "p2", map[string]string{"id": "p2"}, time.Hour))

	raws, err := s.LoadMany(ctx, "post", []string{"p1", "gone", "p2"})
	require.NoError(t, err)
	assert.Len(t, raws, 2)
}

func TestToggleReaction(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "message", "m1",
		map[string]interface{}{"id": "m1", "content": "hi"}, time.Hour))

	added, item, found, err := s.ToggleReaction(ctx, "message", "m1", "👍", "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, added)
	reactions := item["reactions"].(map[string]interface{})
	assert.Equal(t, []string{"u1"}, toStrings(reactions["👍"]))

	// the same toggle again is its own inverse
	added, item, found, err = s.ToggleReaction(ctx, "message", "m1", "👍", "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, added)
	reactions = item["reactions"].(map[string]interface{})
	assert.NotContains(t, reactions, "👍", "empty reaction set dropped")

	_, _, found, err = s.ToggleReaction(ctx, "message", "missing", "👍", "u1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMarkReadMonotonic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "message", "m1",
		map[string]interface{}{"id": "m1", "readBy": []string{"a"}}, time.Hour))

	changed, item, found, err := s.MarkRead(ctx, "message", "m1", "b")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, changed)
	assert.Equal(t, []string{"a", "b"}, toStrings(item["readBy"]))

	changed, item, _, err = s.MarkRead(ctx, "message", "m1", "b")
	require.NoError(t, err)
	assert.False(t, changed, "receipt replay is a no-op")
	assert.Equal(t, []string{"a", "b"}, toStrings(item["readBy"]))
}

func TestUpdateKeepsTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "post", "p1",
		map[string]interface{}{"id": "p1", "content": "v1"}, time.Hour))

	_, found, err := s.Update(ctx, "post", "p1", func(it map[string]interface{}) {
		it["content"] = "v2"
		it["edited"] = true
	})
	require.NoError(t, err)
	require.True(t, found)

	ttl := mr.TTL("rtm:content:post:p1")
	assert.True(t, ttl > 0 && ttl <= time.Hour, "rewrite keeps the original expiry")
}

func TestLikeSets(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	added, err := s.AddToSet(ctx, "likes:post:p1", "u1", time.Hour)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddToSet(ctx, "likes:post:p1", "u1", time.Hour)
	require.NoError(t, err)
	assert.False(t, added, "double like is absorbed")

	has, err := s.SetHas(ctx, "likes:post:p1", "u1")
	require.NoError(t, err)
	assert.True(t, has)

	n, err := s.SetCount(ctx, "likes:post:p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	removed, err := s.RemoveFromSet(ctx, "likes:post:p1", "u1")
	require.NoError(t, err)
	assert.True(t, removed)

	n, err = s.SetCount(ctx, "likes:post:p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.IncrStat(ctx, "post", "p1", "shares", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrStat(ctx, "post", "p1", "shares", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	stats, err := s.Stats(ctx, "post", "p1")
	require.NoError(t, err)
	assert.Equal(t, "3", stats["shares"])
}

func TestMarkers(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMarker(ctx, "typing:room:u1", 10*time.Second))
	live, err := s.HasMarker(ctx, "typing:room:u1")
	require.NoError(t, err)
	assert.True(t, live)

	mr.FastForward(11 * time.Second)
	live, err = s.HasMarker(ctx, "typing:room:u1")
	require.NoError(t, err)
	assert.False(t, live, "marker expires on its own")

	require.NoError(t, s.SetMarker(ctx, "typing:room:u1", 10*time.Second))
	require.NoError(t, s.ClearMarker(ctx, "typing:room:u1"))
	live, err = s.HasMarker(ctx, "typing:room:u1")
	require.NoError(t, err)
	assert.False(t, live)
}
