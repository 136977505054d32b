package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRegistry(rdb, "replica-a", zap.NewNop()), mr
}

func TestRegisterAndDeregister(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.Register(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = reg.Register(ctx, "c2", "u1")
	require.NoError(t, err)
	assert.False(t, first, "second tab is not a first connection")

	p, err := reg.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, p.Status)
	assert.Equal(t, "replica-a", p.ReplicaID)

	last, err := reg.Deregister(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.False(t, last)

	last, err = reg.Deregister(ctx, "c2", "u1")
	require.NoError(t, err)
	assert.True(t, last)

	p, err = reg.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, p.Status, "presence cleared after last disconnect")
}

func TestGetPresenceMissing(t *testing.T) {
	reg, _ := newTestRegistry(t)

	p, err := reg.GetPresence(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, Presence{UserID: "ghost", Status: StatusOffline}, p)
}

func TestSetStatus(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, "c1", "u1")
	require.NoError(t, err)

	p, err := reg.SetStatus(ctx, "u1", StatusBusy, "in a call")
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, p.Status)
	assert.Equal(t, "in a call", p.StatusMessage)

	got, err := reg.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, got.Status)
	assert.Equal(t, "in a call", got.StatusMessage)

	p, err = reg.SetStatus(ctx, "u1", StatusInvisible, "")
	require.NoError(t, err)
	assert.Equal(t, StatusInvisible, p.Status)
	assert.Empty(t, p.StatusMessage)

	_, err = reg.SetStatus(ctx, "u1", "lurking", "")
	assert.Error(t, err)

	p, err = reg.SetStatus(ctx, "u1", StatusOffline, "")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, p.Status)

	got, err = reg.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, got.Status)
}

func TestSetStudyMode(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, "c1", "u1")
	require.NoError(t, err)

	end := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	p, err := reg.SetStudyMode(ctx, "u1", StudyMode{Enabled: true, Subject: "math", EndTime: &end})
	require.NoError(t, err)
	assert.True(t, p.StudyMode.Enabled)
	assert.Equal(t, "math", p.StudyMode.Subject)
	require.NotNil(t, p.StudyMode.StartTime)
	require.NotNil(t, p.StudyMode.EndTime)
	assert.Equal(t, end, *p.StudyMode.EndTime)
	assert.Equal(t, StatusStudying, p.Status, "enabling flips status to studying")

	got, err := reg.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusStudying, got.Status)
	assert.Equal(t, "math", got.StudyMode.Subject)

	p, err = reg.SetStudyMode(ctx, "u1", StudyMode{Enabled: false})
	require.NoError(t, err)
	assert.False(t, p.StudyMode.Enabled)
	assert.Empty(t, p.StudyMode.Subject)
	assert.Equal(t, StatusOnline, p.Status, "disabling returns status to online")
}

func TestPresenceExpires(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, "c1", "u1")
	require.NoError(t, err)

	mr.FastForward(6 * time.Minute)

	p, err := reg.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, p.Status, "stale presence reads as offline")

	require.NoError(t, reg.Heartbeat(ctx, "u1"))
	p, err = reg.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, p.Status, "heartbeat revives presence")
}

func TestGetMany(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, "c1", "u1")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "c2", "u2")
	require.NoError(t, err)

	got, err := reg.GetMany(ctx, []string{"u1", "ghost", "u2"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, StatusOnline, got[0].Status)
	assert.Equal(t, StatusOffline, got[1].Status)
	assert.Equal(t, StatusOnline, got[2].Status)
}

func TestLocalUsersAndCount(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, _ = reg.Register(ctx, "c1", "u1")
	_, _ = reg.Register(ctx, "c2", "u1")
	_, _ = reg.Register(ctx, "c3", "u2")

	assert.Equal(t, 2, reg.Count())
	assert.ElementsMatch(t, []string{"u1", "u2"}, reg.LocalUsers())
}
