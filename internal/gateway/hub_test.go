package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/auth"
)

func drainFrames(t *testing.T, s *Session) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw := <-s.Outbox():
			f, err := DecodeFrame(raw)
			require.NoError(t, err)
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHubRoomBroadcast(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewInertSession("c1", auth.Identity{ID: "ua"})
	b := NewInertSession("c2", auth.Identity{ID: "ub"})
	c := NewInertSession("c3", auth.Identity{ID: "uc"})
	h.Add(a)
	h.Add(b)
	h.Add(c)
	h.JoinRoom(a, "chat:1")
	h.JoinRoom(b, "chat:1")

	h.BroadcastRoom("chat:1", "chat:new_message", map[string]interface{}{"id": "m1"})

	aFrames := drainFrames(t, a)
	require.Len(t, aFrames, 1)
	assert.Equal(t, "chat:new_message", aFrames[0].Event)
	assert.Equal(t, "m1", aFrames[0].Payload["id"])
	assert.Len(t, drainFrames(t, b), 1)
	assert.Empty(t, drainFrames(t, c), "non-member gets nothing")
}

func TestHubBroadcastRoomExcept(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewInertSession("c1", auth.Identity{ID: "ua"})
	b := NewInertSession("c2", auth.Identity{ID: "ub"})
	h.Add(a)
	h.Add(b)
	h.JoinRoom(a, "chat:1")
	h.JoinRoom(b, "chat:1")

	h.BroadcastRoomExcept("chat:1", "c1", "typing:start", nil)

	assert.Empty(t, drainFrames(t, a), "actor excluded")
	assert.Len(t, drainFrames(t, b), 1)
}

func TestHubSendToUserHitsEveryTab(t *testing.T) {
	h := NewHub(zap.NewNop())
	tab1 := NewInertSession("c1", auth.Identity{ID: "ua"})
	tab2 := NewInertSession("c2", auth.Identity{ID: "ua"})
	other := NewInertSession("c3", auth.Identity{ID: "ub"})
	h.Add(tab1)
	h.Add(tab2)
	h.Add(other)

	h.SendToUser("ua", "notification:new", map[string]interface{}{"id": "n1"})

	assert.Len(t, drainFrames(t, tab1), 1)
	assert.Len(t, drainFrames(t, tab2), 1)
	assert.Empty(t, drainFrames(t, other))
}

func TestHubRemoveCleansIndexes(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewInertSession("c1", auth.Identity{ID: "ua"})
	h.Add(a)
	h.JoinRoom(a, "chat:1")
	require.Equal(t, 1, h.RoomCount())
	require.True(t, h.UserOnline("ua"))

	h.Remove(a)
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 0, h.RoomCount(), "empty room index dropped")
	assert.False(t, h.UserOnline("ua"))

	h.BroadcastAll("user:online", nil)
	assert.Empty(t, drainFrames(t, a))
}

func TestHubLeaveRoom(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewInertSession("c1", auth.Identity{ID: "ua"})
	h.Add(a)
	h.JoinRoom(a, "chat:1")
	assert.True(t, a.InRoom("chat:1"))

	h.LeaveRoom(a, "chat:1")
	assert.False(t, a.InRoom("chat:1"))

	h.BroadcastRoom("chat:1", "x", nil)
	assert.Empty(t, drainFrames(t, a))
}

func TestHubUserInRoomSpansTabs(t *testing.T) {
	h := NewHub(zap.NewNop())
	tab1 := NewInertSession("c1", auth.Identity{ID: "ua"})
	tab2 := NewInertSession("c2", auth.Identity{ID: "ua"})
	h.Add(tab1)
	h.Add(tab2)
	h.JoinRoom(tab1, "chat:1")
	h.JoinRoom(tab2, "chat:1")

	require.True(t, h.UserInRoom("ua", "chat:1"))
	assert.False(t, h.UserInRoom("ub", "chat:1"))

	h.LeaveRoom(tab1, "chat:1")
	assert.True(t, h.UserInRoom("ua", "chat:1"), "second tab still joined")

	h.Remove(tab2)
	assert.False(t, h.UserInRoom("ua", "chat:1"))
}

func TestHubOccupancyAndUsers(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := NewInertSession("c1", auth.Identity{ID: "ua"})
	b := NewInertSession("c2", auth.Identity{ID: "ub"})
	h.Add(a)
	h.Add(b)
	h.JoinRoom(a, "chat:1")
	h.JoinRoom(b, "chat:1")
	h.JoinRoom(b, "chat:2")

	assert.Equal(t, map[string]int{"chat:1": 2, "chat:2": 1}, h.RoomOccupancy())
	assert.ElementsMatch(t, []string{"ua", "ub"}, h.ConnectedUserIDs())
}

func TestSessionDropsWhenBufferFull(t *testing.T) {
	s := NewInertSession("c1", auth.Identity{ID: "ua"})
	for i := 0; i < sendBuffer+10; i++ {
		s.Emit("tick", nil)
	}
	assert.Len(t, drainFrames(t, s), sendBuffer, "overflow frames dropped, none block")
}
