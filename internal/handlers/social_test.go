package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumatrix/realtime-gateway/internal/auth"
	"github.com/edumatrix/realtime-gateway/internal/bus"
)

func TestCommentLifecycle(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	bob := h.connect(t, "c2", auth.Identity{ID: "bob", Role: auth.RoleUser})
	postID := createPost(t, h, alice, "discuss")
	// watchers of the post thread join its room
	h.dispatch(alice, "room:join", map[string]interface{}{"roomId": "post:" + postID, "roomType": "post"})
	frames(t, alice)
	frames(t, bob)

	h.dispatch(bob, "comment:add", map[string]interface{}{"postId": postID, "content": "nice"})
	ack, ok := lastFrame(t, bob, "comment:added")
	require.True(t, ok)
	commentID := ack.Payload["commentId"].(string)

	var sawComment, sawNotif bool
	for _, f := range frames(t, alice) {
		switch f.Event {
		case "comment:new":
			sawComment = true
			assert.Equal(t, "nice", f.Payload["content"])
		case "notification:new":
			sawNotif = true
			assert.Equal(t, "post_commented", f.Payload["type"])
		}
	}
	assert.True(t, sawComment)
	assert.True(t, sawNotif, "post author notified")

	h.dispatch(bob, "comment:edit", map[string]interface{}{"commentId": commentID, "content": "very nice"})
	edited, ok := lastFrame(t, alice, "comment:updated")
	require.True(t, ok)
	assert.Equal(t, "very nice", edited.Payload["content"])

	h.dispatch(bob, "comment:like", map[string]interface{}{"commentId": commentID})
	liked, ok := lastFrame(t, alice, "comment:like_updated")
	require.True(t, ok)
	assert.Equal(t, float64(1), liked.Payload["likes"])

	h.dispatch(alice, "comment:get", map[string]interface{}{"postId": postID})
	list, ok := lastFrame(t, alice, "comment:list")
	require.True(t, ok)
	assert.Len(t, list.Payload["comments"].([]interface{}), 1)

	h.dispatch(bob, "comment:delete", map[string]interface{}{"commentId": commentID})
	deleted, ok := lastFrame(t, alice, "comment:deleted")
	require.True(t, ok)
	assert.Equal(t, commentID, deleted.Payload["commentId"])

	published := h.bus.published(bus.TopicCommentEvents)
	require.NotEmpty(t, published)
	last := published[len(published)-1]
	require.Equal(t, "comment.deleted", last.Type)
	assert.Equal(t, false, last.Payload["isAdmin"], "author removed their own comment")

	h.dispatch(alice, "comment:get", map[string]interface{}{"postId": postID})
	list, ok = lastFrame(t, alice, "comment:list")
	require.True(t, ok)
	assert.Empty(t, list.Payload["comments"])
}

func TestLikeToggleRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	postID := createPost(t, h, alice, "likeable")
	frames(t, alice)

	h.dispatch(alice, "like:toggle", map[string]interface{}{"targetId": postID, "targetType": "post"})
	update, ok := lastFrame(t, alice, "like:updated")
	require.True(t, ok)
	assert.Equal(t, true, update.Payload["liked"])
	assert.Equal(t, float64(1), update.Payload["count"])

	h.dispatch(alice, "like:check_status", map[string]interface{}{"targetId": postID, "targetType": "post"})
	status, ok := lastFrame(t, alice, "like:status")
	require.True(t, ok)
	assert.Equal(t, true, status.Payload["liked"])

	h.dispatch(alice, "like:get_user_likes", nil)
	likes, ok := lastFrame(t, alice, "like:user_likes")
	require.True(t, ok)
	assert.Equal(t, []interface{}{"post:" + postID}, likes.Payload["likes"])

	// toggling again restores the prior state
	h.dispatch(alice, "like:toggle", map[string]interface{}{"targetId": postID, "targetType": "post"})
	update, ok = lastFrame(t, alice, "like:updated")
	require.True(t, ok)
	assert.Equal(t, false, update.Payload["liked"])
	assert.Equal(t, float64(0), update.Payload["count"])

	h.dispatch(alice, "like:get_count", map[string]interface{}{"targetId": postID, "targetType": "post"})
	count, ok := lastFrame(t, alice, "like:count")
	require.True(t, ok)
	assert.Equal(t, float64(0), count.Payload["count"])
}

func TestLikeReactionsAndBulk(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	p1 := createPost(t, h, alice, "one")
	p2 := createPost(t, h, alice, "two")
	frames(t, alice)

	h.dispatch(alice, "like:react", map[string]interface{}{
		"targetId": p1, "targetType": "post", "emoji": "🔥",
	})
	_, ok := lastFrame(t, alice, "like:reaction_added")
	require.True(t, ok)

	h.dispatch(alice, "like:get_reactions", map[string]interface{}{"targetId": p1, "targetType": "post"})
	reactions, ok := lastFrame(t, alice, "like:reactions")
	require.True(t, ok)
	got := reactions.Payload["reactions"].(map[string]interface{})
	assert.Equal(t, []interface{}{"alice"}, got["🔥"])

	h.dispatch(alice, "like:remove_react", map[string]interface{}{
		"targetId": p1, "targetType": "post", "emoji": "🔥",
	})
	_, ok = lastFrame(t, alice, "like:reaction_removed")
	require.True(t, ok)

	// removing a reaction that is not there is NotFound
	h.dispatch(alice, "like:remove_react", map[string]interface{}{
		"targetId": p1, "targetType": "post", "emoji": "🔥",
	})
	errFrame, ok := lastFrame(t, alice, "error")
	require.True(t, ok)
	assert.Equal(t, "NOT_FOUND", errFrame.Payload["code"])

	h.dispatch(alice, "like:bulk_toggle", map[string]interface{}{
		"targets": []interface{}{
			map[string]interface{}{"targetId": p1, "targetType": "post"},
			map[string]interface{}{"targetId": p2, "targetType": "post"},
		},
	})
	bulk, ok := lastFrame(t, alice, "like:bulk_result")
	require.True(t, ok)
	assert.Len(t, bulk.Payload["results"].([]interface{}), 2)
}

func TestLikeRejectsUnknownTargetType(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	frames(t, alice)

	h.dispatch(alice, "like:toggle", map[string]interface{}{"targetId": "x", "targetType": "planet"})
	errFrame, ok := lastFrame(t, alice, "error")
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_FAILED", errFrame.Payload["code"])
}

func TestStoryLifecycle(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	bob := h.connect(t, "c2", auth.Identity{ID: "bob", Role: auth.RoleUser})
	frames(t, alice)
	frames(t, bob)

	h.dispatch(alice, "story:create", map[string]interface{}{"content": "day 1", "duration": float64(2)})
	ack, ok := lastFrame(t, alice, "story:created")
	require.True(t, ok)
	storyID := ack.Payload["storyId"].(string)
	_, ok = lastFrame(t, bob, "story:new")
	require.True(t, ok)

	h.dispatch(bob, "story:view", map[string]interface{}{"storyId": storyID})
	viewed, ok := lastFrame(t, alice, "story:viewed")
	require.True(t, ok, "author told about the first view")
	assert.Equal(t, "bob", viewed.Payload["viewerId"])

	// repeat views do not re-notify
	frames(t, alice)
	h.dispatch(bob, "story:view", map[string]interface{}{"storyId": storyID})
	_, ok = lastFrame(t, alice, "story:viewed")
	assert.False(t, ok)

	h.dispatch(bob, "story:react", map[string]interface{}{"storyId": storyID, "emoji": "❤️"})
	reaction, ok := lastFrame(t, alice, "story:reaction")
	require.True(t, ok)
	assert.Equal(t, true, reaction.Payload["added"])

	h.dispatch(bob, "story:comment", map[string]interface{}{"storyId": storyID, "content": "cool"})
	comment, ok := lastFrame(t, alice, "story:comment")
	require.True(t, ok)
	assert.Equal(t, "cool", comment.Payload["content"])

	h.dispatch(alice, "story:highlight", map[string]interface{}{"storyId": storyID})
	highlighted, ok := lastFrame(t, alice, "story:highlighted")
	require.True(t, ok)
	assert.Equal(t, true, highlighted.Payload["highlighted"])

	h.dispatch(alice, "stories:get_user", map[string]interface{}{"userId": "alice"})
	mine, ok := lastFrame(t, alice, "stories:user")
	require.True(t, ok)
	assert.Len(t, mine.Payload["stories"].([]interface{}), 1)

	h.dispatch(bob, "story:delete", map[string]interface{}{"storyId": storyID})
	errFrame, ok := lastFrame(t, bob, "error")
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", errFrame.Payload["code"])

	h.dispatch(alice, "story:delete", map[string]interface{}{"storyId": storyID})
	_, ok = lastFrame(t, bob, "story:deleted")
	assert.True(t, ok)

	published := h.bus.published(bus.TopicStoryEvents)
	require.NotEmpty(t, published)
	last := published[len(published)-1]
	require.Equal(t, "story.deleted", last.Type)
	assert.Equal(t, false, last.Payload["isAdmin"], "author removed their own story")
}

func TestStoryExpires(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	frames(t, alice)

	h.dispatch(alice, "story:create", map[string]interface{}{"content": "gone soon", "duration": float64(1)})
	ack, ok := lastFrame(t, alice, "story:created")
	require.True(t, ok)
	storyID := ack.Payload["storyId"].(string)

	h.mr.FastForward(2 * time.Hour)

	h.dispatch(alice, "story:view", map[string]interface{}{"storyId": storyID})
	errFrame, ok := lastFrame(t, alice, "error")
	require.True(t, ok)
	assert.Equal(t, "NOT_FOUND", errFrame.Payload["code"])
}

func TestNotificationFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	bob := h.connect(t, "c2", auth.Identity{ID: "bob", Role: auth.RoleUser})
	frames(t, alice)
	frames(t, bob)

	h.dispatch(alice, "notification:send", map[string]interface{}{
		"userId": "bob", "type": "friend_request", "title": "hi",
	})
	notif, ok := lastFrame(t, bob, "notification:new")
	require.True(t, ok)
	notifID := notif.Payload["id"].(string)
	assert.Equal(t, false, notif.Payload["read"])
	assert.Equal(t, "normal", notif.Payload["priority"])
	assert.Equal(t, "general", notif.Payload["category"])

	h.dispatch(alice, "notification:send", map[string]interface{}{
		"userId": "bob", "type": "exam_reminder", "title": "tomorrow",
		"priority": "urgent", "category": "educational",
	})
	urgent, ok := lastFrame(t, bob, "notification:new")
	require.True(t, ok)
	assert.Equal(t, "urgent", urgent.Payload["priority"])
	assert.Equal(t, "educational", urgent.Payload["category"])
	urgentID := urgent.Payload["id"].(string)
	h.dispatch(bob, "notification:delete", map[string]interface{}{"notificationId": urgentID})
	frames(t, bob)

	h.dispatch(bob, "notification:get_count", nil)
	count, ok := lastFrame(t, bob, "notification:count")
	require.True(t, ok)
	assert.Equal(t, float64(1), count.Payload["unread"])

	// only the recipient can mark it read
	h.dispatch(alice, "notification:mark_read", map[string]interface{}{"notificationId": notifID})
	errFrame, ok := lastFrame(t, alice, "error")
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", errFrame.Payload["code"])

	h.dispatch(bob, "notification:mark_read", map[string]interface{}{"notificationId": notifID})
	_, ok = lastFrame(t, bob, "notification:marked_read")
	require.True(t, ok)

	h.dispatch(bob, "notification:get_count", nil)
	count, ok = lastFrame(t, bob, "notification:count")
	require.True(t, ok)
	assert.Equal(t, float64(0), count.Payload["unread"])

	h.dispatch(bob, "notification:delete", map[string]interface{}{"notificationId": notifID})
	_, ok = lastFrame(t, bob, "notification:deleted")
	require.True(t, ok)

	h.dispatch(bob, "notification:get", nil)
	list, ok := lastFrame(t, bob, "notification:list")
	require.True(t, ok)
	assert.Empty(t, list.Payload["notifications"])
}

func TestNotificationPreferencesAndPush(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	frames(t, alice)

	h.dispatch(alice, "notification:update_preferences", map[string]interface{}{
		"preferences": map[string]interface{}{"email": false, "push": true},
	})
	prefs, ok := lastFrame(t, alice, "notification:preferences_updated")
	require.True(t, ok)
	assert.Equal(t, true, prefs.Payload["preferences"].(map[string]interface{})["push"])

	h.dispatch(alice, "notification:subscribe_push", map[string]interface{}{
		"subscription": map[string]interface{}{"endpoint": "https://push.example.com/x"},
	})
	_, ok = lastFrame(t, alice, "notification:push_subscribed")
	require.True(t, ok)

	h.dispatch(alice, "notification:unsubscribe_push", nil)
	_, ok = lastFrame(t, alice, "notification:push_unsubscribed")
	require.True(t, ok)
}

func TestFileLifecycle(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	bob := h.connect(t, "c2", auth.Identity{ID: "bob", Role: auth.RoleUser})
	frames(t, alice)
	frames(t, bob)

	h.dispatch(alice, "file:upload", map[string]interface{}{
		"fileName": "notes.pdf",
		"size":     float64(1024),
		"mimeType": "application/pdf",
		"checksum": "abc123",
	})
	uploaded, ok := lastFrame(t, alice, "file:uploaded")
	require.True(t, ok)
	fileID := uploaded.Payload["id"].(string)

	// not shared yet, bob may not read it
	h.dispatch(bob, "file:get_info", map[string]interface{}{"fileId": fileID})
	errFrame, ok := lastFrame(t, bob, "error")
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", errFrame.Payload["code"])

	h.dispatch(alice, "file:share", map[string]interface{}{
		"fileId": fileID, "userIds": []interface{}{"bob"},
	})
	shared, ok := lastFrame(t, bob, "file:shared")
	require.True(t, ok)
	assert.Equal(t, "notes.pdf", shared.Payload["fileName"])

	h.dispatch(bob, "file:download", map[string]interface{}{"fileId": fileID})
	ready, ok := lastFrame(t, bob, "file:download_ready")
	require.True(t, ok)
	assert.Equal(t, "abc123", ready.Payload["checksum"])
	assert.Equal(t, float64(1), ready.Payload["downloads"])

	h.dispatch(alice, "file:create_link", map[string]interface{}{"fileId": fileID})
	link, ok := lastFrame(t, alice, "file:link_created")
	require.True(t, ok)
	assert.NotEmpty(t, link.Payload["token"])

	h.dispatch(alice, "file:get_user_files", nil)
	list, ok := lastFrame(t, alice, "file:list")
	require.True(t, ok)
	assert.Len(t, list.Payload["files"].([]interface{}), 1)

	h.dispatch(alice, "file:delete", map[string]interface{}{"fileId": fileID})
	_, ok = lastFrame(t, alice, "file:deleted")
	require.True(t, ok)
}

func TestFileUploadValidation(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "c1", auth.Identity{ID: "alice", Role: auth.RoleUser})
	frames(t, alice)

	h.dispatch(alice, "file:upload", map[string]interface{}{
		"fileName": "huge.bin",
		"size":     float64(200 << 20),
	})
	errFrame, ok := lastFrame(t, alice, "error")
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_FAILED", errFrame.Payload["code"])

	h.deps.Features["fileSharing"] = false
	h.dispatch(alice, "file:upload", map[string]interface{}{
		"fileName": "notes.pdf", "size": float64(10),
	})
	errFrame, ok = lastFrame(t, alice, "error")
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", errFrame.Payload["code"])
}
