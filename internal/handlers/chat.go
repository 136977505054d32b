package handlers

import (
	"context"
	"time"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

const familyMessage = "message"

// chatRoom builds the broadcast scope for a chat room id.
func chatRoom(roomID string) string { return "chat:" + roomID }

// chatHistory names the bounded per-room message list.
func chatHistory(roomID string) string { return "room:chat:" + roomID }

func (d *Deps) registerChat(r *gateway.Router) {
	r.Handle("chat:send_message", d.chatSendMessage)
	r.Handle("chat:edit_message", d.chatEditMessage)
	r.Handle("chat:delete_message", d.chatDeleteMessage)
	r.Handle("chat:get_messages", d.chatGetMessages)
	r.Handle("chat:mark_read", d.chatMarkRead)
	r.Handle("chat:react", d.chatReact)
	r.Handle("chat:typing", d.chatTyping)
	r.Handle("chat:get_typing", d.chatGetTyping)
}

func (d *Deps) chatSendMessage(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	roomID, err := requireStr(payload, "roomId")
	if err != nil {
		return err
	}
	body, err := requireStr(payload, "content")
	if err != nil {
		return err
	}
	full := chatRoom(roomID)
	if err := d.requireMember(s, full); err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}

	msg := map[string]interface{}{
		"id":         d.newID("msg", s.Identity.ID),
		"roomId":     roomID,
		"senderId":   s.Identity.ID,
		"senderName": s.Identity.Name,
		"content":    body,
		"type":       strOr(payload, "type", "text"),
		"replyTo":    str(payload, "replyTo"),
		"timestamp":  d.now().UTC(),
		"reactions":  map[string]interface{}{},
		"readBy":     []string{s.Identity.ID},
		"edited":     false,
	}
	id := msg["id"].(string)
	if err := d.Store.Put(ctx, familyMessage, id, msg, redisx.TTLMessage); err != nil {
		return err
	}
	if err := d.Store.PushList(ctx, chatHistory(roomID), id, d.Limits.RoomHistoryLimit, redisx.TTLMessage); err != nil {
		return err
	}

	d.broadcastRoom(ctx, full, "", "chat:new_message", msg)
	s.Emit("chat:message_sent", map[string]interface{}{"messageId": id, "roomId": roomID})

	for _, mentioned := range strSlice(payload, "mentions") {
		d.sendToUser(ctx, mentioned, "chat:mentioned", map[string]interface{}{
			"messageId": id,
			"roomId":    roomID,
			"senderId":  s.Identity.ID,
		})
	}
	d.publish(bus.TopicChatEvents, "message.created", msg)
	return nil
}

func (d *Deps) chatEditMessage(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	msgID, err := requireStr(payload, "messageId")
	if err != nil {
		return err
	}
	body, err := requireStr(payload, "content")
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}

	var msg map[string]interface{}
	found, err := d.Store.Get(ctx, familyMessage, msgID, &msg)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("message")
	}
	if err := d.requireMember(s, chatRoom(str(msg, "roomId"))); err != nil {
		return err
	}
	if str(msg, "senderId") != s.Identity.ID {
		return gateway.Forbidden("only the sender can edit a message")
	}
	if age, ok := itemAge(msg, "timestamp", d.now()); ok && age > d.Limits.EditWindow {
		return gateway.TooOld("edit window has closed")
	}

	updated, found, err := d.Store.Update(ctx, familyMessage, msgID, func(it map[string]interface{}) {
		it["content"] = body
		it["edited"] = true
		it["editedAt"] = d.now().UTC()
	})
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("message")
	}

	d.broadcastRoom(ctx, chatRoom(str(msg, "roomId")), "", "chat:message_edited", updated)
	s.Emit("chat:edit_success", map[string]interface{}{"messageId": msgID})
	d.publish(bus.TopicChatEvents, "message.edited", updated)
	return nil
}

func (d *Deps) chatDeleteMessage(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	msgID, err := requireStr(payload, "messageId")
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}

	var msg map[string]interface{}
	found, err := d.Store.Get(ctx, familyMessage, msgID, &msg)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("message")
	}
	roomID := str(msg, "roomId")
	if err := d.requireMember(s, chatRoom(roomID)); err != nil {
		return err
	}
	if str(msg, "senderId") != s.Identity.ID && !canModerate(s.Identity) {
		return gateway.Forbidden("only the sender or a moderator can delete a message")
	}
	isAdmin := str(msg, "senderId") != s.Identity.ID && canModerate(s.Identity)

	if _, err := d.Store.Delete(ctx, familyMessage, msgID); err != nil {
		return err
	}
	if err := d.Store.RemoveFromList(ctx, chatHistory(roomID), msgID); err != nil {
		return err
	}

	d.broadcastRoom(ctx, chatRoom(roomID), "", "chat:message_deleted", map[string]interface{}{
		"messageId": msgID,
		"roomId":    roomID,
		"deletedBy": s.Identity.ID,
	})
	s.Emit("chat:delete_success", map[string]interface{}{"messageId": msgID})
	d.publish(bus.TopicChatEvents, "message.deleted", map[string]interface{}{
		"messageId": msgID, "roomId": roomID, "isAdmin": isAdmin,
	})
	return nil
}

func (d *Deps) chatGetMessages(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	roomID, err := requireStr(payload, "roomId")
	if err != nil {
		return err
	}
	if err := d.requireMember(s, chatRoom(roomID)); err != nil {
		return err
	}
	limit := int64(number(payload, "limit", 50))
	if limit <= 0 || limit > d.Limits.RoomHistoryLimit {
		limit = 50
	}
	ids, err := d.Store.ListIDs(ctx, chatHistory(roomID), limit)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyMessage, ids)
	if err != nil {
		return err
	}
	s.Emit("chat:messages", map[string]interface{}{
		"roomId":   roomID,
		"messages": decodeItems(raws),
	})
	return nil
}

func (d *Deps) chatMarkRead(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	msgID, err := requireStr(payload, "messageId")
	if err != nil {
		return err
	}
	var existing map[string]interface{}
	found, err := d.Store.Get(ctx, familyMessage, msgID, &existing)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("message")
	}
	if err := d.requireMember(s, chatRoom(str(existing, "roomId"))); err != nil {
		return err
	}
	changed, msg, found, err := d.Store.MarkRead(ctx, familyMessage, msgID, s.Identity.ID)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("message")
	}
	if changed {
		d.broadcastRoom(ctx, chatRoom(str(msg, "roomId")), s.ID, "chat:messages_read", map[string]interface{}{
			"messageId": msgID,
			"userId":    s.Identity.ID,
			"readBy":    msg["readBy"],
		})
	}
	s.Emit("chat:mark_read_success", map[string]interface{}{"messageId": msgID})
	return nil
}

func (d *Deps) chatReact(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	msgID, err := requireStr(payload, "messageId")
	if err != nil {
		return err
	}
	emoji, err := requireStr(payload, "emoji")
	if err != nil {
		return err
	}
	var existing map[string]interface{}
	found, err := d.Store.Get(ctx, familyMessage, msgID, &existing)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("message")
	}
	if err := d.requireMember(s, chatRoom(str(existing, "roomId"))); err != nil {
		return err
	}
	added, msg, found, err := d.Store.ToggleReaction(ctx, familyMessage, msgID, emoji, s.Identity.ID)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("message")
	}
	d.broadcastRoom(ctx, chatRoom(str(msg, "roomId")), "", "chat:message_reaction", map[string]interface{}{
		"messageId": msgID,
		"emoji":     emoji,
		"userId":    s.Identity.ID,
		"added":     added,
		"reactions": msg["reactions"],
	})
	return nil
}

func (d *Deps) chatTyping(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	roomID, err := requireStr(payload, "roomId")
	if err != nil {
		return err
	}
	full := chatRoom(roomID)
	if err := d.requireMember(s, full); err != nil {
		return err
	}
	typing := boolean(payload, "isTyping")
	marker := "typing:" + roomID + ":" + s.Identity.ID
	if typing {
		if err := d.Store.SetMarker(ctx, marker, redisx.TTLTyping); err != nil {
			return err
		}
	} else {
		if err := d.Store.ClearMarker(ctx, marker); err != nil {
			return err
		}
	}
	d.broadcastRoom(ctx, full, s.ID, "chat:user_typing", map[string]interface{}{
		"roomId":   roomID,
		"userId":   s.Identity.ID,
		"name":     s.Identity.Name,
		"isTyping": typing,
	})
	return nil
}

func (d *Deps) chatGetTyping(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	roomID, err := requireStr(payload, "roomId")
	if err != nil {
		return err
	}
	full := chatRoom(roomID)
	if err := d.requireMember(s, full); err != nil {
		return err
	}
	members, err := d.Rooms.Members(ctx, full)
	if err != nil {
		return err
	}
	var typing []string
	for _, userID := range members {
		live, err := d.Store.HasMarker(ctx, "typing:"+roomID+":"+userID)
		if err != nil {
			return err
		}
		if live {
			typing = append(typing, userID)
		}
	}
	s.Emit("chat:typing_users", map[string]interface{}{
		"roomId": roomID,
		"users":  typing,
	})
	return nil
}

func strOr(payload map[string]interface{}, key, def string) string {
	if s := str(payload, key); s != "" {
		return s
	}
	return def
}

// itemAge computes how long ago an item's timestamp field was written.
func itemAge(item map[string]interface{}, field string, now time.Time) (time.Duration, bool) {
	ts := str(item, field)
	if ts == "" {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0, false
	}
	return now.Sub(t), true
}
