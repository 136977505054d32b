package handlers

import (
	"context"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

const (
	familyNotification = "notification"
	familyNotifPrefs   = "notification_prefs"
	familyPushSub      = "push_subscription"

	notificationsCap = 100
)

func userNotificationsList(userID string) string { return "notifications:" + userID }

func (d *Deps) registerNotifications(r *gateway.Router) {
	r.Handle("notification:send", d.notificationSend)
	r.Handle("notification:mark_read", d.notificationMarkRead)
	r.Handle("notification:mark_all_read", d.notificationMarkAllRead)
	r.Handle("notification:get", d.notificationGet)
	r.Handle("notification:get_count", d.notificationGetCount)
	r.Handle("notification:update_preferences", d.notificationUpdatePreferences)
	r.Handle("notification:delete", d.notificationDelete)
	r.Handle("notification:subscribe_push", d.notificationSubscribePush)
	r.Handle("notification:unsubscribe_push", d.notificationUnsubscribePush)
}

func (d *Deps) notificationSend(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	recipient, err := requireStr(payload, "userId")
	if err != nil {
		return err
	}
	kind, err := requireStr(payload, "type")
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}

	notification := map[string]interface{}{
		"id":        d.newID("notif", s.Identity.ID),
		"userId":    recipient,
		"senderId":  s.Identity.ID,
		"type":      kind,
		"title":     str(payload, "title"),
		"body":      str(payload, "body"),
		"data":      payload["data"],
		"priority":  strOr(payload, "priority", "normal"),
		"category":  strOr(payload, "category", "general"),
		"read":      false,
		"createdAt": d.now().UTC(),
	}
	id := notification["id"].(string)
	if err := d.Store.Put(ctx, familyNotification, id, notification, redisx.TTLPost); err != nil {
		return err
	}
	if err := d.Store.PushList(ctx, userNotificationsList(recipient), id, notificationsCap, redisx.TTLPost); err != nil {
		return err
	}

	d.sendToUser(ctx, recipient, "notification:new", notification)
	s.Emit("notification:sent", map[string]interface{}{"notificationId": id})
	d.publish(bus.TopicNotificationEvents, "notification.created", notification)
	return nil
}

func (d *Deps) notificationMarkRead(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	id, err := requireStr(payload, "notificationId")
	if err != nil {
		return err
	}
	var notification map[string]interface{}
	found, err := d.Store.Get(ctx, familyNotification, id, &notification)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("notification")
	}
	if str(notification, "userId") != s.Identity.ID {
		return gateway.Forbidden("not your notification")
	}
	if _, _, err := d.Store.Update(ctx, familyNotification, id, func(it map[string]interface{}) {
		it["read"] = true
	}); err != nil {
		return err
	}
	s.Emit("notification:marked_read", map[string]interface{}{"notificationId": id})
	return nil
}

func (d *Deps) notificationMarkAllRead(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	ids, err := d.Store.ListIDs(ctx, userNotificationsList(s.Identity.ID), notificationsCap)
	if err != nil {
		return err
	}
	marked := 0
	for _, id := range ids {
		_, found, err := d.Store.Update(ctx, familyNotification, id, func(it map[string]interface{}) {
			it["read"] = true
		})
		if err != nil {
			return err
		}
		if found {
			marked++
		}
	}
	s.Emit("notification:all_marked_read", map[string]interface{}{"count": marked})
	return nil
}

func (d *Deps) notificationGet(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	limit := int64(number(payload, "limit", notificationsCap))
	if limit <= 0 || limit > notificationsCap {
		limit = notificationsCap
	}
	ids, err := d.Store.ListIDs(ctx, userNotificationsList(s.Identity.ID), limit)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyNotification, ids)
	if err != nil {
		return err
	}
	items := decodeItems(raws)
	if boolean(payload, "unreadOnly") {
		unread := items[:0]
		for _, n := range items {
			if !boolean(n, "read") {
				unread = append(unread, n)
			}
		}
		items = unread
	}
	s.Emit("notification:list", map[string]interface{}{"notifications": items})
	return nil
}

func (d *Deps) notificationGetCount(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	ids, err := d.Store.ListIDs(ctx, userNotificationsList(s.Identity.ID), notificationsCap)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyNotification, ids)
	if err != nil {
		return err
	}
	unread := 0
	for _, n := range decodeItems(raws) {
		if !boolean(n, "read") {
			unread++
		}
	}
	s.Emit("notification:count", map[string]interface{}{
		"total":  len(raws),
		"unread": unread,
	})
	return nil
}

func (d *Deps) notificationUpdatePreferences(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	prefs, ok := payload["preferences"].(map[string]interface{})
	if !ok {
		return gateway.Validation("missing required field %q", "preferences")
	}
	if err := d.Store.Put(ctx, familyNotifPrefs, s.Identity.ID, prefs, 0); err != nil {
		return err
	}
	s.Emit("notification:preferences_updated", map[string]interface{}{"preferences": prefs})
	return nil
}

func (d *Deps) notificationDelete(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	id, err := requireStr(payload, "notificationId")
	if err != nil {
		return err
	}
	var notification map[string]interface{}
	found, err := d.Store.Get(ctx, familyNotification, id, &notification)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("notification")
	}
	if str(notification, "userId") != s.Identity.ID {
		return gateway.Forbidden("not your notification")
	}
	if _, err := d.Store.Delete(ctx, familyNotification, id); err != nil {
		return err
	}
	if err := d.Store.RemoveFromList(ctx, userNotificationsList(s.Identity.ID), id); err != nil {
		return err
	}
	s.Emit("notification:deleted", map[string]interface{}{"notificationId": id})
	return nil
}

func (d *Deps) notificationSubscribePush(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	sub, ok := payload["subscription"].(map[string]interface{})
	if !ok {
		return gateway.Validation("missing required field %q", "subscription")
	}
	if err := d.Store.Put(ctx, familyPushSub, s.Identity.ID, sub, 0); err != nil {
		return err
	}
	s.Emit("notification:push_subscribed", map[string]interface{}{"userId": s.Identity.ID})
	d.publish(bus.TopicNotificationEvents, "push.subscribed", map[string]interface{}{
		"userId": s.Identity.ID,
	})
	return nil
}

func (d *Deps) notificationUnsubscribePush(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	if _, err := d.Store.Delete(ctx, familyPushSub, s.Identity.ID); err != nil {
		return err
	}
	s.Emit("notification:push_unsubscribed", map[string]interface{}{"userId": s.Identity.ID})
	d.publish(bus.TopicNotificationEvents, "push.unsubscribed", map[string]interface{}{
		"userId": s.Identity.ID,
	})
	return nil
}
