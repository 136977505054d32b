package handlers

import (
	"context"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

// Likeable target types.
var likeTargets = map[string]bool{
	"post":    true,
	"comment": true,
	"story":   true,
	"message": true,
}

func likeSet(targetType, targetID string) string {
	return "likes:" + targetType + ":" + targetID
}

func userLikesSet(userID string) string { return "user_likes:" + userID }

func reactionSet(targetType, targetID, emoji string) string {
	return "reactions:" + targetType + ":" + targetID + ":" + emoji
}

func reactionEmojiSet(targetType, targetID string) string {
	return "reaction_emojis:" + targetType + ":" + targetID
}

func (d *Deps) registerLikes(r *gateway.Router) {
	r.Handle("like:toggle", d.likeToggle)
	r.Handle("like:get_count", d.likeGetCount)
	r.Handle("like:get_users", d.likeGetUsers)
	r.Handle("like:check_status", d.likeCheckStatus)
	r.Handle("like:bulk_toggle", d.likeBulkToggle)
	r.Handle("like:react", d.likeReact)
	r.Handle("like:remove_react", d.likeRemoveReact)
	r.Handle("like:get_reactions", d.likeGetReactions)
	r.Handle("like:get_user_likes", d.likeGetUserLikes)
}

func likeTarget(payload map[string]interface{}) (targetType, targetID string, err error) {
	targetID, err = requireStr(payload, "targetId")
	if err != nil {
		return "", "", err
	}
	targetType = strOr(payload, "targetType", "post")
	if !likeTargets[targetType] {
		return "", "", gateway.Validation("unknown target type %q", targetType)
	}
	return targetType, targetID, nil
}

// toggleLike flips the like state and returns the resulting state and count.
func (d *Deps) toggleLike(ctx context.Context, userID, targetType, targetID string) (liked bool, count int64, err error) {
	liked, err = d.Store.AddToSet(ctx, likeSet(targetType, targetID), userID, redisx.TTLPost)
	if err != nil {
		return false, 0, err
	}
	ref := targetType + ":" + targetID
	if liked {
		_, err = d.Store.AddToSet(ctx, userLikesSet(userID), ref, redisx.TTLPost)
	} else {
		if _, err = d.Store.RemoveFromSet(ctx, likeSet(targetType, targetID), userID); err == nil {
			_, err = d.Store.RemoveFromSet(ctx, userLikesSet(userID), ref)
		}
	}
	if err != nil {
		return liked, 0, err
	}
	count, err = d.Store.SetCount(ctx, likeSet(targetType, targetID))
	return liked, count, err
}

func (d *Deps) likeToggle(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	targetType, targetID, err := likeTarget(payload)
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}
	liked, count, err := d.toggleLike(ctx, s.Identity.ID, targetType, targetID)
	if err != nil {
		return err
	}

	update := map[string]interface{}{
		"targetId":   targetID,
		"targetType": targetType,
		"userId":     s.Identity.ID,
		"liked":      liked,
		"count":      count,
	}
	s.Emit("like:updated", update)
	if targetType == "post" {
		d.broadcastRoom(ctx, postRoom(targetID), s.ID, "like:updated", update)
	}
	d.publish(bus.TopicLikeEvents, "like.toggled", update)
	return nil
}

func (d *Deps) likeGetCount(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	targetType, targetID, err := likeTarget(payload)
	if err != nil {
		return err
	}
	count, err := d.Store.SetCount(ctx, likeSet(targetType, targetID))
	if err != nil {
		return err
	}
	s.Emit("like:count", map[string]interface{}{
		"targetId":   targetID,
		"targetType": targetType,
		"count":      count,
	})
	return nil
}

func (d *Deps) likeGetUsers(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	targetType, targetID, err := likeTarget(payload)
	if err != nil {
		return err
	}
	users, err := d.Store.SetMembers(ctx, likeSet(targetType, targetID))
	if err != nil {
		return err
	}
	s.Emit("like:users", map[string]interface{}{
		"targetId":   targetID,
		"targetType": targetType,
		"users":      users,
	})
	return nil
}

func (d *Deps) likeCheckStatus(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	targetType, targetID, err := likeTarget(payload)
	if err != nil {
		return err
	}
	liked, err := d.Store.SetHas(ctx, likeSet(targetType, targetID), s.Identity.ID)
	if err != nil {
		return err
	}
	s.Emit("like:status", map[string]interface{}{
		"targetId":   targetID,
		"targetType": targetType,
		"liked":      liked,
	})
	return nil
}

func (d *Deps) likeBulkToggle(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	targets, ok := payload["targets"].([]interface{})
	if !ok || len(targets) == 0 {
		return gateway.Validation("missing required field %q", "targets")
	}
	if len(targets) > 50 {
		return gateway.Validation("too many targets in one request")
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}

	results := make([]map[string]interface{}, 0, len(targets))
	for _, raw := range targets {
		target, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		targetType, targetID, err := likeTarget(target)
		if err != nil {
			continue
		}
		liked, count, err := d.toggleLike(ctx, s.Identity.ID, targetType, targetID)
		if err != nil {
			return err
		}
		results = append(results, map[string]interface{}{
			"targetId":   targetID,
			"targetType": targetType,
			"liked":      liked,
			"count":      count,
		})
	}
	s.Emit("like:bulk_result", map[string]interface{}{"results": results})
	return nil
}

func (d *Deps) likeReact(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	targetType, targetID, err := likeTarget(payload)
	if err != nil {
		return err
	}
	emoji, err := requireStr(payload, "emoji")
	if err != nil {
		return err
	}
	if _, err := d.Store.AddToSet(ctx, reactionSet(targetType, targetID, emoji), s.Identity.ID, redisx.TTLPost); err != nil {
		return err
	}
	if _, err := d.Store.AddToSet(ctx, reactionEmojiSet(targetType, targetID), emoji, redisx.TTLPost); err != nil {
		return err
	}
	added := map[string]interface{}{
		"targetId":   targetID,
		"targetType": targetType,
		"emoji":      emoji,
		"userId":     s.Identity.ID,
	}
	s.Emit("like:reaction_added", added)
	if targetType == "post" {
		d.broadcastRoom(ctx, postRoom(targetID), s.ID, "like:reaction_added", added)
	}
	d.publish(bus.TopicLikeEvents, "reaction.added", added)
	return nil
}

func (d *Deps) likeRemoveReact(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	targetType, targetID, err := likeTarget(payload)
	if err != nil {
		return err
	}
	emoji, err := requireStr(payload, "emoji")
	if err != nil {
		return err
	}
	removed, err := d.Store.RemoveFromSet(ctx, reactionSet(targetType, targetID, emoji), s.Identity.ID)
	if err != nil {
		return err
	}
	if !removed {
		return gateway.NotFound("reaction")
	}
	gone := map[string]interface{}{
		"targetId":   targetID,
		"targetType": targetType,
		"emoji":      emoji,
		"userId":     s.Identity.ID,
	}
	s.Emit("like:reaction_removed", gone)
	if targetType == "post" {
		d.broadcastRoom(ctx, postRoom(targetID), s.ID, "like:reaction_removed", gone)
	}
	d.publish(bus.TopicLikeEvents, "reaction.removed", gone)
	return nil
}

func (d *Deps) likeGetReactions(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	targetType, targetID, err := likeTarget(payload)
	if err != nil {
		return err
	}
	emojis, err := d.Store.SetMembers(ctx, reactionEmojiSet(targetType, targetID))
	if err != nil {
		return err
	}
	reactions := map[string]interface{}{}
	for _, emoji := range emojis {
		users, err := d.Store.SetMembers(ctx, reactionSet(targetType, targetID, emoji))
		if err != nil {
			return err
		}
		if len(users) > 0 {
			reactions[emoji] = users
		}
	}
	s.Emit("like:reactions", map[string]interface{}{
		"targetId":   targetID,
		"targetType": targetType,
		"reactions":  reactions,
	})
	return nil
}

func (d *Deps) likeGetUserLikes(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	userID := strOr(payload, "userId", s.Identity.ID)
	likes, err := d.Store.SetMembers(ctx, userLikesSet(userID))
	if err != nil {
		return err
	}
	s.Emit("like:user_likes", map[string]interface{}{
		"userId": userID,
		"likes":  likes,
	})
	return nil
}
