package handlers

import (
	"context"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

const familyComment = "comment"

func postRoom(postID string) string         { return "post:" + postID }
func postCommentsList(postID string) string { return "post_comments:" + postID }
func commentLikeSet(commentID string) string {
	return likeSet("comment", commentID)
}

func (d *Deps) registerComments(r *gateway.Router) {
	r.Handle("comment:add", d.commentAdd)
	r.Handle("comment:edit", d.commentEdit)
	r.Handle("comment:delete", d.commentDelete)
	r.Handle("comment:like", d.commentLike)
	r.Handle("comment:report", d.commentReport)
	r.Handle("comment:get", d.commentGet)
}

func (d *Deps) commentAdd(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	postID, err := requireStr(payload, "postId")
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
	var post map[string]interface{}
	found, err := d.Store.Get(ctx, familyPost, postID, &post)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("post")
	}

	comment := map[string]interface{}{
		"id":         d.newID("comment", s.Identity.ID),
		"postId":     postID,
		"authorId":   s.Identity.ID,
		"authorName": s.Identity.Name,
		"content":    body,
		"parentId":   str(payload, "parentId"),
		"createdAt":  d.now().UTC(),
		"edited":     false,
	}
	id := comment["id"].(string)
	if err := d.Store.Put(ctx, familyComment, id, comment, redisx.TTLComment); err != nil {
		return err
	}
	if err := d.Store.PushList(ctx, postCommentsList(postID), id, d.Limits.RoomHistoryLimit, redisx.TTLComment); err != nil {
		return err
	}
	if _, err := d.Store.IncrStat(ctx, familyPost, postID, "comments", 1); err != nil {
		return err
	}

	d.broadcastRoom(ctx, postRoom(postID), "", "comment:new", comment)
	s.Emit("comment:added", map[string]interface{}{"commentId": id, "postId": postID})

	if author := str(post, "authorId"); author != s.Identity.ID {
		d.sendToUser(ctx, author, "notification:new", map[string]interface{}{
			"type":      "post_commented",
			"postId":    postID,
			"commentId": id,
			"userId":    author,
			"actor":     s.Identity.ID,
		})
	}
	d.publish(bus.TopicCommentEvents, "comment.created", comment)
	return nil
}

func (d *Deps) commentEdit(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	commentID, err := requireStr(payload, "commentId")
	if err != nil {
		return err
	}
	body, err := requireStr(payload, "content")
	if err != nil {
		return err
	}
	var comment map[string]interface{}
	found, err := d.Store.Get(ctx, familyComment, commentID, &comment)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("comment")
	}
	if str(comment, "authorId") != s.Identity.ID {
		return gateway.Forbidden("only the author can edit a comment")
	}
	if age, ok := itemAge(comment, "createdAt", d.now()); ok && age > d.Limits.EditWindow {
		return gateway.TooOld("edit window has closed")
	}

	updated, found, err := d.Store.Update(ctx, familyComment, commentID, func(it map[string]interface{}) {
		it["content"] = body
		it["edited"] = true
		it["editedAt"] = d.now().UTC()
	})
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("comment")
	}
	d.broadcastRoom(ctx, postRoom(str(comment, "postId")), "", "comment:updated", updated)
	d.publish(bus.TopicCommentEvents, "comment.edited", updated)
	return nil
}

func (d *Deps) commentDelete(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	commentID, err := requireStr(payload, "commentId")
	if err != nil {
		return err
	}
	var comment map[string]interface{}
	found, err := d.Store.Get(ctx, familyComment, commentID, &comment)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("comment")
	}
	if str(comment, "authorId") != s.Identity.ID && !canModerate(s.Identity) {
		return gateway.Forbidden("only the author or a moderator can delete a comment")
	}
	isAdmin := str(comment, "authorId") != s.Identity.ID && canModerate(s.Identity)
	postID := str(comment, "postId")

	if _, err := d.Store.Delete(ctx, familyComment, commentID); err != nil {
		return err
	}
	if err := d.Store.RemoveFromList(ctx, postCommentsList(postID), commentID); err != nil {
		return err
	}
	if _, err := d.Store.IncrStat(ctx, familyPost, postID, "comments", -1); err != nil {
		return err
	}
	d.broadcastRoom(ctx, postRoom(postID), "", "comment:deleted", map[string]interface{}{
		"commentId": commentID,
		"postId":    postID,
		"deletedBy": s.Identity.ID,
	})
	d.publish(bus.TopicCommentEvents, "comment.deleted", map[string]interface{}{
		"commentId": commentID, "postId": postID, "isAdmin": isAdmin,
	})
	return nil
}

func (d *Deps) commentLike(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	commentID, err := requireStr(payload, "commentId")
	if err != nil {
		return err
	}
	var comment map[string]interface{}
	found, err := d.Store.Get(ctx, familyComment, commentID, &comment)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("comment")
	}

	liked, err := d.Store.AddToSet(ctx, commentLikeSet(commentID), s.Identity.ID, redisx.TTLComment)
	if err != nil {
		return err
	}
	if !liked {
		if _, err := d.Store.RemoveFromSet(ctx, commentLikeSet(commentID), s.Identity.ID); err != nil {
			return err
		}
	}
	count, err := d.Store.SetCount(ctx, commentLikeSet(commentID))
	if err != nil {
		return err
	}
	d.broadcastRoom(ctx, postRoom(str(comment, "postId")), "", "comment:like_updated", map[string]interface{}{
		"commentId": commentID,
		"userId":    s.Identity.ID,
		"liked":     liked,
		"likes":     count,
	})
	return nil
}

func (d *Deps) commentReport(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	commentID, err := requireStr(payload, "commentId")
	if err != nil {
		return err
	}
	var comment map[string]interface{}
	found, err := d.Store.Get(ctx, familyComment, commentID, &comment)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("comment")
	}
	d.publish(bus.TopicUserActions, "comment.reported", map[string]interface{}{
		"commentId":  commentID,
		"postId":     str(comment, "postId"),
		"reporterId": s.Identity.ID,
		"reason":     str(payload, "reason"),
	})
	s.Emit("comment:reported", map[string]interface{}{"commentId": commentID})
	return nil
}

func (d *Deps) commentGet(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	postID, err := requireStr(payload, "postId")
	if err != nil {
		return err
	}
	limit := int64(number(payload, "limit", 50))
	if limit <= 0 || limit > d.Limits.RoomHistoryLimit {
		limit = 50
	}
	ids, err := d.Store.ListIDs(ctx, postCommentsList(postID), limit)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyComment, ids)
	if err != nil {
		return err
	}
	s.Emit("comment:list", map[string]interface{}{
		"postId":   postID,
		"comments": decodeItems(raws),
	})
	return nil
}
