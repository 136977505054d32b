package handlers

import (
	"context"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/internal/ratelimit"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

const (
	familyPost   = "post"
	postFeedList = "feed:posts"
)

func userPostsList(userID string) string { return "user_posts:" + userID }

func (d *Deps) registerPosts(r *gateway.Router) {
	r.Handle("post:create", d.postCreate)
	r.Handle("post:update", d.postUpdate)
	r.Handle("post:delete", d.postDelete)
	r.Handle("post:get", d.postGet)
	r.Handle("post:share", d.postShare)
	r.Handle("posts:get_user_posts", d.postsGetUserPosts)
	r.Handle("posts:get_feed", d.postsGetFeed)
}

func (d *Deps) postCreate(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	body, err := requireStr(payload, "content")
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ratelimit.CategoryPostCreate); err != nil {
		return err
	}

	post := map[string]interface{}{
		"id":         d.newID("post", s.Identity.ID),
		"authorId":   s.Identity.ID,
		"authorName": s.Identity.Name,
		"content":    body,
		"type":       strOr(payload, "type", "text"),
		"visibility": strOr(payload, "visibility", "public"),
		"mediaUrls":  strSlice(payload, "mediaUrls"),
		"tags":       strSlice(payload, "tags"),
		"createdAt":  d.now().UTC(),
		"edited":     false,
	}
	id := post["id"].(string)
	if err := d.Store.Put(ctx, familyPost, id, post, redisx.TTLPost); err != nil {
		return err
	}
	if err := d.Store.PushList(ctx, userPostsList(s.Identity.ID), id, d.Limits.UserPostsLimit, redisx.TTLPost); err != nil {
		return err
	}
	if err := d.Store.PushList(ctx, postFeedList, id, d.Limits.FeedLimit, redisx.TTLPost); err != nil {
		return err
	}

	d.broadcastRoom(ctx, GlobalFeedRoom, s.ID, "post:new", post)
	s.Emit("post:created", map[string]interface{}{"postId": id})
	d.publish(bus.TopicPostEvents, "post.created", post)
	return nil
}

func (d *Deps) postUpdate(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	postID, err := requireStr(payload, "postId")
	if err != nil {
		return err
	}
	body, err := requireStr(payload, "content")
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ratelimit.CategoryPostUpdate); err != nil {
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
	if str(post, "authorId") != s.Identity.ID {
		return gateway.Forbidden("only the author can update a post")
	}
	if age, ok := itemAge(post, "createdAt", d.now()); ok && age > d.Limits.EditWindow {
		return gateway.TooOld("edit window has closed")
	}

	updated, found, err := d.Store.Update(ctx, familyPost, postID, func(it map[string]interface{}) {
		it["content"] = body
		it["edited"] = true
		it["editedAt"] = d.now().UTC()
	})
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("post")
	}

	d.broadcastRoom(ctx, GlobalFeedRoom, "", "post:updated", updated)
	s.Emit("post:update_success", map[string]interface{}{"postId": postID})
	d.publish(bus.TopicPostEvents, "post.updated", updated)
	return nil
}

func (d *Deps) postDelete(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	postID, err := requireStr(payload, "postId")
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ratelimit.CategoryPostDelete); err != nil {
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
	author := str(post, "authorId")
	if author != s.Identity.ID && !canModerate(s.Identity) {
		return gateway.Forbidden("only the author or a moderator can delete a post")
	}
	isAdmin := author != s.Identity.ID && canModerate(s.Identity)

	if _, err := d.Store.Delete(ctx, familyPost, postID); err != nil {
		return err
	}
	if err := d.Store.RemoveFromList(ctx, userPostsList(author), postID); err != nil {
		return err
	}
	if err := d.Store.RemoveFromList(ctx, postFeedList, postID); err != nil {
		return err
	}

	d.broadcastRoom(ctx, GlobalFeedRoom, "", "post:deleted", map[string]interface{}{
		"postId":    postID,
		"deletedBy": s.Identity.ID,
	})
	s.Emit("post:delete_success", map[string]interface{}{"postId": postID})
	d.publish(bus.TopicPostEvents, "post.deleted", map[string]interface{}{
		"postId": postID, "isAdmin": isAdmin,
	})
	return nil
}

func (d *Deps) postGet(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	postID, err := requireStr(payload, "postId")
	if err != nil {
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
	enriched, err := d.enrichPost(ctx, post)
	if err != nil {
		return err
	}
	s.Emit("post:data", enriched)
	return nil
}

func (d *Deps) postShare(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	postID, err := requireStr(payload, "postId")
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ratelimit.CategoryPostShare); err != nil {
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

	shares, err := d.Store.IncrStat(ctx, familyPost, postID, "shares", 1)
	if err != nil {
		return err
	}
	d.broadcastRoom(ctx, GlobalFeedRoom, s.ID, "post:shared", map[string]interface{}{
		"postId":   postID,
		"sharedBy": s.Identity.ID,
		"shares":   shares,
	})
	s.Emit("post:share_success", map[string]interface{}{"postId": postID, "shares": shares})

	if author := str(post, "authorId"); author != s.Identity.ID {
		d.sendToUser(ctx, author, "notification:new", map[string]interface{}{
			"type":   "post_shared",
			"postId": postID,
			"userId": author,
			"actor":  s.Identity.ID,
		})
	}
	d.publish(bus.TopicPostEvents, "post.shared", map[string]interface{}{
		"postId": postID, "sharedBy": s.Identity.ID,
	})
	return nil
}

func (d *Deps) postsGetUserPosts(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	userID := strOr(payload, "userId", s.Identity.ID)
	ids, err := d.Store.ListIDs(ctx, userPostsList(userID), d.Limits.UserPostsLimit)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyPost, ids)
	if err != nil {
		return err
	}
	s.Emit("posts:user_posts", map[string]interface{}{
		"userId": userID,
		"posts":  decodeItems(raws),
	})
	return nil
}

func (d *Deps) postsGetFeed(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	limit := int64(number(payload, "limit", 20))
	if limit <= 0 || limit > d.Limits.FeedLimit {
		limit = 20
	}
	ids, err := d.Store.ListIDs(ctx, postFeedList, limit)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyPost, ids)
	if err != nil {
		return err
	}
	posts := decodeItems(raws)
	for i, post := range posts {
		enriched, err := d.enrichPost(ctx, post)
		if err != nil {
			return err
		}
		posts[i] = enriched
	}
	s.Emit("posts:feed", map[string]interface{}{"posts": posts})
	return nil
}

// enrichPost attaches live counters kept outside the post body.
func (d *Deps) enrichPost(ctx context.Context, post map[string]interface{}) (map[string]interface{}, error) {
	postID := str(post, "id")
	likes, err := d.Store.SetCount(ctx, likeSet("post", postID))
	if err != nil {
		return nil, err
	}
	stats, err := d.Store.Stats(ctx, familyPost, postID)
	if err != nil {
		return nil, err
	}
	post["stats"] = map[string]interface{}{
		"likes":    likes,
		"shares":   stats["shares"],
		"comments": stats["comments"],
		"views":    stats["views"],
	}
	return post, nil
}
