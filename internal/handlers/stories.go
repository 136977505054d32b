package handlers

import (
	"context"
	"time"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

const (
	familyStory   = "story"
	storyFeedList = "feed:stories"
)

func userStoriesList(userID string) string { return "user_stories:" + userID }
func storyViewSet(storyID string) string   { return "story_views:" + storyID }

func (d *Deps) registerStories(r *gateway.Router) {
	r.Handle("story:create", d.storyCreate)
	r.Handle("story:view", d.storyView)
	r.Handle("story:react", d.storyReact)
	r.Handle("story:comment", d.storyComment)
	r.Handle("story:delete", d.storyDelete)
	r.Handle("story:highlight", d.storyHighlight)
	r.Handle("stories:get_user", d.storiesGetUser)
	r.Handle("stories:get_feed", d.storiesGetFeed)
}

func (d *Deps) storyCreate(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	if str(payload, "content") == "" && str(payload, "mediaUrl") == "" {
		return gateway.Validation("a story needs content or media")
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}

	hours := number(payload, "duration", 0)
	ttl := redisx.TTLStoryDefault
	if hours > 0 && hours <= 48 {
		ttl = time.Duration(hours) * time.Hour
	}

	story := map[string]interface{}{
		"id":          d.newID("story", s.Identity.ID),
		"authorId":    s.Identity.ID,
		"authorName":  s.Identity.Name,
		"content":     str(payload, "content"),
		"mediaUrl":    str(payload, "mediaUrl"),
		"createdAt":   d.now().UTC(),
		"expiresAt":   d.now().Add(ttl).UTC(),
		"highlighted": false,
		"reactions":   map[string]interface{}{},
	}
	id := story["id"].(string)
	if err := d.Store.Put(ctx, familyStory, id, story, ttl); err != nil {
		return err
	}
	if err := d.Store.PushList(ctx, userStoriesList(s.Identity.ID), id, d.Limits.UserPostsLimit, ttl); err != nil {
		return err
	}
	if err := d.Store.PushList(ctx, storyFeedList, id, d.Limits.FeedLimit, redisx.TTLStoryDefault); err != nil {
		return err
	}

	d.broadcastRoom(ctx, GlobalFeedRoom, s.ID, "story:new", story)
	s.Emit("story:created", map[string]interface{}{"storyId": id, "expiresAt": story["expiresAt"]})
	d.publish(bus.TopicStoryEvents, "story.created", story)
	return nil
}

func (d *Deps) storyView(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	storyID, err := requireStr(payload, "storyId")
	if err != nil {
		return err
	}
	var story map[string]interface{}
	found, err := d.Store.Get(ctx, familyStory, storyID, &story)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("story")
	}

	firstView, err := d.Store.AddToSet(ctx, storyViewSet(storyID), s.Identity.ID, redisx.TTLStoryDefault)
	if err != nil {
		return err
	}
	views, err := d.Store.SetCount(ctx, storyViewSet(storyID))
	if err != nil {
		return err
	}
	if firstView {
		if author := str(story, "authorId"); author != s.Identity.ID {
			d.sendToUser(ctx, author, "story:viewed", map[string]interface{}{
				"storyId":  storyID,
				"viewerId": s.Identity.ID,
				"views":    views,
			})
		}
	}
	s.Emit("story:view_recorded", map[string]interface{}{"storyId": storyID, "views": views})
	return nil
}

func (d *Deps) storyReact(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	storyID, err := requireStr(payload, "storyId")
	if err != nil {
		return err
	}
	emoji, err := requireStr(payload, "emoji")
	if err != nil {
		return err
	}
	added, story, found, err := d.Store.ToggleReaction(ctx, familyStory, storyID, emoji, s.Identity.ID)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("story")
	}
	reaction := map[string]interface{}{
		"storyId":   storyID,
		"emoji":     emoji,
		"userId":    s.Identity.ID,
		"added":     added,
		"reactions": story["reactions"],
	}
	if author := str(story, "authorId"); author != s.Identity.ID {
		d.sendToUser(ctx, author, "story:reaction", reaction)
	}
	s.Emit("story:reaction", reaction)
	d.publish(bus.TopicStoryEvents, "story.reacted", reaction)
	return nil
}

func (d *Deps) storyComment(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	storyID, err := requireStr(payload, "storyId")
	if err != nil {
		return err
	}
	body, err := requireStr(payload, "content")
	if err != nil {
		return err
	}
	var story map[string]interface{}
	found, err := d.Store.Get(ctx, familyStory, storyID, &story)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("story")
	}

	comment := map[string]interface{}{
		"id":        d.newID("scomment", s.Identity.ID),
		"storyId":   storyID,
		"authorId":  s.Identity.ID,
		"content":   body,
		"createdAt": d.now().UTC(),
	}
	if err := d.Store.Put(ctx, familyComment, comment["id"].(string), comment, redisx.TTLStoryDefault); err != nil {
		return err
	}
	if author := str(story, "authorId"); author != s.Identity.ID {
		d.sendToUser(ctx, author, "story:comment", comment)
	}
	s.Emit("story:comment_sent", map[string]interface{}{"commentId": comment["id"]})
	d.publish(bus.TopicStoryEvents, "story.commented", comment)
	return nil
}

func (d *Deps) storyDelete(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	storyID, err := requireStr(payload, "storyId")
	if err != nil {
		return err
	}
	var story map[string]interface{}
	found, err := d.Store.Get(ctx, familyStory, storyID, &story)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("story")
	}
	author := str(story, "authorId")
	if author != s.Identity.ID && !canModerate(s.Identity) {
		return gateway.Forbidden("only the author or a moderator can delete a story")
	}
	isAdmin := author != s.Identity.ID && canModerate(s.Identity)

	if _, err := d.Store.Delete(ctx, familyStory, storyID); err != nil {
		return err
	}
	if err := d.Store.RemoveFromList(ctx, userStoriesList(author), storyID); err != nil {
		return err
	}
	if err := d.Store.RemoveFromList(ctx, storyFeedList, storyID); err != nil {
		return err
	}
	d.broadcastRoom(ctx, GlobalFeedRoom, "", "story:deleted", map[string]interface{}{
		"storyId": storyID,
	})
	d.publish(bus.TopicStoryEvents, "story.deleted", map[string]interface{}{
		"storyId": storyID, "isAdmin": isAdmin,
	})
	return nil
}

func (d *Deps) storyHighlight(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	storyID, err := requireStr(payload, "storyId")
	if err != nil {
		return err
	}
	var story map[string]interface{}
	found, err := d.Store.Get(ctx, familyStory, storyID, &story)
	if err != nil {
		return err
	}
	if !found {
		return gateway.NotFound("story")
	}
	if str(story, "authorId") != s.Identity.ID {
		return gateway.Forbidden("only the author can highlight a story")
	}
	updated, _, err := d.Store.Update(ctx, familyStory, storyID, func(it map[string]interface{}) {
		it["highlighted"] = true
	})
	if err != nil {
		return err
	}
	s.Emit("story:highlighted", map[string]interface{}{
		"storyId":     storyID,
		"highlighted": updated["highlighted"],
	})
	return nil
}

func (d *Deps) storiesGetUser(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	userID := strOr(payload, "userId", s.Identity.ID)
	ids, err := d.Store.ListIDs(ctx, userStoriesList(userID), d.Limits.UserPostsLimit)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyStory, ids)
	if err != nil {
		return err
	}
	s.Emit("stories:user", map[string]interface{}{
		"userId":  userID,
		"stories": decodeItems(raws),
	})
	return nil
}

func (d *Deps) storiesGetFeed(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	limit := int64(number(payload, "limit", 20))
	if limit <= 0 || limit > d.Limits.FeedLimit {
		limit = 20
	}
	ids, err := d.Store.ListIDs(ctx, storyFeedList, limit)
	if err != nil {
		return err
	}
	raws, err := d.Store.LoadMany(ctx, familyStory, ids)
	if err != nil {
		return err
	}
	s.Emit("stories:feed", map[string]interface{}{"stories": decodeItems(raws)})
	return nil
}
