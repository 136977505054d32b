package handlers

import (
	"context"
	"time"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/internal/session"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

const familyActivity = "activity"

// presenceRoom is the subscription scope for one user's presence changes.
func presenceRoom(userID string) string { return "presence:" + userID }

func (d *Deps) registerPresence(r *gateway.Router) {
	r.Handle("presence:update_status", d.presenceUpdateStatus)
	r.Handle("presence:set_away", d.presenceSetAway)
	r.Handle("presence:set_back", d.presenceSetBack)
	r.Handle("presence:set_activity", d.presenceSetActivity)
	r.Handle("presence:clear_activity", d.presenceClearActivity)
	r.Handle("presence:get_status", d.presenceGetStatus)
	r.Handle("presence:get_friends", d.presenceGetFriends)
	r.Handle("presence:subscribe", d.presenceSubscribe)
	r.Handle("presence:unsubscribe", d.presenceUnsubscribe)
	r.Handle("presence:ping", d.presencePing)
	r.Handle("presence:study_mode", d.presenceStudyMode)
}

// announceStatus fans a presence change out to the user's subscribers.
func (d *Deps) announceStatus(ctx context.Context, s *gateway.Session, p session.Presence) {
	payload := map[string]interface{}{
		"userId":        p.UserID,
		"status":        p.Status,
		"customMessage": p.StatusMessage,
		"studyMode":     p.StudyMode,
		"lastSeen":      p.LastSeen,
	}
	s.Emit("presence:status_updated", payload)
	d.broadcastRoom(ctx, presenceRoom(p.UserID), s.ID, "presence:status_updated", payload)
	d.publish(bus.TopicPresenceEvents, "presence.updated", payload)
}

func (d *Deps) presenceUpdateStatus(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	status, err := requireStr(payload, "status")
	if err != nil {
		return err
	}
	p, err := d.Registry.SetStatus(ctx, s.Identity.ID, status, str(payload, "customMessage"))
	if err != nil {
		return gateway.Validation("%s", err.Error())
	}
	d.announceStatus(ctx, s, p)
	return nil
}

func (d *Deps) presenceSetAway(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	p, err := d.Registry.SetStatus(ctx, s.Identity.ID, session.StatusAway, "")
	if err != nil {
		return err
	}
	d.announceStatus(ctx, s, p)
	return nil
}

func (d *Deps) presenceSetBack(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	p, err := d.Registry.SetStatus(ctx, s.Identity.ID, session.StatusOnline, "")
	if err != nil {
		return err
	}
	d.announceStatus(ctx, s, p)
	return nil
}

func (d *Deps) presenceSetActivity(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	activity, err := requireStr(payload, "activity")
	if err != nil {
		return err
	}
	record := map[string]interface{}{
		"userId":    s.Identity.ID,
		"activity":  activity,
		"detail":    str(payload, "detail"),
		"startedAt": d.now().UTC(),
	}
	if err := d.Store.Put(ctx, familyActivity, s.Identity.ID, record, redisx.TTLPresence); err != nil {
		return err
	}
	d.broadcastRoom(ctx, presenceRoom(s.Identity.ID), s.ID, "presence:activity_started", record)
	s.Emit("presence:activity_started", record)
	return nil
}

func (d *Deps) presenceClearActivity(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	if _, err := d.Store.Delete(ctx, familyActivity, s.Identity.ID); err != nil {
		return err
	}
	stopped := map[string]interface{}{"userId": s.Identity.ID}
	d.broadcastRoom(ctx, presenceRoom(s.Identity.ID), s.ID, "presence:activity_stopped", stopped)
	s.Emit("presence:activity_stopped", stopped)
	return nil
}

func (d *Deps) presenceGetStatus(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	userID := strOr(payload, "userId", s.Identity.ID)
	p, err := d.Registry.GetPresence(ctx, userID)
	if err != nil {
		return err
	}
	var activity map[string]interface{}
	if _, err := d.Store.Get(ctx, familyActivity, userID, &activity); err != nil {
		return err
	}
	s.Emit("presence:status", map[string]interface{}{
		"userId":        p.UserID,
		"status":        p.Status,
		"customMessage": p.StatusMessage,
		"studyMode":     p.StudyMode,
		"lastSeen":      p.LastSeen,
		"activity":      activity,
	})
	return nil
}

func (d *Deps) presenceGetFriends(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	userIDs := strSlice(payload, "userIds")
	if len(userIDs) == 0 {
		return gateway.Validation("missing required field %q", "userIds")
	}
	presences, err := d.Registry.GetMany(ctx, userIDs)
	if err != nil {
		return err
	}
	s.Emit("presence:friends", map[string]interface{}{"friends": presences})
	return nil
}

func (d *Deps) presenceSubscribe(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	userID, err := requireStr(payload, "userId")
	if err != nil {
		return err
	}
	d.Hub.JoinRoom(s, presenceRoom(userID))
	s.Emit("presence:subscribed", map[string]interface{}{"userId": userID})
	return nil
}

func (d *Deps) presenceUnsubscribe(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	userID, err := requireStr(payload, "userId")
	if err != nil {
		return err
	}
	d.Hub.LeaveRoom(s, presenceRoom(userID))
	s.Emit("presence:unsubscribed", map[string]interface{}{"userId": userID})
	return nil
}

func (d *Deps) presencePing(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	if err := d.Registry.Heartbeat(ctx, s.Identity.ID); err != nil {
		return err
	}
	s.Emit("presence:pong", map[string]interface{}{"at": d.now().UTC()})
	return nil
}

func (d *Deps) presenceStudyMode(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	mode := session.StudyMode{
		Enabled: boolean(payload, "enabled"),
		Subject: str(payload, "subject"),
	}
	if raw := str(payload, "endTime"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return gateway.Validation("invalid endTime %q", raw)
		}
		mode.EndTime = &end
	}
	p, err := d.Registry.SetStudyMode(ctx, s.Identity.ID, mode)
	if err != nil {
		return err
	}
	update := map[string]interface{}{
		"userId":    p.UserID,
		"enabled":   p.StudyMode.Enabled,
		"subject":   p.StudyMode.Subject,
		"studyMode": p.StudyMode,
		"status":    p.Status,
	}
	s.Emit("presence:study_mode_updated", update)
	d.broadcastRoom(ctx, presenceRoom(p.UserID), s.ID, "presence:study_mode_updated", update)
	d.publish(bus.TopicPresenceEvents, "presence.study_mode", update)
	return nil
}
