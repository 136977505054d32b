package handlers

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/internal/room"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GlobalFeedRoom is joined by every connection for site-wide fan-out.
const GlobalFeedRoom = "global-feed"

// HandleConnect runs once per accepted connection: registers the session,
// auto-joins the default rooms, acknowledges, and announces the user.
func (d *Deps) HandleConnect(ctx context.Context, s *gateway.Session) error {
	first, err := d.Registry.Register(ctx, s.ID, s.Identity.ID)
	if err != nil {
		return err
	}

	personal := "user:" + s.Identity.ID
	d.Hub.JoinRoom(s, personal)
	d.Hub.JoinRoom(s, GlobalFeedRoom)
	if _, err := d.Rooms.Join(ctx, GlobalFeedRoom, room.KindGeneral, s.Identity.ID); err != nil {
		d.Log.Warn("failed to record global feed membership",
			zap.String("user_id", s.Identity.ID), zap.Error(err))
	}

	s.Emit("connection:ack", map[string]interface{}{
		"connId":      s.ID,
		"userId":      s.Identity.ID,
		"features":    d.Features,
		"onlineCount": d.Hub.Count(),
	})

	if first {
		d.broadcastAll(ctx, s.ID, "user:online", map[string]interface{}{
			"userId": s.Identity.ID,
			"name":   s.Identity.Name,
			"avatar": s.Identity.Avatar,
		})
		d.publish(bus.TopicUserActions, "user_online", map[string]interface{}{
			"userId": s.Identity.ID,
		})
	}
	return nil
}

func (d *Deps) registerRooms(r *gateway.Router) {
	r.Handle("room:join", d.roomJoin)
	r.Handle("room:leave", d.roomLeave)
	r.Handle("room:info", d.roomInfo)
	r.Handle("users:get_online", d.usersGetOnline)
}

func (d *Deps) roomJoin(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	roomID, err := requireStr(payload, "roomId")
	if err != nil {
		return err
	}
	if err := d.throttle(ctx, s, ""); err != nil {
		return err
	}
	info, err := d.Rooms.Join(ctx, roomID, str(payload, "roomType"), s.Identity.ID)
	if err != nil {
		return gateway.Validation("%s", err.Error())
	}
	d.Hub.JoinRoom(s, roomID)

	s.Emit("room:joined", map[string]interface{}{
		"roomId":      info.ID,
		"roomType":    info.Kind,
		"memberCount": info.MemberCount,
	})
	d.broadcastRoom(ctx, roomID, s.ID, "room:user_joined", map[string]interface{}{
		"roomId": roomID,
		"userId": s.Identity.ID,
		"name":   s.Identity.Name,
	})
	return nil
}

func (d *Deps) roomLeave(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	roomID, err := requireStr(payload, "roomId")
	if err != nil {
		return err
	}
	if err := d.requireMember(s, roomID); err != nil {
		return err
	}
	d.Hub.LeaveRoom(s, roomID)
	s.Emit("room:left", map[string]interface{}{"roomId": roomID})

	// another tab of the same user may still be in the room
	if d.Hub.UserInRoom(s.Identity.ID, roomID) {
		return nil
	}
	if err := d.Rooms.Leave(ctx, roomID, s.Identity.ID); err != nil {
		return err
	}
	d.broadcastRoom(ctx, roomID, s.ID, "room:user_left", map[string]interface{}{
		"roomId": roomID,
		"userId": s.Identity.ID,
	})
	return nil
}

func (d *Deps) roomInfo(ctx context.Context, s *gateway.Session, payload map[string]interface{}) error {
	roomID, err := requireStr(payload, "roomId")
	if err != nil {
		return err
	}
	info, err := d.Rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	members, err := d.Rooms.Members(ctx, roomID)
	if err != nil {
		return err
	}
	s.Emit("room:info", map[string]interface{}{
		"roomId":       info.ID,
		"roomType":     info.Kind,
		"exists":       info.Exists,
		"memberCount":  info.MemberCount,
		"members":      members,
		"createdAt":    info.CreatedAt,
		"lastActivity": info.LastActivity,
	})
	return nil
}

func (d *Deps) usersGetOnline(ctx context.Context, s *gateway.Session, _ map[string]interface{}) error {
	users := d.Hub.ConnectedUserIDs()
	presences, err := d.Registry.GetMany(ctx, users)
	if err != nil {
		return err
	}
	s.Emit("users:online_list", map[string]interface{}{
		"count": len(users),
		"users": presences,
	})
	return nil
}
