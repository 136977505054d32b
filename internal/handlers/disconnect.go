package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
)

// HandleDisconnect reverses connect-time state once the socket is gone.
// Safe to run for sessions that never finished setup.
func (d *Deps) HandleDisconnect(ctx context.Context, s *gateway.Session, reason string) {
	for _, roomID := range s.Rooms() {
		if d.Hub.UserInRoom(s.Identity.ID, roomID) {
			// another tab of the same user is still joined here
			continue
		}
		if err := d.Rooms.Leave(ctx, roomID, s.Identity.ID); err != nil {
			d.Log.Warn("cleanup leave failed",
				zap.String("room_id", roomID),
				zap.String("user_id", s.Identity.ID),
				zap.Error(err))
		}
		d.broadcastRoom(ctx, roomID, s.ID, "room:user_left", map[string]interface{}{
			"roomId": roomID,
			"userId": s.Identity.ID,
		})
	}

	last, err := d.Registry.Deregister(ctx, s.ID, s.Identity.ID)
	if err != nil {
		d.Log.Warn("deregister failed",
			zap.String("user_id", s.Identity.ID), zap.Error(err))
	}
	if last {
		d.broadcastAll(ctx, s.ID, "user:offline", map[string]interface{}{
			"userId": s.Identity.ID,
		})
		d.publish(bus.TopicUserActions, "user_offline", map[string]interface{}{
			"userId": s.Identity.ID,
			"reason": reason,
		})
	}
}
