package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/internal/audit"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/metrics"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

// HandleDisconnect removes c from every index. When it was the user's last
// connection the user goes offline in every group room it was in.
func (e *engine) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	e.hub.Unregister(c)
	metrics.ConnectionsActive.Set(float64(e.hub.Count()))

	rooms := e.index.Close(c.ID)
	if !c.Session.IsAuthenticated() {
		return nil
	}
	userID := c.Session.GetUserID()
	username := c.Session.GetUsername()

	e.clearTyping(userID, username, rooms)

	last := e.presence.Remove(userID, c.ID)
	audit.Log(ctx, audit.ActionDisconnect, userID, "connection closed")
	if !last {
		return nil
	}

	now := e.now()
	metrics.UsersOnline.Set(float64(e.presence.OnlineCount()))
	var groups []domain.RoomKey
	for _, r := range rooms {
		if r.Kind == domain.RoomGroup {
			groups = append(groups, r)
		}
	}
	e.broadcastRooms(groups, &domain.PresenceMessage{
		Type:     domain.MsgTypeUserOffline,
		UserID:   userID,
		Username: username,
		Status:   domain.StatusOffline,
		LastSeen: now,
	}, "")

	if err := e.mirror.Offline(ctx, userID, now); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to mirror offline presence")
	}
	e.endCallsOf(ctx, userID)
	l := log.Ctx(ctx)
	l.Info().Str(log.FieldUserID, userID).Int("rooms", len(rooms)).Msg("user offline")
	return nil
}
