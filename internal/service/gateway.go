package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/weiawesome/wes-io-live/internal/audit"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/metrics"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

func (e *engine) HandleAuthenticate(ctx context.Context, c *hub.Client, msg *domain.AuthenticateMessage) error {
	ctx, span := tracer.Start(ctx, "realtime.authenticate")
	defer span.End()

	result, err := e.auth.ValidateToken(ctx, msg.Token)
	if err != nil {
		metrics.AuthTotal.WithLabelValues("error").Inc()
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", err.Error(), "token verification unavailable")
		return &domain.Error{Code: domain.ErrCodeAuthFailed, Message: "authentication service unavailable", Err: err}
	}
	if !result.Valid {
		metrics.AuthTotal.WithLabelValues("failed").Inc()
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", result.Error, "authentication failed")
		return domain.AuthFailed("%s", result.Error)
	}

	status := msg.Status
	if status == "" {
		status = domain.StatusOnline
	}
	if !status.Settable() {
		return domain.Validation("status %q cannot be set", msg.Status)
	}

	if c.Session.IsAuthenticated() {
		return e.reauthenticate(ctx, c, result.UserID, status, msg)
	}

	span.SetAttributes(attribute.String("user.id", result.UserID))
	mark := e.revocationMark(result.UserID)
	groups, err := e.store.AuthorizedGroups(ctx, result.UserID)
	if err != nil {
		metrics.AuthTotal.WithLabelValues("error").Inc()
		return domain.Persistence(err, "failed to load groups")
	}

	if err := e.index.Open(c.ID, result.UserID); err != nil {
		return domain.AuthFailed("connection closed")
	}
	for _, g := range groups {
		if _, err := e.index.Join(c.ID, domain.GroupRoom(g)); err != nil {
			return domain.AuthFailed("connection closed")
		}
	}
	if _, err := e.index.Join(c.ID, domain.InvitationRoom(result.UserID)); err != nil {
		return domain.AuthFailed("connection closed")
	}

	c.Session.Authenticate(result.UserID, result.Username, result.Email, result.Roles)
	c.Session.SetStatus(status, msg.CustomStatus)
	first := e.presence.Add(result.UserID, c.ID, status, msg.CustomStatus)
	if e.revocationMark(result.UserID) != mark {
		groups = e.confirmGroups(ctx, c.ID, result.UserID, groups, mark)
	}
	p := e.presence.Get(result.UserID)

	metrics.AuthTotal.WithLabelValues("ok").Inc()
	metrics.UsersOnline.Set(float64(e.presence.OnlineCount()))
	audit.Log(ctx, audit.ActionAuth, result.UserID, "connection authenticated")
	l := log.Ctx(ctx)
	l.Info().Str(log.FieldUserID, result.UserID).Int("groups", len(groups)).Bool("first", first).Msg("authenticated")

	if err := c.SendMessage(&domain.AuthenticatedMessage{
		Type:         domain.MsgTypeAuthenticated,
		ConnectionID: c.ID,
		UserID:       result.UserID,
		Username:     result.Username,
		Status:       p.Status,
		CustomStatus: p.CustomStatus,
		Groups:       groups,
	}); err != nil {
		return err
	}

	if err := e.mirror.Online(ctx, p); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to mirror presence")
	}
	if first {
		rooms := make([]domain.RoomKey, len(groups))
		for i, g := range groups {
			rooms[i] = domain.GroupRoom(g)
		}
		e.broadcastRooms(rooms, &domain.PresenceMessage{
			Type:         domain.MsgTypeUserOnline,
			UserID:       result.UserID,
			Username:     result.Username,
			Status:       p.Status,
			CustomStatus: p.CustomStatus,
			LastSeen:     p.LastSeen,
		}, c.ID)
	}
	return nil
}

// confirmGroups drops the groups revoked while c was being seeded.
func (e *engine) confirmGroups(ctx context.Context, connID, userID string, groups []string, mark uint64) []string {
	kept := make([]string, 0, len(groups))
	for _, g := range groups {
		if err := e.confirmAccess(ctx, connID, userID, g, mark); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldRoom, domain.GroupRoom(g).String()).Msg("group dropped during authentication")
			continue
		}
		kept = append(kept, g)
	}
	return kept
}

// reauthenticate only refreshes status; a token for another user is refused.
func (e *engine) reauthenticate(ctx context.Context, c *hub.Client, userID string, status domain.Status, msg *domain.AuthenticateMessage) error {
	if userID != c.Session.GetUserID() {
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, c.Session.GetUserID(), userID, "re-authentication as another user")
		return domain.AuthFailed("token belongs to a different user")
	}
	changed := false
	if msg.Status != "" {
		old, oldCustom := c.Session.GetStatus()
		changed = old != status || oldCustom != msg.CustomStatus
		if changed {
			c.Session.SetStatus(status, msg.CustomStatus)
			e.presence.SetStatus(userID, status, msg.CustomStatus)
		}
	}
	p := e.presence.Get(userID)
	if err := c.SendMessage(&domain.AuthenticatedMessage{
		Type:         domain.MsgTypeAuthenticated,
		ConnectionID: c.ID,
		UserID:       userID,
		Username:     c.Session.GetUsername(),
		Status:       p.Status,
		CustomStatus: p.CustomStatus,
		Groups:       groupIDs(e.index.RoomsOf(c.ID)),
	}); err != nil {
		return err
	}
	if changed {
		e.announceStatus(ctx, c, p)
	}
	return nil
}

func (e *engine) HandlePresenceUpdate(ctx context.Context, c *hub.Client, msg *domain.PresenceUpdateMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if !msg.Status.Settable() {
		return domain.Validation("status %q cannot be set", msg.Status)
	}
	userID := c.Session.GetUserID()
	c.Session.SetStatus(msg.Status, msg.CustomStatus)
	if !e.presence.SetStatus(userID, msg.Status, msg.CustomStatus) {
		return domain.NotFound("no live connection for user")
	}
	e.announceStatus(ctx, c, e.presence.Get(userID))
	return nil
}

// announceStatus broadcasts presence_changed to every group room of the user,
// including the user's other devices.
func (e *engine) announceStatus(ctx context.Context, c *hub.Client, p domain.Presence) {
	if err := e.mirror.Online(ctx, p); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to mirror presence")
	}
	rooms := append(e.groupRoomsOf(p.UserID), domain.InvitationRoom(p.UserID))
	e.broadcastRooms(rooms, &domain.PresenceMessage{
		Type:         domain.MsgTypePresenceChanged,
		UserID:       p.UserID,
		Username:     c.Session.GetUsername(),
		Status:       p.Status,
		CustomStatus: p.CustomStatus,
		LastSeen:     p.LastSeen,
	}, c.ID)
}

func groupIDs(rooms []domain.RoomKey) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r.Kind == domain.RoomGroup {
			out = append(out, r.ID)
		}
	}
	return out
}
