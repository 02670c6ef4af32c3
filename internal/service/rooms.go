package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/internal/audit"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/membership"
)

func (e *engine) HandleJoinGroup(ctx context.Context, c *hub.Client, groupID string) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if groupID == "" {
		return domain.Validation("roomId is required")
	}
	userID := c.Session.GetUserID()
	mark := e.revocationMark(userID)
	ok, err := e.store.IsGroupAuthorized(ctx, userID, groupID)
	if err != nil {
		return domain.Persistence(err, "failed to check group membership")
	}
	if !ok {
		audit.LogTarget(ctx, audit.ActionAccessDenied, userID, groupID, "group join refused")
		return domain.AccessDenied("not a member of group %s", groupID)
	}

	room := domain.GroupRoom(groupID)
	added, err := e.index.Join(c.ID, room)
	if err != nil {
		return joinError(err)
	}
	if err := e.confirmAccess(ctx, c.ID, userID, groupID, mark); err != nil {
		return err
	}
	if added {
		audit.LogTarget(ctx, audit.ActionJoinRoom, userID, room.String(), "joined group room")
		e.broadcastRoom(room, &domain.UserJoinedMessage{
			Type:     domain.MsgTypeUserJoinedRoom,
			RoomID:   groupID,
			UserID:   userID,
			Username: c.Session.GetUsername(),
		}, c.ID)
	}
	return c.SendMessage(&domain.RoomJoinedMessage{
		Type:     domain.MsgTypeRoomJoined,
		RoomType: room.Kind.String(),
		RoomID:   groupID,
		GroupID:  groupID,
		Members:  e.index.Size(room),
	})
}

// HandleJoinResource joins a todo room. Authorization is strict: the user
// must be authorized for the todo's owning group.
func (e *engine) HandleJoinResource(ctx context.Context, c *hub.Client, todoID, groupID string) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if todoID == "" {
		return domain.Validation("todoId is required")
	}
	owner, err := e.resourceGroup(ctx, todoID)
	if err != nil {
		return err
	}
	if groupID != "" && groupID != owner {
		return domain.Validation("todo %s does not belong to group %s", todoID, groupID)
	}
	userID := c.Session.GetUserID()
	mark := e.revocationMark(userID)
	if err := e.authorizedFor(ctx, c, owner); err != nil {
		if domain.HasCode(err, domain.ErrCodeAccessDenied) {
			audit.LogTarget(ctx, audit.ActionAccessDenied, userID, todoID, "todo join refused")
		}
		return err
	}

	room := domain.ResourceRoom(todoID)
	added, err := e.index.Join(c.ID, room)
	if err != nil {
		return joinError(err)
	}
	if err := e.confirmAccess(ctx, c.ID, userID, owner, mark); err != nil {
		return err
	}
	if added {
		audit.LogTarget(ctx, audit.ActionJoinRoom, userID, room.String(), "joined todo room")
		e.broadcastRoom(room, &domain.UserJoinedMessage{
			Type:     domain.MsgTypeUserJoinedTodoRoom,
			TodoID:   todoID,
			UserID:   userID,
			Username: c.Session.GetUsername(),
		}, c.ID)
	}
	return c.SendMessage(&domain.RoomJoinedMessage{
		Type:     domain.MsgTypeRoomJoined,
		RoomType: room.Kind.String(),
		TodoID:   todoID,
		GroupID:  owner,
		Members:  e.index.Size(room),
	})
}

func (e *engine) HandleLeaveResource(ctx context.Context, c *hub.Client, todoID string) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if todoID == "" {
		return domain.Validation("todoId is required")
	}
	room := domain.ResourceRoom(todoID)
	userID := c.Session.GetUserID()
	if e.index.Leave(c.ID, room) {
		audit.LogTarget(ctx, audit.ActionLeaveRoom, userID, room.String(), "left todo room")
		if e.typing.Stop(room, userID) {
			e.broadcastRoom(room, domain.NewTypingEvent(domain.MsgTypeUserStoppedTyping, room, userID, c.Session.GetUsername()), c.ID)
		}
	}
	return c.SendMessage(&domain.RoomJoinedMessage{
		Type:     domain.MsgTypeRoomLeft,
		RoomType: room.Kind.String(),
		TodoID:   todoID,
		Members:  e.index.Size(room),
	})
}

func joinError(err error) error {
	if err == membership.ErrConnectionClosed {
		return domain.Validation("connection is closing")
	}
	return domain.Internal(err, "failed to join room")
}
