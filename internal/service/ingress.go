package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/weiawesome/wes-io-live/internal/audit"
	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/metrics"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
)

// HandleServerEvent applies an event published by the REST API.
func (e *engine) HandleServerEvent(ctx context.Context, ev *pubsub.Event) error {
	ctx, span := tracer.Start(ctx, "realtime.server_event")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", ev.Type), attribute.String("event.target", ev.Target))

	var err error
	switch ev.Type {
	case pubsub.EventNewInvitation:
		err = e.onInvitation(ctx, ev)
	case pubsub.EventInvitationResponse:
		err = e.onInvitationResponse(ctx, ev)
	case pubsub.EventNewAssignment:
		err = e.onAssignment(ctx, ev)
	case pubsub.EventTodoCompleted:
		err = e.onTodoCompleted(ctx, ev)
	case pubsub.EventMemberRemoved:
		err = e.onMemberRemoved(ctx, ev)
	case pubsub.EventNotification:
		err = e.onNotification(ctx, ev)
	default:
		metrics.ServerEventsTotal.WithLabelValues("unknown").Inc()
		return domain.BadRequest("unknown server event %q", ev.Type)
	}
	if err != nil {
		return err
	}
	metrics.ServerEventsTotal.WithLabelValues(ev.Type).Inc()
	return nil
}

func (e *engine) onInvitation(ctx context.Context, ev *pubsub.Event) error {
	var p pubsub.InvitationPayload
	if err := ev.UnmarshalPayload(&p); err != nil || p.InviteeID == "" {
		return domain.Validation("malformed %s event", ev.Type)
	}
	inviter := p.InviterName
	if inviter == "" {
		inviter = "Someone"
	}
	group := p.GroupName
	if group == "" {
		group = "a group"
	}
	e.record(ctx, &domain.Notification{
		UserID:  p.InviteeID,
		Type:    domain.NotificationInvitation,
		Title:   "New group invitation",
		Message: inviter + " invited you to " + group,
		Data: map[string]any{
			"invitationId": p.InvitationID,
			"groupId":      p.GroupID,
			"inviterId":    p.InviterID,
		},
	})
	e.forward(p.InviteeID, ev)
	return nil
}

func (e *engine) onInvitationResponse(ctx context.Context, ev *pubsub.Event) error {
	var p pubsub.InvitationResponsePayload
	if err := ev.UnmarshalPayload(&p); err != nil || p.InviterID == "" {
		return domain.Validation("malformed %s event", ev.Type)
	}
	e.forward(p.InviterID, ev)
	if !p.Accepted || p.InviteeID == "" || p.GroupID == "" {
		return nil
	}
	room := domain.GroupRoom(p.GroupID)
	joined := 0
	for _, conn := range e.presence.Connections(p.InviteeID) {
		if ok, err := e.index.Join(conn, room); err == nil && ok {
			joined++
		}
	}
	if joined > 0 {
		audit.LogTarget(ctx, audit.ActionJoinRoom, p.InviteeID, room.String(), "joined group after accepted invitation")
	}
	return nil
}

func (e *engine) onAssignment(ctx context.Context, ev *pubsub.Event) error {
	var p pubsub.AssignmentPayload
	if err := ev.UnmarshalPayload(&p); err != nil || p.AssigneeID == "" {
		return domain.Validation("malformed %s event", ev.Type)
	}
	if p.TodoID != "" && p.GroupID != "" {
		e.todoGroups.Store(p.TodoID, p.GroupID)
	}
	assigner := p.AssignerName
	if assigner == "" {
		assigner = "Someone"
	}
	title := p.TodoTitle
	if title == "" {
		title = "a todo"
	}
	e.record(ctx, &domain.Notification{
		UserID:  p.AssigneeID,
		Type:    domain.NotificationAssignment,
		Title:   "New assignment",
		Message: assigner + " assigned you " + title,
		Data: map[string]any{
			"todoId":     p.TodoID,
			"groupId":    p.GroupID,
			"assignerId": p.AssignerID,
		},
	})
	e.forward(p.AssigneeID, ev)
	return nil
}

func (e *engine) onTodoCompleted(ctx context.Context, ev *pubsub.Event) error {
	var p pubsub.TodoCompletedPayload
	if err := ev.UnmarshalPayload(&p); err != nil || p.TodoID == "" {
		return domain.Validation("malformed %s event", ev.Type)
	}
	if p.GroupID != "" {
		e.todoGroups.Store(p.TodoID, p.GroupID)
	}
	groupID, err := e.resourceGroup(ctx, p.TodoID)
	if err != nil {
		return err
	}
	room := domain.ResourceRoom(p.TodoID)
	unlock := e.lockRoom(room)
	defer unlock()
	e.propagate(room, groupID)
	e.broadcastRoom(room, &domain.ServerEventMessage{Type: ev.Type, Data: ev.Payload}, "")
	return nil
}

// onMemberRemoved revokes a user's group access on every live connection,
// including the todo rooms of that group.
func (e *engine) onMemberRemoved(ctx context.Context, ev *pubsub.Event) error {
	var p pubsub.MemberRemovedPayload
	if err := ev.UnmarshalPayload(&p); err != nil || p.UserID == "" || p.GroupID == "" {
		return domain.Validation("malformed %s event", ev.Type)
	}
	group := domain.GroupRoom(p.GroupID)
	// Bumped before the scan: a connection that authorizes concurrently is
	// either found below or sees the new mark in confirmAccess.
	e.markRevoked(p.UserID)
	var left []domain.RoomKey
	for _, conn := range e.presence.Connections(p.UserID) {
		left = append(left, e.revokeConn(ctx, conn, p.GroupID)...)
	}
	// Typing state is per user, so any remaining indicator in the revoked
	// rooms belongs to the removed user.
	e.clearTyping(p.UserID, "", left)
	audit.LogTarget(ctx, audit.ActionRevoke, p.UserID, group.String(), "group access revoked")
	e.forward(p.UserID, ev)
	return nil
}

func (e *engine) onNotification(ctx context.Context, ev *pubsub.Event) error {
	var p pubsub.NotificationPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		return domain.Validation("malformed %s event", ev.Type)
	}
	if p.UserID == "" {
		p.UserID = ev.Target
	}
	if p.UserID == "" {
		return domain.Validation("malformed %s event", ev.Type)
	}
	e.push(&domain.Notification{
		UserID:    p.UserID,
		Type:      p.Type,
		Title:     p.Title,
		Message:   p.Message,
		Data:      p.Data,
		CreatedAt: e.now(),
	})
	return nil
}

// forward relays ev verbatim to userID's live connections.
func (e *engine) forward(userID string, ev *pubsub.Event) {
	e.sendToUser(userID, &domain.ServerEventMessage{Type: ev.Type, Data: ev.Payload})
}
