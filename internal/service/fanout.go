package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/metrics"
	"github.com/weiawesome/wes-io-live/pkg/log"
)

const mentionPreviewLength = 100

// notifyMentions writes a mention notification for every mentioned member of
// the message's group. It runs off the dispatch path.
func (e *engine) notifyMentions(ctx context.Context, msg *domain.Message) {
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		for _, userID := range msg.Mentions {
			ok, err := e.store.IsGroupAuthorized(ctx, userID, msg.GroupID)
			if err != nil {
				l := log.Ctx(ctx)
				l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to check mentioned user")
				continue
			}
			if !ok {
				continue
			}
			e.notify(ctx, mentionNotification(msg, userID))
		}
	}()
}

// notify persists n and pushes it to the user's live connections. A failed
// write still attempts the live push.
func (e *engine) notify(ctx context.Context, n *domain.Notification) {
	if e.record(ctx, n) {
		e.push(n)
	}
}

// record persists n. It reports false only when n could not be given an id.
func (e *engine) record(ctx context.Context, n *domain.Notification) bool {
	if n.ID == "" {
		id, err := e.ids.Generate()
		if err != nil {
			l := log.Ctx(ctx)
			l.Error().Err(err).Msg("failed to generate notification id")
			return false
		}
		n.ID = id
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = e.now()
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues(n.Type, "failed").Inc()
		l := log.Ctx(ctx)
		l.Error().Err(err).
			Str(log.FieldUserID, n.UserID).
			Str("notification_type", n.Type).
			Msg("failed to save notification")
	}
	return true
}

// push delivers n live if the user is connected.
func (e *engine) push(n *domain.Notification) {
	if !e.presence.IsOnline(n.UserID) {
		metrics.NotificationsTotal.WithLabelValues(n.Type, "stored").Inc()
		return
	}
	e.sendToUser(n.UserID, &domain.NotificationMessage{
		Type:             domain.MsgTypeNotification,
		ID:               n.ID,
		NotificationType: n.Type,
		Title:            n.Title,
		Message:          n.Message,
		Data:             n.Data,
		CreatedAt:        n.CreatedAt,
	})
	metrics.NotificationsTotal.WithLabelValues(n.Type, "live").Inc()
}

func mentionNotification(msg *domain.Message, userID string) *domain.Notification {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	data := map[string]any{
		"messageId": msg.ID,
		"roomType":  msg.Room.Kind.String(),
		"groupId":   msg.GroupID,
		"senderId":  msg.SenderID,
	}
	if msg.Room.Kind == domain.RoomResource {
		data["todoId"] = msg.Room.ID
	} else {
		data["roomId"] = msg.Room.ID
	}
	return &domain.Notification{
		UserID:  userID,
		Type:    domain.NotificationMention,
		Title:   sender + " mentioned you",
		Message: preview(msg.Content, mentionPreviewLength),
		Data:    data,
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
