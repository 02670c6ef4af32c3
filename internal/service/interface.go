package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/internal/domain"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
)

// Engine is the realtime room and presence engine. Handle methods report
// client errors as *domain.Error; the caller delivers them to the
// originating connection.
type Engine interface {
	HandleAuthenticate(ctx context.Context, c *hub.Client, msg *domain.AuthenticateMessage) error
	HandlePresenceUpdate(ctx context.Context, c *hub.Client, msg *domain.PresenceUpdateMessage) error

	HandleJoinGroup(ctx context.Context, c *hub.Client, groupID string) error
	HandleJoinResource(ctx context.Context, c *hub.Client, todoID, groupID string) error
	HandleLeaveResource(ctx context.Context, c *hub.Client, todoID string) error

	HandleSendMessage(ctx context.Context, c *hub.Client, kind domain.RoomKind, req *domain.SendMessageRequest) error
	HandleEditMessage(ctx context.Context, c *hub.Client, req *domain.EditMessageRequest) error
	HandleDeleteMessage(ctx context.Context, c *hub.Client, req *domain.DeleteMessageRequest) error
	HandleReaction(ctx context.Context, c *hub.Client, msg *domain.ReactionMessage, add bool) error
	HandleMarkRead(ctx context.Context, c *hub.Client, msg *domain.MarkReadMessage) error
	HandleTyping(ctx context.Context, c *hub.Client, room domain.RoomKey, typing bool) error

	HandleCallOffer(ctx context.Context, c *hub.Client, msg *domain.CallOfferMessage) error
	HandleCallAnswer(ctx context.Context, c *hub.Client, msg *domain.CallAnswerMessage) error
	HandleCallICECandidate(ctx context.Context, c *hub.Client, msg *domain.CallICECandidateMessage) error
	HandleCallEnd(ctx context.Context, c *hub.Client, msg *domain.CallEndMessage) error

	HandleDisconnect(ctx context.Context, c *hub.Client) error
	HandleServerEvent(ctx context.Context, ev *pubsub.Event) error

	GetPresence(ctx context.Context, userID string) (*domain.Presence, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
